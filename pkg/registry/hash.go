package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Hash is the content hash of a tool: SHA-256 over the input schema, the
// output schema (when present), the name and the description, hex encoded.
func Hash(name, description string, input, output json.RawMessage) string {
	h := sha256.New()
	h.Write(input)
	if len(output) > 0 {
		h.Write(output)
	}
	h.Write([]byte(name))
	h.Write([]byte(description))
	return hex.EncodeToString(h.Sum(nil))
}

// HashPayload hashes an arbitrary payload, such as a raw tools array.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
