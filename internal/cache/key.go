package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// Key derives a stable cache key from a namespace and a structured input.
// The input is marshaled to JSON, canonicalized per RFC 8785 so that field
// ordering cannot perturb the key, and hashed. The namespace keeps distinct
// stages from colliding within a shared cache.
func Key(namespace string, input any) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return namespace + ":" + hex.EncodeToString(sum[:]), nil
}
