package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random hex identifier namespaced by a type prefix
// ("dest", "gren", "chg", "imgop", "user"). An empty prefix yields the
// bare hex.
func NewID(prefix string) string {
	raw := make([]byte, 16)
	_, _ = rand.Read(raw)
	id := hex.EncodeToString(raw)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
