package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Hash is a hex SHA-256 digest used for item sets, inputs and run fingerprints
type Hash string

// NewHash hashes raw bytes
func NewHash(data []byte) Hash {
	sum := sha256.Sum256(data)
	return Hash(hex.EncodeToString(sum[:]))
}

func (h Hash) String() string {
	return string(h)
}

// Short returns the first 12 hex characters, enough to tell runs apart in logs
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// IsEmpty reports whether the hash is unset
func (h Hash) IsEmpty() bool {
	return h == ""
}

// HashOfStrings hashes a set of names independent of their order
func HashOfStrings(values []string) Hash {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return NewHash([]byte(strings.Join(sorted, "\x1f")))
}
