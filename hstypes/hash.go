package hstypes

import "crypto/sha256"

// sha256Sum is the canonical content hash used to derive ids.ID identities
// from encoded consensus objects (leaves, commands, certificate data).
func sha256Sum(b []byte) [32]byte {
	return sha256.Sum256(b)
}
