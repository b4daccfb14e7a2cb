// Package vid implements the Verifiable Information Dispersal scheme (C6):
// splitting an encoded block payload into per-node shares plus a commitment
// that every share can be checked against, so no node needs the full
// payload to validate that its share belongs to the proposed block.
package vid

import (
	"crypto/sha256"
	"fmt"

	"github.com/hotshot-consensus/hotshot/hstypes"
)

// Share is one node's slice of a dispersed payload.
type Share struct {
	Index int
	Data  []byte
}

// Scheme disperses a payload into per-recipient shares and verifies a
// share against its commitment. Disperse/VerifyShare/Commit are pure
// functions of their inputs so every node can independently reverify
// without access to the leader's state. Commit lets a task that only needs
// the commitment (not the shares themselves, e.g. the DA sub-protocol)
// derive exactly the value Disperse would have committed to, so a DA
// certificate and its VID dispersal are provably tied to the same payload.
type Scheme interface {
	Disperse(payload hstypes.EncodedTransactions, numShares int) (commitment []byte, shares []Share, err error)
	VerifyShare(commitment []byte, share Share, totalShares int) bool
	Commit(payload hstypes.EncodedTransactions) ([]byte, error)
}

// naiveScheme implements Scheme by splitting the payload into contiguous
// byte ranges and committing to the whole payload with SHA-256; it trades
// the erasure-coding recoverability a production VID scheme offers for a
// small, auditable reference implementation.
type naiveScheme struct{}

// NewNaiveScheme returns a Scheme with no real dispersal redundancy,
// suitable for tests and for deployments where payload reconstruction from
// a quorum of shares is handled out of band.
func NewNaiveScheme() Scheme {
	return naiveScheme{}
}

func (s naiveScheme) Disperse(payload hstypes.EncodedTransactions, numShares int) ([]byte, []Share, error) {
	if numShares <= 0 {
		return nil, nil, fmt.Errorf("vid: numShares must be positive, got %d", numShares)
	}
	commitment, err := s.Commit(payload)
	if err != nil {
		return nil, nil, err
	}

	chunkSize := (len(payload) + numShares - 1) / numShares
	if chunkSize == 0 {
		chunkSize = 1
	}
	shares := make([]Share, 0, numShares)
	for i := 0; i < numShares; i++ {
		start := i * chunkSize
		if start > len(payload) {
			start = len(payload)
		}
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		data := make([]byte, end-start)
		copy(data, payload[start:end])
		shares = append(shares, Share{Index: i, Data: data})
	}
	return commitment, shares, nil
}

func (naiveScheme) VerifyShare(commitment []byte, share Share, totalShares int) bool {
	// The naive scheme commits to the whole payload rather than per-share,
	// so VerifyShare can only check structural well-formedness here; full
	// payload verification happens once enough shares are reassembled.
	return len(commitment) == sha256.Size && share.Index >= 0 && share.Index < totalShares
}

// Commit derives the same whole-payload SHA-256 commitment Disperse would
// produce, without needing a recipient count or generating shares.
func (naiveScheme) Commit(payload hstypes.EncodedTransactions) ([]byte, error) {
	sum := sha256.Sum256(payload)
	return sum[:], nil
}
