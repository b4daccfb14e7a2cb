// Package voteaccumulator implements the per-view vote accumulator (C4): it
// tallies signed votes of one kind into a single threshold certificate once
// quorum stake is reached. Generalizes the pack's threshold-counting idiom
// (quorum.binaryThreshold's RecordPoll/finalize shape) from repeated-round
// sampling confidence to one-shot BFT stake accumulation.
package voteaccumulator

import (
	"fmt"

	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
	"github.com/luxfi/crypto/bls"
	"github.com/luxfi/ids"
)

// Vote is the minimal shape every vote kind (QuorumVote, DaVote,
// TimeoutVote, ViewSyncVote) satisfies.
type Vote interface {
	ViewOf() hstypes.View
}

// Accumulator tallies votes for a single target view and certificate kind.
// It is not safe for concurrent use by multiple goroutines without external
// synchronization — callers own one accumulator per (VoteKind, View) and
// drive it from a single task goroutine, per §4.4.
type Accumulator struct {
	view      hstypes.View
	committee []membership.Member
	threshold uint64

	signerIdx map[ids.NodeID]int
	recorded  map[ids.NodeID]struct{}
	sigs      []*bls.Signature
	bits      *hstypes.SignerBitSet
	stake     uint64
	done      bool
}

// New returns an accumulator for view, gated by committee's threshold.
func New(view hstypes.View, committee []membership.Member, threshold uint64) *Accumulator {
	idx := make(map[ids.NodeID]int, len(committee))
	for i, m := range committee {
		idx[m.NodeID] = i
	}
	return &Accumulator{
		view:      view,
		committee: committee,
		threshold: threshold,
		signerIdx: idx,
		recorded:  make(map[ids.NodeID]struct{}),
		bits:      hstypes.NewSignerBitSet(len(committee)),
	}
}

// View returns the view this accumulator is collecting votes for.
func (a *Accumulator) View() hstypes.View { return a.view }

// Done reports whether the accumulator has already formed its certificate;
// votes arriving afterward are silently dropped by the caller (§4.4).
func (a *Accumulator) Done() bool { return a.done }

// Accept records one signature-validated vote from nodeID. It enforces
// "PK not previously recorded" and the stake-threshold arithmetic from
// §4.4; signature validity and committee membership must already have been
// checked by the caller before invoking Accept.
func (a *Accumulator) Accept(nodeID ids.NodeID, sig *bls.Signature) (ready bool, err error) {
	if a.done {
		return false, nil
	}
	idx, ok := a.signerIdx[nodeID]
	if !ok {
		return false, fmt.Errorf("voteaccumulator: %s is not a member of the view %d committee", nodeID, a.view)
	}
	if _, dup := a.recorded[nodeID]; dup {
		return false, nil
	}
	a.recorded[nodeID] = struct{}{}
	a.sigs = append(a.sigs, sig)
	a.bits.Set(idx)
	a.stake += a.committee[idx].Stake
	if a.stake >= a.threshold {
		a.done = true
		return true, nil
	}
	return false, nil
}

// Certify aggregates the recorded partial signatures into a
// ThresholdSignature, to be embedded by the caller in its concrete
// certificate type (QuorumCertificate, DaCertificate, ...). Certify must
// only be called once Accept has returned ready=true.
func (a *Accumulator) Certify() (hstypes.ThresholdSignature, error) {
	return hstypes.Aggregate(a.sigs, a.bits)
}
