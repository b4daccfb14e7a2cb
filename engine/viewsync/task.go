// Package viewsync implements the view-sync sub-protocol (C11): once the
// timeout task (C12) has seen too many consecutive timeouts on one view, it
// escalates into a three-round PreCommit/Commit/Finalize vote exchange, each
// round accumulated independently; a formed Finalize certificate unblocks
// the quorum-proposal task's dependency wait (engine/quorumproposal).
//
// Grounded on the same networking/timeout/manager.go-derived "arm, collect,
// escalate" shape as engine/timeout, with each of the three rounds getting
// its own voteaccumulator.Registry since a single Registry (per §4.4) only
// ever holds one live accumulator per view and these three rounds for the
// same view must progress concurrently rather than clobbering each other.
package viewsync

import (
	"context"

	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
	"github.com/hotshot-consensus/hotshot/voteaccumulator"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

// TaskState drives one node's participation in the view-sync sub-protocol.
type TaskState struct {
	quorumMembership membership.Membership
	bus              *eventbus.Bus

	nodeID ids.NodeID
	pk     hstypes.PK
	sk     hstypes.SK

	// One registry per round: PreCommit/Commit/Finalize votes for the same
	// view must be tallied independently and concurrently.
	preCommit *voteaccumulator.Registry
	commit    *voteaccumulator.Registry
	finalize  *voteaccumulator.Registry

	logger log.Logger
}

// New constructs a view-sync TaskState.
func New(quorumMembership membership.Membership, bus *eventbus.Bus, nodeID ids.NodeID, pk hstypes.PK, sk hstypes.SK, logger log.Logger) *TaskState {
	return &TaskState{
		quorumMembership: quorumMembership,
		bus:              bus,
		nodeID:           nodeID,
		pk:               pk,
		sk:               sk,
		preCommit:        voteaccumulator.NewRegistry(),
		commit:           voteaccumulator.NewRegistry(),
		finalize:         voteaccumulator.NewRegistry(),
		logger:           logger,
	}
}

// Run drains events until ctx is cancelled.
func (t *TaskState) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case eventbus.KindViewSyncTimeout:
				t.castVote(ev.Payload.(eventbus.ViewSyncTimeoutPayload))
			case eventbus.KindViewSyncVoteRecv:
				t.handleVoteRecv(ev.Payload.(eventbus.ViewSyncVoteRecvPayload))
			}
		}
	}
}

// castVote signs and broadcasts this node's vote for the given round.
func (t *TaskState) castVote(p eventbus.ViewSyncTimeoutPayload) {
	t.sign(p.View, p.Phase, p.Round)
}

func (t *TaskState) sign(view hstypes.View, phase hstypes.ViewSyncPhase, round uint64) {
	msg := certMsgBytes(view, phase, round)
	sig, err := hstypes.Sign(t.sk, msg)
	if err != nil {
		t.logger.Error("viewsync: failed to sign vote", "view", view, "phase", phase, "err", err)
		return
	}
	vote := hstypes.ViewSyncVote{
		View:      view,
		Phase:     phase,
		Round:     round,
		Signer:    t.pk,
		Signature: hstypes.PartialSignature{Signer: t.pk, Sig: hstypes.SignatureToBytes(sig)},
	}
	t.bus.Publish(eventbus.Event{Kind: eventbus.KindViewSyncVoteRecv, View: view, Payload: eventbus.ViewSyncVoteRecvPayload{Vote: vote}})
}

// handleVoteRecv accumulates a vote into the registry for its round. Only
// the view's successor's leader ("relay") collects, mirroring
// engine/timeout's collector choice; forming PreCommit or Commit advances
// this node directly into casting the next round's vote (the full
// multi-node relay broadcast of an intermediate certificate to every peer
// is the network bridge's job, C15), while forming Finalize publishes
// ViewSyncCertFormed for the quorum-proposal task to consume.
func (t *TaskState) handleVoteRecv(p eventbus.ViewSyncVoteRecvPayload) {
	view := p.Vote.View
	if t.quorumMembership.Leader(view+1).NodeID != t.nodeID {
		return
	}

	var registry *voteaccumulator.Registry
	switch p.Vote.Phase {
	case hstypes.ViewSyncPreCommitPhase:
		registry = t.preCommit
	case hstypes.ViewSyncCommitPhase:
		registry = t.commit
	case hstypes.ViewSyncFinalizePhase:
		registry = t.finalize
	default:
		return
	}

	acc := registry.For(view, func() *voteaccumulator.Accumulator {
		return voteaccumulator.New(view, t.quorumMembership.QuorumCommittee(), t.quorumMembership.QuorumThreshold())
	})
	if acc == nil || acc.Done() {
		return
	}

	sig, err := hstypes.SignatureFromBytes(p.Vote.Signature.Sig)
	if err != nil {
		t.logger.Error("viewsync: malformed vote signature", "view", view, "err", err)
		return
	}
	ready, err := acc.Accept(signerNodeID(t.quorumMembership, p.Vote.Signer), sig)
	if err != nil {
		t.logger.Error("viewsync: could not accept vote", "view", view, "err", err)
		return
	}
	if !ready {
		return
	}

	ts, err := acc.Certify()
	if err != nil {
		t.logger.Error("viewsync: failed to certify votes", "view", view, "phase", p.Vote.Phase, "err", err)
		return
	}
	cert := hstypes.ViewSyncCertificate{
		Data:       hstypes.CertData{LeafCommit: ids.Empty, View: view},
		ViewNumber: view,
		Phase:      p.Vote.Phase,
		Round:      p.Vote.Round,
		Signature:  ts,
	}

	switch p.Vote.Phase {
	case hstypes.ViewSyncPreCommitPhase:
		t.sign(view, hstypes.ViewSyncCommitPhase, p.Vote.Round)
	case hstypes.ViewSyncCommitPhase:
		t.sign(view, hstypes.ViewSyncFinalizePhase, p.Vote.Round)
	case hstypes.ViewSyncFinalizePhase:
		t.bus.Publish(eventbus.Event{Kind: eventbus.KindViewSyncCertFormed, View: view + 1, Payload: eventbus.ViewSyncCertFormedPayload{Certificate: cert}})
	}
}

func certMsgBytes(view hstypes.View, phase hstypes.ViewSyncPhase, round uint64) []byte {
	b := make([]byte, 17)
	v := uint64(view)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
	b[8] = byte(phase)
	for i := 0; i < 8; i++ {
		b[9+i] = byte(round >> (56 - 8*i))
	}
	return b
}

func signerNodeID(m membership.Membership, pk hstypes.PK) ids.NodeID {
	for _, member := range m.QuorumCommittee() {
		if member.PK == pk {
			return member.NodeID
		}
	}
	return ids.NodeID{}
}
