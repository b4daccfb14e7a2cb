// Package quorumvote implements the quorum vote task (C9): once a proposal
// has been fully validated and this node holds both its own VID share and
// the matching DA certificate for the view, it signs and
// sends a QuorumVote; as leader it also collects votes into a QC and, on
// forming one, tries to advance the decided chain.
package quorumvote

import (
	"context"
	"sync"

	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hsconsensus"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
	"github.com/hotshot-consensus/hotshot/voteaccumulator"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

// TaskState drives quorum voting and, when this node is leader, vote
// collection for one node.
type TaskState struct {
	consensus        *hsconsensus.Consensus
	quorumMembership membership.Membership
	bus              *eventbus.Bus

	nodeID ids.NodeID
	pk     hstypes.PK
	sk     hstypes.SK

	votes *voteaccumulator.Registry

	mu      sync.Mutex
	pending map[hstypes.View]*hstypes.Leaf

	logger log.Logger
}

// New constructs a quorum-vote TaskState.
func New(consensus *hsconsensus.Consensus, quorumMembership membership.Membership, bus *eventbus.Bus, nodeID ids.NodeID, pk hstypes.PK, sk hstypes.SK, logger log.Logger) *TaskState {
	return &TaskState{
		consensus:        consensus,
		quorumMembership: quorumMembership,
		bus:              bus,
		nodeID:           nodeID,
		pk:               pk,
		sk:               sk,
		votes:            voteaccumulator.NewRegistry(),
		pending:          make(map[hstypes.View]*hstypes.Leaf),
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
			case eventbus.KindQuorumProposalValidated:
				t.handleValidated(ev.Payload.(eventbus.QuorumProposalValidatedPayload))
			case eventbus.KindQuorumVoteRecv:
				t.handleVoteRecv(ev.Payload.(eventbus.QuorumVoteRecvPayload))
			case eventbus.KindDaCertFormed:
				t.tryVote(ev.Payload.(eventbus.DaCertFormedPayload).Certificate.ViewNumber)
			case eventbus.KindVidShareRecv:
				t.tryVote(ev.Payload.(eventbus.VidShareRecvPayload).Disperse.View)
			}
		}
	}
}

// handleValidated records a freshly validated proposal as a candidate to
// vote for, following the safety rule: the node only votes if it has not
// already voted for a conflicting leaf at this view, which
// UpdateLastProposedView enforces for the node's own proposing but which
// here we approximate by trusting the upstream validation task to have
// already discarded unsafe proposals (§4.8's safety check ran in C8 before
// this event was ever published). It does not vote immediately — §4.9
// conditions (b)/(c) also require this node to hold the matching DA
// certificate and its own VID share for the view, which may still be
// in flight, so tryVote re-checks readiness on every trigger.
func (t *TaskState) handleValidated(p eventbus.QuorumProposalValidatedPayload) {
	if !t.quorumMembership.IsQuorumMember(t.nodeID) {
		return
	}
	t.mu.Lock()
	t.pending[p.Leaf.View] = p.Leaf
	t.mu.Unlock()
	t.tryVote(p.Leaf.View)
}

// tryVote signs and publishes a vote for view's pending leaf once this node
// holds both the matching DA certificate and its own VID share for view
// (§4.9 conditions b/c), and is a no-op otherwise or if nothing is pending.
func (t *TaskState) tryVote(view hstypes.View) {
	t.mu.Lock()
	leaf := t.pending[view]
	t.mu.Unlock()
	if leaf == nil {
		return
	}

	daCert, ok := t.consensus.SavedDaCert(view)
	if !ok || daCert.Data.LeafCommit != leaf.BlockHeader.PayloadCommitment {
		t.logger.Debug("quorumvote: no matching DA certificate yet, not voting", "view", view)
		return
	}
	if _, ok := t.consensus.VidShare(view, t.nodeID); !ok {
		t.logger.Debug("quorumvote: no local VID share yet, not voting", "view", view)
		return
	}

	commit, err := leaf.Commit()
	if err != nil {
		t.logger.Error("quorumvote: failed to commit leaf, not voting", "view", view, "err", err)
		return
	}
	sig, err := hstypes.Sign(t.sk, commit[:])
	if err != nil {
		t.logger.Error("quorumvote: failed to sign vote", "view", view, "err", err)
		return
	}
	vote := hstypes.QuorumVote{
		View:       view,
		LeafCommit: commit,
		Signer:     t.pk,
		Signature:  hstypes.PartialSignature{Signer: t.pk, Sig: hstypes.SignatureToBytes(sig)},
	}
	t.bus.Publish(eventbus.Event{Kind: eventbus.KindQuorumVoteRecv, View: view, Payload: eventbus.QuorumVoteRecvPayload{Vote: vote}})

	t.mu.Lock()
	delete(t.pending, view)
	t.mu.Unlock()
}

// handleVoteRecv collects votes toward a QC when this node is the vote's
// target view's leader, then tries to advance the decided chain on
// formation.
func (t *TaskState) handleVoteRecv(p eventbus.QuorumVoteRecvPayload) {
	view := p.Vote.View
	leader := t.quorumMembership.Leader(view)
	if leader.NodeID != t.nodeID {
		return
	}

	acc := t.votes.For(view, func() *voteaccumulator.Accumulator {
		return voteaccumulator.New(view, t.quorumMembership.QuorumCommittee(), t.quorumMembership.QuorumThreshold())
	})
	if acc == nil || acc.Done() {
		return
	}

	sig, err := hstypes.SignatureFromBytes(p.Vote.Signature.Sig)
	if err != nil {
		t.logger.Error("quorumvote: malformed vote signature", "view", view, "err", err)
		return
	}
	signer := signerNodeID(t.quorumMembership, p.Vote.Signer)
	ready, err := acc.Accept(signer, sig)
	if err != nil {
		t.logger.Error("quorumvote: could not accept vote", "view", view, "err", err)
		return
	}
	if !ready {
		return
	}

	ts, err := acc.Certify()
	if err != nil {
		t.logger.Error("quorumvote: failed to certify votes", "view", view, "err", err)
		return
	}
	qc := hstypes.QuorumCertificate{
		Data:       hstypes.CertData{LeafCommit: p.Vote.LeafCommit, View: view},
		ViewNumber: view,
		Signature:  ts,
	}
	t.consensus.UpdateHighQC(qc)
	t.bus.Publish(eventbus.Event{Kind: eventbus.KindQcFormed, View: view, Payload: eventbus.QcFormedPayload{QC: qc}})

	result, err := t.consensus.TryAdvanceChain(qc)
	if err != nil {
		t.logger.Error("quorumvote: failed to advance chain", "view", view, "err", err)
		return
	}
	if len(result.DecidedLeaves) > 0 {
		t.bus.Publish(eventbus.Event{Kind: eventbus.KindLeafDecided, View: view, Payload: eventbus.LeafDecidedPayload{Leaves: result.DecidedLeaves}})
	}
}

func signerNodeID(m membership.Membership, pk hstypes.PK) ids.NodeID {
	for _, member := range m.QuorumCommittee() {
		if member.PK == pk {
			return member.NodeID
		}
	}
	return ids.NodeID{}
}
