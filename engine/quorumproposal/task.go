// Package quorumproposal implements the leader-side proposal task (C7): once
// a view's leader holds a DA certificate for the payload, its own VID share,
// and optionally a secondary view-change certificate, it assembles, signs,
// and publishes a QuorumProposal.
//
// Grounded on quorum_proposal/dependency_handle.rs's
// ProposalDependencyHandle, adapted from its batch-collected dependency
// futures (handle_dep_result) to dependency.go's incrementally-updated
// per-view pendingProposal, since this task reacts to bus events as they
// arrive rather than awaiting a fixed set of futures.
package quorumproposal

import (
	"context"

	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hsconsensus"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

// TaskState drives leader-side proposal assembly for one node.
type TaskState struct {
	consensus        *hsconsensus.Consensus
	quorumMembership membership.Membership
	bus              *eventbus.Bus

	nodeID ids.NodeID
	pk     hstypes.PK
	sk     hstypes.SK

	pending *registry

	logger log.Logger
}

// New constructs a quorum-proposal TaskState.
func New(consensus *hsconsensus.Consensus, quorumMembership membership.Membership, bus *eventbus.Bus, nodeID ids.NodeID, pk hstypes.PK, sk hstypes.SK, logger log.Logger) *TaskState {
	return &TaskState{
		consensus:        consensus,
		quorumMembership: quorumMembership,
		bus:              bus,
		nodeID:           nodeID,
		pk:               pk,
		sk:               sk,
		pending:          newRegistry(),
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
			t.handle(ev)
		}
	}
}

func (t *TaskState) handle(ev eventbus.Event) {
	switch ev.Kind {
	case eventbus.KindDaCertFormed:
		t.handleDaCertFormed(ev.Payload.(eventbus.DaCertFormedPayload))
	case eventbus.KindVidDisperseSend:
		t.handleVidDisperseSend(ev.Payload.(eventbus.VidDisperseSendPayload))
	case eventbus.KindViewSyncCertFormed:
		p := ev.Payload.(eventbus.ViewSyncCertFormedPayload)
		t.pending.get(ev.View).setViewSyncCert(p.Certificate)
		t.tryPublish(ev.View)
	case eventbus.KindTimeoutCertFormed:
		p := ev.Payload.(eventbus.TimeoutCertFormedPayload)
		t.pending.get(ev.View).setTimeoutCert(p.Certificate)
		t.tryPublish(ev.View)
	case eventbus.KindQcFormed:
		p := ev.Payload.(eventbus.QcFormedPayload)
		t.tryPublish(p.QC.ViewNumber + 1)
	}
}

// handleDaCertFormed records the payload commitment this node's DA task
// certified, for the view whose leader can now build a proposal around it.
func (t *TaskState) handleDaCertFormed(p eventbus.DaCertFormedPayload) {
	view := p.Certificate.ViewNumber
	if t.quorumMembership.Leader(view).NodeID != t.nodeID {
		return
	}
	payload, ok := t.consensus.SavedPayload(view)
	if !ok {
		t.logger.Debug("quorumproposal: DA cert formed but payload not yet saved", "view", view)
		return
	}
	header := hstypes.BlockHeader{
		PayloadCommitment: p.Certificate.Data.LeafCommit,
		Version:           hstypes.BaseVersion,
		BlockView:         view,
	}
	t.pending.get(view).setCommitment(blockCommitment{
		PayloadCommitment: payload,
		Header:            header,
	})
	t.tryPublish(view)
}

// handleVidDisperseSend notices this node's own share among the shares the
// VID leader dispersed for view, since a leader must hold its own share
// before proposing (it is itself a committee member).
func (t *TaskState) handleVidDisperseSend(p eventbus.VidDisperseSendPayload) {
	if p.Recipient != t.nodeID {
		return
	}
	view := p.Disperse.View
	if t.quorumMembership.Leader(view).NodeID != t.nodeID {
		return
	}
	t.pending.get(view).setVidShare(p.Disperse.Share)
	t.tryPublish(view)
}

// tryPublish builds and publishes the proposal for view once its pending
// entry has everything required, mirroring publish_proposal: locate the
// parent leaf via the current high QC, derive the new leaf, sign its
// commit, record it as this node's last proposal, and publish.
func (t *TaskState) tryPublish(view hstypes.View) {
	pending := t.pending.get(view)
	highQC := t.consensus.HighQC()
	if !pending.ready(highQC.ViewNumber) {
		return
	}

	parent, ok := t.consensus.SavedLeaf(highQC.Data.LeafCommit)
	if !ok {
		t.logger.Debug("quorumproposal: parent leaf for high QC not yet known, deferring", "view", view)
		return
	}
	parentCommit, err := parent.Commit()
	if err != nil {
		t.logger.Error("quorumproposal: failed to commit parent leaf", "view", view, "err", err)
		return
	}

	commitment, vidShare, cert := pending.snapshot()
	header := commitment.Header
	header.VIDCommon = vidShare

	proposal := hstypes.QuorumProposal{
		BlockHeader:         header,
		View:                view,
		JustifyQC:           highQC,
		ProposalCertificate: cert,
	}
	leaf := hstypes.LeafFromProposal(proposal, parentCommit)
	leafCommit, err := leaf.Commit()
	if err != nil {
		t.logger.Error("quorumproposal: failed to commit new leaf", "view", view, "err", err)
		return
	}
	if leaf.ParentCommit != parentCommit {
		t.logger.Error("quorumproposal: derived leaf does not chain to the expected parent", "view", view)
		return
	}

	sig, err := hstypes.Sign(t.sk, leafCommit[:])
	if err != nil {
		t.logger.Error("quorumproposal: failed to sign proposal", "view", view, "err", err)
		return
	}
	sigBytes := hstypes.SigBytes(hstypes.SignatureToBytes(sig))
	signed := hstypes.SignedProposal{
		Proposal:   proposal,
		LeafCommit: leafCommit,
		Signature:  &sigBytes,
	}

	if !t.consensus.UpdateLastProposedView(signed) {
		t.logger.Debug("quorumproposal: a proposal for this view was already sent", "view", view)
		t.pending.delete(view)
		return
	}

	t.bus.Publish(eventbus.Event{
		Kind:    eventbus.KindQuorumProposalSend,
		View:    view,
		Payload: eventbus.QuorumProposalSendPayload{Proposal: signed},
	})
	t.pending.delete(view)
}
