// Package quorumproposalrecv implements the quorum-proposal validation task
// (C8): on receiving a proposal, check its justify QC, locate its parent
// leaf, persist a new high QC if the proposal carries one, and then either
// fully validate the proposal against the safety/liveness rule or, if the
// parent leaf isn't available locally, accept it on liveness alone pending
// a later catch-up.
//
// Grounded on quorum_proposal_recv/handlers.rs's
// handle_quorum_proposal_recv, adapted from its Arc<RwLock<Consensus>> +
// separate Storage actor shape to hsconsensus.Consensus plus
// hsstorage.Storage.
package quorumproposalrecv

import (
	"context"

	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hsconsensus"
	"github.com/hotshot-consensus/hotshot/hsstorage"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
	"github.com/luxfi/log"
)

// TaskState drives quorum proposal validation for one node.
type TaskState struct {
	curView hstypes.View

	consensus        *hsconsensus.Consensus
	quorumMembership membership.Membership
	storage          hsstorage.Storage
	bus              *eventbus.Bus

	logger log.Logger
}

// New constructs a quorum-proposal-receive TaskState.
func New(consensus *hsconsensus.Consensus, quorumMembership membership.Membership, storage hsstorage.Storage, bus *eventbus.Bus, logger log.Logger) *TaskState {
	return &TaskState{consensus: consensus, quorumMembership: quorumMembership, storage: storage, bus: bus, logger: logger}
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
			if ev.Kind == eventbus.KindQuorumProposalRecv {
				t.handle(ctx, ev.Payload.(eventbus.QuorumProposalRecvPayload))
			} else if ev.Kind == eventbus.KindViewChange {
				t.curView = ev.Payload.(eventbus.ViewChangePayload).View
			}
		}
	}
}

// handle implements the 7-step procedure from handle_quorum_proposal_recv.
func (t *TaskState) handle(ctx context.Context, p eventbus.QuorumProposalRecvPayload) {
	proposal := p.Proposal.Proposal
	view := proposal.View
	committee := membership.PublicKeys(t.quorumMembership.QuorumCommittee())

	// Step 1: validate_proposal_view_and_certs — sender is the view's actual
	// leader, the proposal isn't stale, its justify QC is for the immediately
	// preceding view, and any attached secondary certificate is valid for
	// the view it claims to cover.
	if !t.validateProposalViewAndCerts(p, view, committee) {
		return
	}

	// Step 2: justify QC must validate against the quorum committee.
	justifyQC := proposal.JustifyQC
	if !justifyQC.IsValidCert(committee) {
		t.logger.Error("quorumproposalrecv: invalid justify QC", "view", view)
		if t.consensus.Metrics() != nil {
			t.consensus.Metrics().InvalidQC.Inc()
		}
		return
	}

	// Step 3: advance cur_view if this proposal's view is newer.
	if view > t.curView {
		t.curView = view
		t.bus.Publish(eventbus.Event{Kind: eventbus.KindViewChange, View: view, Payload: eventbus.ViewChangePayload{View: view}})
	}

	// Step 4: locate the parent leaf by the justify QC's commit.
	parent, haveParent := t.consensus.SavedLeaf(justifyQC.Data.LeafCommit)

	// Step 5: a strictly newer justify QC must be durable before anything
	// votes on it.
	if justifyQC.ViewNumber > t.consensus.HighQC().ViewNumber {
		if err := t.storage.UpdateHighQC(ctx, justifyQC); err != nil {
			t.logger.Error("quorumproposalrecv: failed to persist high QC, not voting", "view", view, "err", err)
			return
		}
	}
	t.consensus.UpdateHighQC(justifyQC)
	t.bus.Publish(eventbus.Event{Kind: eventbus.KindQcFormed, View: justifyQC.ViewNumber, Payload: eventbus.QcFormedPayload{QC: justifyQC}})

	// Step 6: no locally known parent leaf — accept on liveness alone and
	// let the request/response catch-up protocol fetch the parent later.
	if !haveParent {
		t.acceptLiveness(p.Proposal, view)
		return
	}

	// Step 7: full safety-and-liveness validation against the known
	// parent, per §4.8.
	t.acceptFull(p.Proposal, parent, view)
}

// validateProposalViewAndCerts implements validate_proposal_view_and_certs:
// the proposal must come from view's actual leader, must not be stale
// relative to this node's current view, its justify QC must be for the
// immediately preceding view, and any attached secondary certificate must
// itself be valid for the view it claims to cover.
func (t *TaskState) validateProposalViewAndCerts(p eventbus.QuorumProposalRecvPayload, view hstypes.View, committee []hstypes.PK) bool {
	leader := t.quorumMembership.Leader(view)
	if leader.NodeID != p.Sender {
		t.logger.Error("quorumproposalrecv: proposal not from the expected leader", "view", view, "sender", p.Sender)
		return false
	}

	if view < t.curView {
		t.logger.Debug("quorumproposalrecv: discarding stale proposal", "view", view, "cur_view", t.curView)
		return false
	}

	proposal := p.Proposal.Proposal
	if view > hstypes.GenesisView && proposal.JustifyQC.ViewNumber != view-1 {
		t.logger.Error("quorumproposalrecv: justify QC is not for the preceding view", "view", view, "justify_qc_view", proposal.JustifyQC.ViewNumber)
		return false
	}

	cert := proposal.ProposalCertificate
	if cert.Timeout != nil {
		if cert.Timeout.ViewNumber != view-1 || !cert.Timeout.IsValidCert(committee) {
			t.logger.Error("quorumproposalrecv: invalid timeout certificate", "view", view)
			return false
		}
	}
	if cert.ViewSync != nil {
		if cert.ViewSync.ViewNumber != view || !cert.ViewSync.IsValidCert(committee) {
			t.logger.Error("quorumproposalrecv: invalid view-sync certificate", "view", view)
			return false
		}
	}
	return true
}

// acceptLiveness mirrors validate_proposal_liveness: store the leaf purely
// on the strength of a fresh justify QC (view > locked view), without the
// full chain-contiguity check that requires the parent.
func (t *TaskState) acceptLiveness(sp hstypes.SignedProposal, view hstypes.View) {
	if sp.Proposal.JustifyQC.ViewNumber <= t.consensus.LockedView() {
		t.logger.Warn("quorumproposalrecv: liveness check failed, discarding proposal", "view", view)
		return
	}
	leaf := hstypes.LeafFromProposal(sp.Proposal, sp.Proposal.JustifyQC.Data.LeafCommit)
	commit, err := t.consensus.UpdateSavedLeaves(leaf)
	if err != nil {
		t.logger.Error("quorumproposalrecv: failed to commit leaf", "view", view, "err", err)
		return
	}
	if err := t.consensus.UpdateValidatedStateMap(view, hstypes.LeafEntry(commit, nil, nil)); err != nil {
		t.logger.Debug("quorumproposalrecv: validated state map update skipped", "view", view, "err", err)
	}
}

// acceptFull is the "parent leaf is known" path: commit the new leaf,
// record it in the state map, and publish it as validated so the vote task
// (C9) can decide whether to vote.
func (t *TaskState) acceptFull(sp hstypes.SignedProposal, parent *hstypes.Leaf, view hstypes.View) {
	// Liveness: a justify QC newer than the lock. Safety: otherwise the
	// parent must be the locked leaf itself, i.e. sit at the locked view.
	locked := t.consensus.LockedView()
	safe := sp.Proposal.JustifyQC.ViewNumber > locked || parent.View == locked
	if !safe {
		t.logger.Warn("quorumproposalrecv: safety check failed, discarding proposal", "view", view)
		return
	}
	leaf := hstypes.LeafFromProposal(sp.Proposal, sp.Proposal.JustifyQC.Data.LeafCommit)
	commit, err := t.consensus.UpdateSavedLeaves(leaf)
	if err != nil {
		t.logger.Error("quorumproposalrecv: failed to commit leaf", "view", view, "err", err)
		return
	}
	if err := t.consensus.UpdateValidatedStateMap(view, hstypes.LeafEntry(commit, nil, nil)); err != nil {
		t.logger.Debug("quorumproposalrecv: validated state map update skipped", "view", view, "err", err)
	}
	t.bus.Publish(eventbus.Event{
		Kind:    eventbus.KindQuorumProposalValidated,
		View:    view,
		Payload: eventbus.QuorumProposalValidatedPayload{Proposal: sp, Leaf: leaf},
	})
}
