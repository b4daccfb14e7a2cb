// Package da implements the DA task (C5): committee members validate and
// vote on the leader's DA proposal; the leader collects votes into a
// DaCertificate once committee stake crosses threshold. Grounded on
// task-impls::da's handle() state machine, adapted from its
// Arc<RwLock<Consensus>>/async_broadcast shape to hsconsensus.Consensus
// plus eventbus.Bus.
package da

import (
	"bytes"
	"context"

	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hsconsensus"
	"github.com/hotshot-consensus/hotshot/hsstorage"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
	"github.com/hotshot-consensus/hotshot/vid"
	"github.com/hotshot-consensus/hotshot/voteaccumulator"
	"github.com/hotshot-consensus/hotshot/wire"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

// TaskState drives the DA sub-protocol for one node.
type TaskState struct {
	curView hstypes.View

	consensus        *hsconsensus.Consensus
	daMembership     membership.Membership
	quorumMembership membership.Membership
	scheme           vid.Scheme
	storage          hsstorage.Storage
	bus              *eventbus.Bus

	nodeID ids.NodeID
	pk     hstypes.PK
	sk     hstypes.SK

	votes *voteaccumulator.Registry

	logger log.Logger
}

// New constructs a DA TaskState for nodeID.
func New(
	consensus *hsconsensus.Consensus,
	daMembership, quorumMembership membership.Membership,
	scheme vid.Scheme,
	storage hsstorage.Storage,
	bus *eventbus.Bus,
	nodeID ids.NodeID,
	pk hstypes.PK,
	sk hstypes.SK,
	logger log.Logger,
) *TaskState {
	return &TaskState{
		consensus:        consensus,
		daMembership:     daMembership,
		quorumMembership: quorumMembership,
		scheme:           scheme,
		storage:          storage,
		bus:              bus,
		nodeID:           nodeID,
		pk:               pk,
		sk:               sk,
		votes:            voteaccumulator.NewRegistry(),
		logger:           logger,
	}
}

// Run drains events until ctx is cancelled or the bus closes the channel.
func (t *TaskState) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			t.handle(ctx, ev)
		}
	}
}

func (t *TaskState) handle(ctx context.Context, ev eventbus.Event) {
	switch ev.Kind {
	case eventbus.KindDaProposalRecv:
		t.handleProposalRecv(ev.Payload.(eventbus.DaProposalRecvPayload))
	case eventbus.KindDaProposalValidated:
		t.handleProposalValidated(ctx, ev.Payload.(eventbus.DaProposalValidatedPayload))
	case eventbus.KindDaVoteRecv:
		t.handleVoteRecv(ev.Payload.(eventbus.DaVoteRecvPayload))
	case eventbus.KindViewChange:
		t.handleViewChange(ev.Payload.(eventbus.ViewChangePayload))
	case eventbus.KindBlockRecv:
		t.handleBlockRecv(ev.Payload.(eventbus.BlockRecvPayload))
	}
}

// handleProposalRecv is the Rust task's DaProposalRecv arm: check freshness,
// leader identity and signature, then republish as validated.
func (t *TaskState) handleProposalRecv(p eventbus.DaProposalRecvPayload) {
	view := p.Proposal.View

	if t.curView != hstypes.GenesisView && view+1 < t.curView {
		t.logger.Warn("da: discarding proposal more than one view stale", "view", view, "curView", t.curView)
		return
	}
	if _, ok := t.consensus.SavedPayload(view); ok {
		t.logger.Warn("da: already have a payload for view, discarding duplicate proposal", "view", view)
		return
	}

	leader := t.daMembership.DALeader(view)
	if leader.NodeID != p.Sender {
		t.logger.Error("da: proposal sender is not the DA leader for view", "view", view, "sender", p.Sender)
		return
	}

	// Cross-check the leader's claimed commitment against the one this
	// node independently derives from the same VID scheme (§4.5), rather
	// than trusting the leader's PayloadCommitment field verbatim.
	wantCommitment, err := t.scheme.Commit(p.Proposal.EncodedTxns)
	if err != nil {
		t.logger.Error("da: failed to derive expected payload commitment", "view", view, "err", err)
		return
	}
	if !bytes.Equal(wantCommitment, p.Proposal.PayloadCommitment) {
		t.logger.Error("da: leader's payload commitment does not match the VID-derived commitment", "view", view)
		return
	}

	sig, err := hstypes.SignatureFromBytes(p.Proposal.LeaderSignature)
	if err != nil || !hstypes.Validate(leader.PK, wantCommitment, sig) {
		t.logger.Error("da: could not verify DA proposal signature", "view", view)
		return
	}

	t.bus.Publish(eventbus.Event{
		Kind:    eventbus.KindDaProposalValidated,
		View:    view,
		Payload: eventbus.DaProposalValidatedPayload{Proposal: p.Proposal, Sender: p.Sender},
	})
}

// handleProposalValidated is the Rust task's DaProposalValidated arm: if we
// sit on the DA committee, persist the proposal, then sign and broadcast a
// vote; a node outside the DA committee does neither.
func (t *TaskState) handleProposalValidated(ctx context.Context, p eventbus.DaProposalValidatedPayload) {
	view := p.Proposal.View
	if t.consensus.CurView() > view+1 {
		t.logger.Debug("da: validated proposal is too old now", "view", view, "curView", t.consensus.CurView())
		return
	}

	if !t.daMembership.IsDAMember(t.nodeID) {
		t.logger.Debug("da: not on the DA committee for view", "view", view)
		return
	}

	record := hsstorage.DaProposalRecord{
		View:            view,
		EncodedTxns:     p.Proposal.EncodedTxns,
		LeaderSignature: p.Proposal.LeaderSignature,
	}
	copy(record.PayloadCommitment[:], p.Proposal.PayloadCommitment)
	if err := t.storage.AppendDA(ctx, view, record); err != nil {
		t.logger.Error("da: failed to persist DA proposal, aborting vote", "view", view, "err", err)
		return
	}

	commitment := ids.ID{}
	copy(commitment[:], p.Proposal.PayloadCommitment)

	sig, err := hstypes.Sign(t.sk, commitment[:])
	if err != nil {
		t.logger.Error("da: failed to sign DA vote", "view", view, "err", err)
		return
	}
	vote := hstypes.DaVote{
		View:              view,
		PayloadCommitment: commitment,
		Signer:            t.pk,
		Signature:         hstypes.PartialSignature{Signer: t.pk, Sig: hstypes.SignatureToBytes(sig)},
	}
	t.bus.Publish(eventbus.Event{Kind: eventbus.KindDaVoteSend, View: view, Payload: eventbus.DaVoteSendPayload{Vote: vote}})

	if err := t.consensus.UpdateValidatedStateMap(view, hstypes.DaEntry(commitment)); err != nil {
		t.logger.Debug("da: validated state map update skipped", "view", view, "err", err)
	}
	if err := t.consensus.UpdateSavedPayloads(view, p.Proposal.EncodedTxns); err != nil {
		t.logger.Debug("da: saved payload update skipped", "view", view, "err", err)
	}
}

// handleVoteRecv is the Rust task's DaVoteRecv arm: only the DA leader
// collects votes, via a fresh accumulator per view.
func (t *TaskState) handleVoteRecv(p eventbus.DaVoteRecvPayload) {
	view := p.Vote.View
	leader := t.daMembership.DALeader(view)
	if leader.NodeID != t.nodeID {
		t.logger.Error("da: received a vote for a view we don't lead", "view", view)
		return
	}

	acc := t.votes.For(view, func() *voteaccumulator.Accumulator {
		return voteaccumulator.New(view, t.daMembership.DACommittee(), t.daMembership.DAThreshold())
	})
	if acc == nil || acc.Done() {
		return
	}

	sig, err := hstypes.SignatureFromBytes(p.Vote.Signature.Sig)
	if err != nil {
		t.logger.Error("da: malformed vote signature", "view", view, "err", err)
		return
	}

	ready, err := acc.Accept(signerNodeID(t.daMembership, p.Vote.Signer), sig)
	if err != nil {
		t.logger.Error("da: could not accept vote", "view", view, "err", err)
		return
	}
	if !ready {
		return
	}

	ts, err := acc.Certify()
	if err != nil {
		t.logger.Error("da: failed to certify DA votes", "view", view, "err", err)
		return
	}
	cert := hstypes.DaCertificate{
		Data:       hstypes.CertData{LeafCommit: p.Vote.PayloadCommitment, View: view},
		ViewNumber: view,
		Signature:  ts,
	}
	t.consensus.UpdateSavedDaCerts(view, cert)
	t.bus.Publish(eventbus.Event{Kind: eventbus.KindDaCertFormed, View: view, Payload: eventbus.DaCertFormedPayload{Certificate: cert}})
}

func (t *TaskState) handleViewChange(p eventbus.ViewChangePayload) {
	if t.curView != hstypes.GenesisView && t.curView >= p.View {
		return
	}
	t.curView = p.View
}

// handleBlockRecv is the Rust task's BlockRecv arm: the DA leader for the
// next view signs the encoded transactions and broadcasts its proposal.
func (t *TaskState) handleBlockRecv(p eventbus.BlockRecvPayload) {
	commitment, err := t.scheme.Commit(p.EncodedTxns)
	if err != nil {
		t.logger.Error("da: failed to derive payload commitment", "view", p.View, "err", err)
		return
	}
	sig, err := hstypes.Sign(t.sk, commitment)
	if err != nil {
		t.logger.Error("da: failed to sign block payload", "view", p.View, "err", err)
		return
	}
	proposal := &wire.DaProposal{
		View:              p.View,
		EncodedTxns:       p.EncodedTxns,
		PayloadCommitment: commitment,
		LeaderSignature:   hstypes.SignatureToBytes(sig),
	}
	t.bus.Publish(eventbus.Event{Kind: eventbus.KindDaProposalSend, View: p.View, Payload: eventbus.DaProposalSendPayload{Proposal: proposal}})
}

// signerNodeID resolves a vote's bls PK back to its NodeID via the
// committee roster, since PartialSignature carries the key, not the
// identity, on the wire.
func signerNodeID(m membership.Membership, pk hstypes.PK) ids.NodeID {
	for _, member := range m.DACommittee() {
		if member.PK == pk {
			return member.NodeID
		}
	}
	return ids.NodeID{}
}
