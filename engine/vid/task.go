// Package videngine implements the VID dispersal task (C6): on receiving the
// block payload for a view it leads, a node splits it into per-member shares
// via vid.Scheme and sends one VidDisperseSend event per recipient (itself
// included, so the leader-proposal task can pick up its own share the same
// way every other committee member does); any node receiving a dispersed
// share verifies it against the commitment and records it in Consensus.
//
// No original_source/task-impls file implements this as a standalone task —
// the Rust source folds VID dispersal into the proposal dependency handle's
// VidDisperseSend branch (quorum_proposal/dependency_handle.rs). Structured
// here as its own task, following engine/da's "leader signs and fans out,
// members verify and record" shape, since the spec names VID dispersal as
// its own sub-protocol (§4.6) distinct from proposal assembly.
package videngine

import (
	"context"

	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hsconsensus"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
	"github.com/hotshot-consensus/hotshot/vid"
	"github.com/hotshot-consensus/hotshot/wire"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

// TaskState drives VID dispersal and share validation for one node.
type TaskState struct {
	consensus        *hsconsensus.Consensus
	quorumMembership membership.Membership
	scheme           vid.Scheme
	bus              *eventbus.Bus

	nodeID ids.NodeID
	pk     hstypes.PK
	sk     hstypes.SK

	logger log.Logger
}

// New constructs a VID TaskState.
func New(consensus *hsconsensus.Consensus, quorumMembership membership.Membership, scheme vid.Scheme, bus *eventbus.Bus, nodeID ids.NodeID, pk hstypes.PK, sk hstypes.SK, logger log.Logger) *TaskState {
	return &TaskState{
		consensus:        consensus,
		quorumMembership: quorumMembership,
		scheme:           scheme,
		bus:              bus,
		nodeID:           nodeID,
		pk:               pk,
		sk:               sk,
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
			case eventbus.KindBlockRecv:
				t.handleBlockRecv(ev.Payload.(eventbus.BlockRecvPayload))
			case eventbus.KindVidShareRecv:
				t.handleShareRecv(ev.Payload.(eventbus.VidShareRecvPayload))
			}
		}
	}
}

// handleBlockRecv is the leader's dispersal step: split the payload into one
// share per quorum member and publish a VidDisperseSend event addressed to
// each, including this node itself.
func (t *TaskState) handleBlockRecv(p eventbus.BlockRecvPayload) {
	if t.quorumMembership.Leader(p.View).NodeID != t.nodeID {
		return
	}
	committee := t.quorumMembership.QuorumCommittee()
	commitment, shares, err := t.scheme.Disperse(p.EncodedTxns, len(committee))
	if err != nil {
		t.logger.Error("videngine: failed to disperse payload", "view", p.View, "err", err)
		return
	}
	sig, err := hstypes.Sign(t.sk, commitment)
	if err != nil {
		t.logger.Error("videngine: failed to sign dispersal", "view", p.View, "err", err)
		return
	}
	sigBytes := hstypes.SignatureToBytes(sig)

	for i, member := range committee {
		msg := &wire.VidDisperseMsg{
			View:              p.View,
			Share:             shares[i].Data,
			Commitment:        commitment,
			PayloadCommitment: p.PayloadCommitment[:],
			LeaderSignature:   sigBytes,
		}
		t.bus.Publish(eventbus.Event{
			Kind:    eventbus.KindVidDisperseSend,
			View:    p.View,
			Payload: eventbus.VidDisperseSendPayload{Recipient: member.NodeID, Disperse: msg},
		})
	}
}

// handleShareRecv verifies and records a share dispersed to this node,
// whether it came from another node's disperse fan-out or this node's own
// leader step looping back to itself.
func (t *TaskState) handleShareRecv(p eventbus.VidShareRecvPayload) {
	leader := t.quorumMembership.Leader(p.Disperse.View)
	if leader.NodeID != p.Sender {
		t.logger.Error("videngine: VID share not from the expected leader", "view", p.Disperse.View, "sender", p.Sender)
		return
	}
	sig, err := hstypes.SignatureFromBytes(p.Disperse.LeaderSignature)
	if err != nil || !hstypes.Validate(leader.PK, p.Disperse.Commitment, sig) {
		t.logger.Error("videngine: could not verify VID dispersal signature", "view", p.Disperse.View)
		return
	}
	committee := t.quorumMembership.QuorumCommittee()
	share := vid.Share{Index: t.quorumMembership.IndexOf(t.nodeID), Data: p.Disperse.Share}
	if !t.scheme.VerifyShare(p.Disperse.Commitment, share, len(committee)) {
		t.logger.Error("videngine: VID share failed verification", "view", p.Disperse.View)
		return
	}
	t.consensus.UpdateVidShares(p.Disperse.View, t.nodeID, hsconsensus.VidShareEntry{
		Share:      p.Disperse.Share,
		Commitment: p.Disperse.Commitment,
	})
}
