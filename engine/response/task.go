// Package response implements the catch-up response task (C14): answering
// inbound DataRequestMessages from engine/request's counterpart on other
// nodes. VID-share requests are served from the recorded or derived share,
// quorum-proposal requests from the last-proposed-view record, and
// DA-proposal requests are always answered NotFound (the original leaves
// this request kind unimplemented too).
//
// Grounded on original_source/crates/task-impls/src/response.rs's
// NetworkResponseState: valid_sender's stake check, get_or_calc_vid_share's
// compute-then-retry-after-TXNS_TIMEOUT dance, and handle_request's
// per-RequestKind dispatch.
package response

import (
	"context"
	"time"

	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hsconsensus"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
	"github.com/hotshot-consensus/hotshot/vid"
	"github.com/hotshot-consensus/hotshot/wire"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
)

// TxnsTimeout is how long to wait for the payload to show up locally before
// giving up on deriving a VID share for a request that arrived early.
const TxnsTimeout = 100 * time.Millisecond

// TaskState answers catch-up requests addressed to this node.
type TaskState struct {
	consensus        *hsconsensus.Consensus
	quorumMembership membership.Membership
	scheme           vid.Scheme

	bus    *eventbus.Bus
	nodeID ids.NodeID
	sk     hstypes.SK

	logger log.Logger
}

// New constructs a response TaskState.
func New(consensus *hsconsensus.Consensus, quorumMembership membership.Membership, scheme vid.Scheme, bus *eventbus.Bus, nodeID ids.NodeID, sk hstypes.SK, logger log.Logger) *TaskState {
	return &TaskState{
		consensus:        consensus,
		quorumMembership: quorumMembership,
		scheme:           scheme,
		bus:              bus,
		nodeID:           nodeID,
		sk:               sk,
		logger:           logger,
	}
}

// Run drains inbound requests until ctx is cancelled.
func (t *TaskState) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind != eventbus.KindRequestRecv {
				continue
			}
			p := ev.Payload.(eventbus.RequestRecvPayload)
			go t.handle(ctx, p)
		}
	}
}

// handle validates the sender and replies Found=true with the data, or
// Found=false, matching handle_message/valid_sender: the claimed sender must
// sit on the quorum committee and must have actually signed the request with
// that member's key. A refused request (unknown sender or bad signature) gets
// the same Found=false reply as one with nothing to serve; there is no
// separate denied reply.
func (t *TaskState) handle(ctx context.Context, p eventbus.RequestRecvPayload) {
	if !t.quorumMembership.IsQuorumMember(p.Sender) {
		t.reply(p.Sender, &wire.ResponseMessage{Kind: p.Request.Kind, View: p.Request.View, Found: false})
		return
	}
	pk, ok := pkForMember(t.quorumMembership, p.Sender)
	if !ok {
		t.reply(p.Sender, &wire.ResponseMessage{Kind: p.Request.Kind, View: p.Request.View, Found: false})
		return
	}
	sig, err := hstypes.SignatureFromBytes(p.Request.Signature)
	if err != nil || !hstypes.Validate(pk, p.Request.SigningBytes(), sig) {
		t.logger.Error("response: request signature did not verify", "sender", p.Sender, "view", p.Request.View)
		t.reply(p.Sender, &wire.ResponseMessage{Kind: p.Request.Kind, View: p.Request.View, Found: false})
		return
	}

	var resp *wire.ResponseMessage
	switch p.Request.Kind {
	case wire.RequestVidShare:
		resp = t.handleVidRequest(ctx, p.Request.View)
	case wire.RequestProposal:
		resp = t.handleProposalRequest(p.Request.View)
	case wire.RequestDaProposal:
		// Not implemented upstream either; no DA-proposal archive exists to
		// serve this from.
		resp = &wire.ResponseMessage{Kind: p.Request.Kind, View: p.Request.View, Found: false}
	default:
		resp = &wire.ResponseMessage{Kind: p.Request.Kind, View: p.Request.View, Found: false}
	}
	t.reply(p.Sender, resp)
}

// handleVidRequest is get_or_calc_vid_share: if this node hasn't computed
// its own share yet, try once, and if the payload hasn't arrived, wait
// TxnsTimeout and try exactly once more before giving up.
func (t *TaskState) handleVidRequest(ctx context.Context, view hstypes.View) *wire.ResponseMessage {
	if entry, ok := t.consensus.VidShare(view, t.nodeID); ok {
		return foundVidResponse(view, entry)
	}

	if ok, err := t.tryCalculateVidShare(view); err != nil {
		t.logger.Error("response: failed to derive VID share", "view", view, "err", err)
	} else if ok {
		if entry, found := t.consensus.VidShare(view, t.nodeID); found {
			return foundVidResponse(view, entry)
		}
	}

	select {
	case <-ctx.Done():
		return &wire.ResponseMessage{Kind: wire.RequestVidShare, View: view, Found: false}
	case <-time.After(TxnsTimeout):
	}

	if ok, err := t.tryCalculateVidShare(view); err != nil {
		t.logger.Error("response: failed to derive VID share on retry", "view", view, "err", err)
	} else if ok {
		if entry, found := t.consensus.VidShare(view, t.nodeID); found {
			return foundVidResponse(view, entry)
		}
	}
	return &wire.ResponseMessage{Kind: wire.RequestVidShare, View: view, Found: false}
}

func (t *TaskState) tryCalculateVidShare(view hstypes.View) (bool, error) {
	idx := t.quorumMembership.IndexOf(t.nodeID)
	if idx < 0 {
		return false, nil
	}
	total := len(t.quorumMembership.QuorumCommittee())
	return t.consensus.CalculateAndUpdateVid(view, t.nodeID, func(payload hstypes.EncodedTransactions) (hsconsensus.VidShareEntry, error) {
		commitment, shares, err := t.scheme.Disperse(payload, total)
		if err != nil {
			return hsconsensus.VidShareEntry{}, err
		}
		return hsconsensus.VidShareEntry{Share: shares[idx].Data, Commitment: commitment}, nil
	})
}

func foundVidResponse(view hstypes.View, entry hsconsensus.VidShareEntry) *wire.ResponseMessage {
	return &wire.ResponseMessage{
		Kind:  wire.RequestVidShare,
		View:  view,
		Found: true,
		Vid:   &wire.VidDisperseMsg{View: view, Share: entry.Share, Commitment: entry.Commitment},
	}
}

// handleProposalRequest is respond_with_proposal: serve this node's own
// last-proposed value for view, if any.
func (t *TaskState) handleProposalRequest(view hstypes.View) *wire.ResponseMessage {
	proposal, ok := t.consensus.LastProposal(view)
	if !ok {
		return &wire.ResponseMessage{Kind: wire.RequestProposal, View: view, Found: false}
	}
	p := proposal
	return &wire.ResponseMessage{Kind: wire.RequestProposal, View: view, Found: true, Proposal: &p}
}

// pkForMember resolves a quorum member's signing key from its NodeID.
func pkForMember(m membership.Membership, nodeID ids.NodeID) (hstypes.PK, bool) {
	for _, member := range m.QuorumCommittee() {
		if member.NodeID == nodeID {
			return member.PK, true
		}
	}
	return nil, false
}

func (t *TaskState) reply(to ids.NodeID, resp *wire.ResponseMessage) {
	t.bus.Publish(eventbus.Event{Kind: eventbus.KindResponseSend, View: resp.View, Payload: eventbus.ResponseSendPayload{Response: resp, Recipient: to}})
}
