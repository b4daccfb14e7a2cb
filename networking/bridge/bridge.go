// Package bridge adapts the task graph's eventbus traffic onto a real
// transport (C15): outbound Send-kind events become AppSender calls,
// inbound AppHandler calls become Recv-kind events back onto the bus.
//
// Grounded on engine/core.AppSender/AppHandler for the send/receive method
// shapes, and on networking/sender/sender.go and networking/handler's
// notifier-pattern for how the teacher separates "what gets sent" from
// "how it reaches the wire". Every message put on the wire is a
// wire.Message, so this package never invents its own framing.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hotshot-consensus/hotshot/engine/core"
	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
	"github.com/hotshot-consensus/hotshot/nettypes"
	"github.com/hotshot-consensus/hotshot/wire"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"
)

// replyKey correlates an inbound AppRequest call with the KindResponseSend
// event engine/response eventually publishes for it. The wire request
// carries no request ID of its own, so (requester, view) stands in — this
// node only ever has one outstanding catch-up request per peer per view.
type replyKey struct {
	peer ids.NodeID
	view hstypes.View
}

// Bridge is both the Requester engine/request depends on and the
// eventbus-to-transport adapter driving outbound sends for every other
// Send-kind event.
type Bridge struct {
	sender           core.AppSender
	bus              *eventbus.Bus
	quorumMembership membership.Membership
	codec            wire.Codec
	nodeID           ids.NodeID

	nextReqID uint32

	mu          sync.Mutex
	outstanding map[uint32]chan *wire.ResponseMessage

	replyMu sync.Mutex
	waiting map[replyKey]chan *wire.ResponseMessage

	logger log.Logger
}

// New constructs a Bridge. sender is the node's real AppSender;
// quorumMembership resolves broadcast recipients and vote collectors.
func New(sender core.AppSender, bus *eventbus.Bus, quorumMembership membership.Membership, nodeID ids.NodeID, logger log.Logger) *Bridge {
	return &Bridge{
		sender:           sender,
		bus:              bus,
		quorumMembership: quorumMembership,
		codec:            wire.NewCodec(),
		nodeID:           nodeID,
		outstanding:      make(map[uint32]chan *wire.ResponseMessage),
		waiting:          make(map[replyKey]chan *wire.ResponseMessage),
		logger:           logger,
	}
}

// Run drains the bus for events that need to leave this node over the
// wire until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.dispatch(ctx, ev)
		}
	}
}

func (b *Bridge) dispatch(ctx context.Context, ev eventbus.Event) {
	switch ev.Kind {
	case eventbus.KindQuorumProposalSend:
		p := ev.Payload.(eventbus.QuorumProposalSendPayload)
		msg := wire.Message{Kind: wire.KindSequencing, Sequencing: &wire.SequencingMessage{
			General: &wire.GeneralConsensusMessage{Proposal: &p.Proposal},
		}}
		b.gossip(ctx, msg, b.allQuorumExceptSelf())
	case eventbus.KindDaProposalSend:
		p := ev.Payload.(eventbus.DaProposalSendPayload)
		msg := wire.Message{Kind: wire.KindSequencing, Sequencing: &wire.SequencingMessage{
			Da: &wire.DaConsensusMessage{Proposal: p.Proposal},
		}}
		b.gossip(ctx, msg, b.daCommitteeExceptSelf())
	case eventbus.KindVidDisperseSend:
		p := ev.Payload.(eventbus.VidDisperseSendPayload)
		msg := wire.Message{Kind: wire.KindSequencing, Sequencing: &wire.SequencingMessage{
			Da: &wire.DaConsensusMessage{VidDisperse: p.Disperse},
		}}
		b.gossipSpecific(ctx, msg, p.Recipient)
	case eventbus.KindDaVoteSend:
		// Unlike the other three vote kinds, a self-cast DA vote is
		// published under its own Send kind rather than directly into
		// DaVoteRecv, so engine/da's accumulator never sees it locally
		// unless this bridge loops it back — including when this node is
		// itself the DA leader.
		p := ev.Payload.(eventbus.DaVoteSendPayload)
		b.bus.Publish(eventbus.Event{Kind: eventbus.KindDaVoteRecv, View: p.Vote.View, Payload: eventbus.DaVoteRecvPayload{Vote: p.Vote}})
		msg := wire.Message{Kind: wire.KindSequencing, Sequencing: &wire.SequencingMessage{
			Da: &wire.DaConsensusMessage{Vote: &p.Vote},
		}}
		b.gossipSpecific(ctx, msg, b.quorumMembership.DALeader(p.Vote.View).NodeID)
	case eventbus.KindQuorumVoteRecv:
		p := ev.Payload.(eventbus.QuorumVoteRecvPayload)
		if b.selfAuthored(p.Vote.Signer) {
			msg := wire.Message{Kind: wire.KindSequencing, Sequencing: &wire.SequencingMessage{
				General: &wire.GeneralConsensusMessage{Vote: &p.Vote},
			}}
			b.gossipSpecific(ctx, msg, b.quorumMembership.Leader(p.Vote.View).NodeID)
		}
	case eventbus.KindTimeoutVoteRecv:
		p := ev.Payload.(eventbus.TimeoutVoteRecvPayload)
		if b.selfAuthored(p.Vote.Signer) {
			msg := wire.Message{Kind: wire.KindSequencing, Sequencing: &wire.SequencingMessage{
				General: &wire.GeneralConsensusMessage{TimeoutVote: &p.Vote},
			}}
			b.gossipSpecific(ctx, msg, b.quorumMembership.Leader(p.Vote.View+1).NodeID)
		}
	case eventbus.KindViewSyncVoteRecv:
		p := ev.Payload.(eventbus.ViewSyncVoteRecvPayload)
		if b.selfAuthored(p.Vote.Signer) {
			msg := wire.Message{Kind: wire.KindSequencing, Sequencing: &wire.SequencingMessage{
				General: &wire.GeneralConsensusMessage{ViewSyncVote: &p.Vote},
			}}
			b.gossipSpecific(ctx, msg, b.quorumMembership.Leader(p.Vote.View+1).NodeID)
		}
	case eventbus.KindResponseSend:
		p := ev.Payload.(eventbus.ResponseSendPayload)
		b.deliverReply(p.Recipient, p.Response)
	}
}

// selfAuthored reports whether this node cast the vote itself, as opposed
// to having just received it from the network: only self-cast votes need
// forwarding, or every node would re-broadcast every vote it observes.
func (b *Bridge) selfAuthored(signer hstypes.PK) bool {
	idx := b.quorumMembership.IndexOf(b.nodeID)
	if idx < 0 {
		return false
	}
	return b.quorumMembership.QuorumCommittee()[idx].PK == signer
}

func (b *Bridge) allQuorumExceptSelf() set.Set[ids.NodeID] {
	s := set.NewSet[ids.NodeID](len(b.quorumMembership.QuorumCommittee()))
	for _, m := range b.quorumMembership.QuorumCommittee() {
		if m.NodeID != b.nodeID {
			s.Add(m.NodeID)
		}
	}
	return s
}

func (b *Bridge) daCommitteeExceptSelf() set.Set[ids.NodeID] {
	s := set.NewSet[ids.NodeID](len(b.quorumMembership.DACommittee()))
	for _, m := range b.quorumMembership.DACommittee() {
		if m.NodeID != b.nodeID {
			s.Add(m.NodeID)
		}
	}
	return s
}

func (b *Bridge) gossip(ctx context.Context, msg wire.Message, recipients set.Set[ids.NodeID]) {
	if recipients.Len() == 0 {
		return
	}
	bytes, err := b.codec.Encode(msg)
	if err != nil {
		b.logger.Error("bridge: failed to encode outbound message", "kind", msg.Kind, "err", err)
		return
	}
	if err := b.sender.SendAppGossip(ctx, recipients, bytes); err != nil {
		b.logger.Warn("bridge: gossip send failed", "kind", msg.Kind, "err", err)
	}
}

func (b *Bridge) gossipSpecific(ctx context.Context, msg wire.Message, recipient ids.NodeID) {
	if recipient == b.nodeID {
		return
	}
	bytes, err := b.codec.Encode(msg)
	if err != nil {
		b.logger.Error("bridge: failed to encode outbound message", "kind", msg.Kind, "err", err)
		return
	}
	if err := b.sender.SendAppGossipSpecific(ctx, set.Of(recipient), bytes); err != nil {
		b.logger.Warn("bridge: addressed send failed", "kind", msg.Kind, "recipient", recipient, "err", err)
	}
}

// RequestData implements engine/request.Requester against the real
// transport: allocate a request ID, hand the bytes to SendAppRequest, and
// block for the matching AppResponse/AppRequestFailed callback.
func (b *Bridge) RequestData(ctx context.Context, peer ids.NodeID, msg *wire.DataRequestMessage) (*wire.ResponseMessage, error) {
	bytes, err := b.codec.Encode(wire.Message{Kind: wire.KindDataRequest, DataRequest: msg})
	if err != nil {
		return nil, nettypes.New(nettypes.KindFailedToSerialize, peer.String(), err)
	}

	reqID := atomic.AddUint32(&b.nextReqID, 1)
	ch := make(chan *wire.ResponseMessage, 1)
	b.mu.Lock()
	b.outstanding[reqID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.outstanding, reqID)
		b.mu.Unlock()
	}()

	if err := b.sender.SendAppRequest(ctx, set.Of(peer), reqID, bytes); err != nil {
		return nil, nettypes.New(nettypes.KindCouldNotDeliver, peer.String(), err)
	}

	select {
	case <-ctx.Done():
		return nil, nettypes.New(nettypes.KindTimeout, peer.String(), ctx.Err())
	case resp := <-ch:
		if resp == nil {
			return nil, nettypes.New(nettypes.KindCouldNotDeliver, peer.String(), fmt.Errorf("request failed or was refused"))
		}
		return resp, nil
	}
}

func (b *Bridge) deliverReply(peer ids.NodeID, resp *wire.ResponseMessage) {
	key := replyKey{peer: peer, view: resp.View}
	b.replyMu.Lock()
	ch, ok := b.waiting[key]
	if ok {
		delete(b.waiting, key)
	}
	b.replyMu.Unlock()
	if ok {
		ch <- resp
	}
}

// AppRequest implements core.AppHandler: decode the request, publish it for
// engine/response, and block (bounded by deadline) for the matching
// KindResponseSend.
func (b *Bridge) AppRequest(ctx context.Context, nodeID ids.NodeID, deadline time.Time, requestBytes []byte) ([]byte, *core.AppError) {
	var msg wire.Message
	if err := b.codec.Decode(requestBytes, &msg); err != nil || msg.Kind != wire.KindDataRequest || msg.DataRequest == nil {
		return nil, &core.AppError{Code: 1, Message: "malformed data request"}
	}
	req := msg.DataRequest

	key := replyKey{peer: nodeID, view: req.View}
	ch := make(chan *wire.ResponseMessage, 1)
	b.replyMu.Lock()
	b.waiting[key] = ch
	b.replyMu.Unlock()
	defer func() {
		b.replyMu.Lock()
		delete(b.waiting, key)
		b.replyMu.Unlock()
	}()

	b.bus.Publish(eventbus.Event{Kind: eventbus.KindRequestRecv, View: req.View, Payload: eventbus.RequestRecvPayload{Request: req, Sender: nodeID}})

	var timer *time.Timer
	if !deadline.IsZero() {
		timer = time.NewTimer(time.Until(deadline))
	} else {
		timer = time.NewTimer(2 * time.Second)
	}
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, &core.AppError{Code: 2, Message: "context cancelled"}
	case <-timer.C:
		return nil, &core.AppError{Code: 3, Message: "response timed out"}
	case resp := <-ch:
		bytes, err := b.codec.Encode(wire.Message{Kind: wire.KindResponse, Response: resp})
		if err != nil {
			return nil, &core.AppError{Code: 4, Message: "failed to encode response"}
		}
		return bytes, nil
	}
}

// AppResponse implements core.AppHandler's completion half of
// SendAppRequest: deliver the decoded response to the blocked RequestData
// caller.
func (b *Bridge) AppResponse(ctx context.Context, nodeID ids.NodeID, requestID uint32, responseBytes []byte) error {
	b.mu.Lock()
	ch, ok := b.outstanding[requestID]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	var msg wire.Message
	if err := b.codec.Decode(responseBytes, &msg); err != nil || msg.Kind != wire.KindResponse || msg.Response == nil {
		ch <- nil
		return nettypes.New(nettypes.KindFailedToDeserialize, nodeID.String(), err)
	}
	ch <- msg.Response
	return nil
}

// AppRequestFailed implements core.AppHandler: unblock RequestData with an
// error instead of leaving it to time out on its own.
func (b *Bridge) AppRequestFailed(ctx context.Context, nodeID ids.NodeID, requestID uint32, appErr *core.AppError) error {
	b.mu.Lock()
	ch, ok := b.outstanding[requestID]
	b.mu.Unlock()
	if ok {
		ch <- nil
	}
	return nil
}

// AppGossip implements core.AppHandler: decode the wire message and
// republish its contents as the matching Recv-kind event.
func (b *Bridge) AppGossip(ctx context.Context, nodeID ids.NodeID, gossipBytes []byte) error {
	var msg wire.Message
	if err := b.codec.Decode(gossipBytes, &msg); err != nil {
		return nettypes.New(nettypes.KindFailedToDeserialize, nodeID.String(), err)
	}
	if msg.Kind != wire.KindSequencing || msg.Sequencing == nil {
		return nettypes.New(nettypes.KindFailedToDeserialize, nodeID.String(), fmt.Errorf("unexpected gossip message kind %d", msg.Kind))
	}
	seq := msg.Sequencing

	if g := seq.General; g != nil {
		switch {
		case g.Proposal != nil:
			b.bus.Publish(eventbus.Event{Kind: eventbus.KindQuorumProposalRecv, View: g.Proposal.Proposal.View, Payload: eventbus.QuorumProposalRecvPayload{Proposal: *g.Proposal, Sender: nodeID}})
		case g.Vote != nil:
			b.bus.Publish(eventbus.Event{Kind: eventbus.KindQuorumVoteRecv, View: g.Vote.View, Payload: eventbus.QuorumVoteRecvPayload{Vote: *g.Vote}})
		case g.TimeoutVote != nil:
			b.bus.Publish(eventbus.Event{Kind: eventbus.KindTimeoutVoteRecv, View: g.TimeoutVote.View, Payload: eventbus.TimeoutVoteRecvPayload{Vote: *g.TimeoutVote}})
		case g.ViewSyncVote != nil:
			b.bus.Publish(eventbus.Event{Kind: eventbus.KindViewSyncVoteRecv, View: g.ViewSyncVote.View, Payload: eventbus.ViewSyncVoteRecvPayload{Vote: *g.ViewSyncVote}})
		default:
			return fmt.Errorf("bridge: empty general consensus message from %s", nodeID)
		}
		return nil
	}

	if d := seq.Da; d != nil {
		switch {
		case d.Proposal != nil:
			b.bus.Publish(eventbus.Event{Kind: eventbus.KindDaProposalRecv, View: d.Proposal.View, Payload: eventbus.DaProposalRecvPayload{Proposal: d.Proposal, Sender: nodeID}})
		case d.Vote != nil:
			b.bus.Publish(eventbus.Event{Kind: eventbus.KindDaVoteRecv, View: d.Vote.View, Payload: eventbus.DaVoteRecvPayload{Vote: *d.Vote}})
		case d.VidDisperse != nil:
			b.bus.Publish(eventbus.Event{Kind: eventbus.KindVidShareRecv, View: d.VidDisperse.View, Payload: eventbus.VidShareRecvPayload{Disperse: d.VidDisperse, Sender: nodeID}})
		default:
			return fmt.Errorf("bridge: empty da consensus message from %s", nodeID)
		}
		return nil
	}

	return fmt.Errorf("bridge: empty sequencing message from %s", nodeID)
}

var _ core.AppHandler = (*Bridge)(nil)
