package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hotshot-consensus/hotshot/engine/core"
	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
	"github.com/hotshot-consensus/hotshot/wire"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"
	"github.com/stretchr/testify/require"
)

func testCommittee(t *testing.T, n int) []membership.Member {
	t.Helper()
	members := make([]membership.Member, n)
	for i := 0; i < n; i++ {
		_, pk := hstypes.NewTestKey()
		members[i] = membership.Member{NodeID: ids.GenerateTestNodeID(), PK: pk, Stake: 1}
	}
	return members
}

// fakeSender records every call instead of reaching a real transport.
type fakeSender struct {
	core.NoOpAppSender

	mu             sync.Mutex
	gossip         [][]byte
	gossipTo       []set.Set[ids.NodeID]
	gossipSpecific [][]byte
	requestTo      ids.NodeID
	requestBytes   []byte
	requestID      uint32
}

func (f *fakeSender) SendAppGossip(ctx context.Context, nodeIDs set.Set[ids.NodeID], bytes []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gossip = append(f.gossip, bytes)
	f.gossipTo = append(f.gossipTo, nodeIDs)
	return nil
}

func (f *fakeSender) SendAppGossipSpecific(ctx context.Context, nodeIDs set.Set[ids.NodeID], bytes []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gossipSpecific = append(f.gossipSpecific, bytes)
	return nil
}

func (f *fakeSender) SendAppRequest(ctx context.Context, nodeIDs set.Set[ids.NodeID], requestID uint32, bytes []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requestBytes = bytes
	f.requestID = requestID
	return nil
}

func TestBridge_QuorumProposalSendGossipsToCommittee(t *testing.T) {
	committee := testCommittee(t, 4)
	self := committee[0]
	mship := membership.NewStatic(committee, 4)
	sender := &fakeSender{}
	bus := eventbus.New(log.NewNoOpLogger(), nil)
	b := New(sender, bus, mship, self.NodeID, log.NewNoOpLogger())

	events, cancel := bus.Subscribe()
	defer cancel()

	proposal := hstypes.SignedProposal{Proposal: hstypes.QuorumProposal{View: 7}}
	go b.Run(context.Background(), events)
	bus.Publish(eventbus.Event{Kind: eventbus.KindQuorumProposalSend, View: 7, Payload: eventbus.QuorumProposalSendPayload{Proposal: proposal}})

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.gossip) == 1
	}, time.Second, 5*time.Millisecond)

	sender.mu.Lock()
	payload := sender.gossip[0]
	recipients := sender.gossipTo[0]
	sender.mu.Unlock()

	require.False(t, recipients.Contains(self.NodeID), "leader must not gossip the proposal to itself")
	require.Equal(t, 3, recipients.Len())

	var msg wire.Message
	require.NoError(t, wire.NewCodec().Decode(payload, &msg))
	require.Equal(t, wire.KindSequencing, msg.Kind)
	require.NotNil(t, msg.Sequencing.General)
	require.NotNil(t, msg.Sequencing.General.Proposal)
	require.Equal(t, hstypes.View(7), msg.Sequencing.General.Proposal.Proposal.View)
}

func TestBridge_SelfAuthoredVoteForwardedToCollector(t *testing.T) {
	committee := testCommittee(t, 4)
	self := committee[1]
	mship := membership.NewStatic(committee, 4)
	sender := &fakeSender{}
	bus := eventbus.New(log.NewNoOpLogger(), nil)
	b := New(sender, bus, mship, self.NodeID, log.NewNoOpLogger())

	events, cancel := bus.Subscribe()
	defer cancel()
	go b.Run(context.Background(), events)

	vote := hstypes.QuorumVote{View: 3, Signer: self.PK}
	bus.Publish(eventbus.Event{Kind: eventbus.KindQuorumVoteRecv, View: 3, Payload: eventbus.QuorumVoteRecvPayload{Vote: vote}})

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.gossipSpecific) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBridge_NonSelfAuthoredVoteNotForwarded(t *testing.T) {
	committee := testCommittee(t, 4)
	self := committee[1]
	mship := membership.NewStatic(committee, 4)
	sender := &fakeSender{}
	bus := eventbus.New(log.NewNoOpLogger(), nil)
	b := New(sender, bus, mship, self.NodeID, log.NewNoOpLogger())

	events, cancel := bus.Subscribe()
	defer cancel()
	go b.Run(context.Background(), events)

	vote := hstypes.QuorumVote{View: 3, Signer: committee[2].PK}
	bus.Publish(eventbus.Event{Kind: eventbus.KindQuorumVoteRecv, View: 3, Payload: eventbus.QuorumVoteRecvPayload{Vote: vote}})

	time.Sleep(50 * time.Millisecond)
	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Zero(t, len(sender.gossipSpecific), "votes received from the network must not be re-forwarded")
}

func TestBridge_DaVoteSendLoopsBackLocallyAndForwardsToDaLeader(t *testing.T) {
	committee := testCommittee(t, 4)
	self := committee[2]
	mship := membership.NewStatic(committee, 4)
	sender := &fakeSender{}
	bus := eventbus.New(log.NewNoOpLogger(), nil)
	b := New(sender, bus, mship, self.NodeID, log.NewNoOpLogger())

	driveEvents, driveCancel := bus.Subscribe()
	defer driveCancel()
	go b.Run(context.Background(), driveEvents)

	observeEvents, observeCancel := bus.Subscribe()
	defer observeCancel()

	vote := hstypes.DaVote{View: 4, Signer: self.PK}
	bus.Publish(eventbus.Event{Kind: eventbus.KindDaVoteSend, View: 4, Payload: eventbus.DaVoteSendPayload{Vote: vote}})

	var loopedBack eventbus.Event
	select {
	case loopedBack = <-observeEvents:
	case <-time.After(time.Second):
		t.Fatal("expected a local KindDaVoteRecv loopback from the DA vote send")
	}
	require.Equal(t, eventbus.KindDaVoteRecv, loopedBack.Kind)
	require.Equal(t, self.PK, loopedBack.Payload.(eventbus.DaVoteRecvPayload).Vote.Signer)

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.gossipSpecific) == 1
	}, time.Second, 5*time.Millisecond, "DA vote must also be forwarded to the DA leader over the wire")
}

func TestBridge_AppGossipPublishesDaVoteRecv(t *testing.T) {
	committee := testCommittee(t, 3)
	self := committee[0]
	mship := membership.NewStatic(committee, 3)
	bus := eventbus.New(log.NewNoOpLogger(), nil)
	b := New(&fakeSender{}, bus, mship, self.NodeID, log.NewNoOpLogger())

	events, cancel := bus.Subscribe()
	defer cancel()

	vote := hstypes.DaVote{View: 9, Signer: committee[1].PK}
	msg := wire.Message{Kind: wire.KindSequencing, Sequencing: &wire.SequencingMessage{
		Da: &wire.DaConsensusMessage{Vote: &vote},
	}}
	bytes, err := wire.NewCodec().Encode(msg)
	require.NoError(t, err)

	require.NoError(t, b.AppGossip(context.Background(), committee[1].NodeID, bytes))

	select {
	case ev := <-events:
		require.Equal(t, eventbus.KindDaVoteRecv, ev.Kind)
		require.Equal(t, hstypes.View(9), ev.View)
	case <-time.After(time.Second):
		t.Fatal("expected KindDaVoteRecv on the bus")
	}
}

func TestBridge_RequestDataRoundTrip(t *testing.T) {
	committee := testCommittee(t, 3)
	self := committee[0]
	peer := committee[1]
	mship := membership.NewStatic(committee, 3)
	bus := eventbus.New(log.NewNoOpLogger(), nil)

	sender := &fakeSender{}
	b := New(sender, bus, mship, self.NodeID, log.NewNoOpLogger())

	want := &wire.ResponseMessage{Kind: wire.RequestVidShare, View: 5, Found: true, Vid: &wire.VidDisperseMsg{View: 5, Share: []byte("share")}}

	// Simulate the peer's AppResponse callback arriving asynchronously,
	// as it would once the real transport delivers it.
	go func() {
		require.Eventually(t, func() bool {
			sender.mu.Lock()
			defer sender.mu.Unlock()
			return sender.requestBytes != nil
		}, time.Second, 5*time.Millisecond)

		respBytes, err := wire.NewCodec().Encode(wire.Message{Kind: wire.KindResponse, Response: want})
		require.NoError(t, err)

		sender.mu.Lock()
		reqID := sender.requestID
		sender.mu.Unlock()
		require.NoError(t, b.AppResponse(context.Background(), peer.NodeID, reqID, respBytes))
	}()

	got, err := b.RequestData(context.Background(), peer.NodeID, &wire.DataRequestMessage{Kind: wire.RequestVidShare, View: 5})
	require.NoError(t, err)
	require.True(t, got.Found)
	require.Equal(t, want.Vid.Share, got.Vid.Share)
}

func TestBridge_AppRequestAwaitsResponseSendEvent(t *testing.T) {
	committee := testCommittee(t, 3)
	self := committee[0]
	requester := committee[1]
	mship := membership.NewStatic(committee, 3)
	bus := eventbus.New(log.NewNoOpLogger(), nil)
	b := New(&fakeSender{}, bus, mship, self.NodeID, log.NewNoOpLogger())

	recvEvents, cancel := bus.Subscribe()
	defer cancel()

	reqBytes, err := wire.NewCodec().Encode(wire.Message{Kind: wire.KindDataRequest, DataRequest: &wire.DataRequestMessage{
		Kind: wire.RequestVidShare, View: 12,
	}})
	require.NoError(t, err)

	go func() {
		ev := <-recvEvents
		require.Equal(t, eventbus.KindRequestRecv, ev.Kind)
		p := ev.Payload.(eventbus.RequestRecvPayload)
		require.Equal(t, requester.NodeID, p.Sender)

		resp := &wire.ResponseMessage{Kind: wire.RequestVidShare, View: 12, Found: true, Vid: &wire.VidDisperseMsg{View: 12}}
		bus.Publish(eventbus.Event{Kind: eventbus.KindResponseSend, View: 12, Payload: eventbus.ResponseSendPayload{Response: resp, Recipient: requester.NodeID}})
	}()

	respBytes, appErr := b.AppRequest(context.Background(), requester.NodeID, time.Now().Add(time.Second), reqBytes)
	require.Nil(t, appErr)

	var msg wire.Message
	require.NoError(t, wire.NewCodec().Decode(respBytes, &msg))
	require.Equal(t, wire.KindResponse, msg.Kind)
	require.True(t, msg.Response.Found)
}
