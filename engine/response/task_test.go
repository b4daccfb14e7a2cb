package response

import (
	"context"
	"testing"
	"time"

	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hsconsensus"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
	"github.com/hotshot-consensus/hotshot/vid"
	"github.com/hotshot-consensus/hotshot/wire"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

func testCommittee(t *testing.T, n int) ([]membership.Member, []hstypes.SK) {
	t.Helper()
	members := make([]membership.Member, n)
	sks := make([]hstypes.SK, n)
	for i := 0; i < n; i++ {
		sk, pk := hstypes.NewTestKey()
		sks[i] = sk
		members[i] = membership.Member{NodeID: ids.GenerateTestNodeID(), PK: pk, Stake: 1}
	}
	return members, sks
}

// signedRequest builds a DataRequestMessage signed by sk, the shape every
// real requester (engine/request) sends.
func signedRequest(t *testing.T, sk hstypes.SK, kind wire.RequestKind, view hstypes.View, sender ids.NodeID) *wire.DataRequestMessage {
	t.Helper()
	req := &wire.DataRequestMessage{Kind: kind, View: view, Sender: sender[:]}
	sig, err := hstypes.Sign(sk, req.SigningBytes())
	require.NoError(t, err)
	req.Signature = hstypes.SignatureToBytes(sig)
	return req
}

func TestResponseTask_DeniesNonMember(t *testing.T) {
	committee, _ := testCommittee(t, 3)
	mship := membership.NewStatic(committee, 3)
	consensus := hsconsensus.New(log.NewNoOpLogger(), nil)
	bus := eventbus.New(log.NewNoOpLogger(), nil)

	self := committee[0]
	sk, _ := hstypes.NewTestKey()
	task := New(consensus, mship, vid.NewNaiveScheme(), bus, self.NodeID, sk, log.NewNoOpLogger())

	outCh, unsub := bus.Subscribe()
	defer unsub()

	strangerSK, _ := hstypes.NewTestKey()
	stranger := ids.GenerateTestNodeID()
	task.handle(context.Background(), eventbus.RequestRecvPayload{
		Sender:  stranger,
		Request: signedRequest(t, strangerSK, wire.RequestVidShare, 1, stranger),
	})

	select {
	case ev := <-outCh:
		require.Equal(t, eventbus.KindResponseSend, ev.Kind)
		resp := ev.Payload.(eventbus.ResponseSendPayload)
		require.Equal(t, stranger, resp.Recipient)
		require.False(t, resp.Response.Found)
	case <-time.After(time.Second):
		t.Fatal("expected a Denied-equivalent response")
	}
}

func TestResponseTask_ServesAlreadyRecordedVidShare(t *testing.T) {
	committee, sks := testCommittee(t, 3)
	mship := membership.NewStatic(committee, 3)
	consensus := hsconsensus.New(log.NewNoOpLogger(), nil)
	bus := eventbus.New(log.NewNoOpLogger(), nil)

	self := committee[0]
	sk, _ := hstypes.NewTestKey()
	task := New(consensus, mship, vid.NewNaiveScheme(), bus, self.NodeID, sk, log.NewNoOpLogger())

	consensus.UpdateVidShares(4, self.NodeID, hsconsensus.VidShareEntry{Share: []byte("mine"), Commitment: []byte("commit")})

	outCh, unsub := bus.Subscribe()
	defer unsub()

	requester := committee[1]
	task.handle(context.Background(), eventbus.RequestRecvPayload{
		Sender:  requester.NodeID,
		Request: signedRequest(t, sks[1], wire.RequestVidShare, 4, requester.NodeID),
	})

	select {
	case ev := <-outCh:
		resp := ev.Payload.(eventbus.ResponseSendPayload)
		require.True(t, resp.Response.Found)
		require.Equal(t, []byte("mine"), resp.Response.Vid.Share)
	case <-time.After(time.Second):
		t.Fatal("expected a Found response with the already-recorded share")
	}
}

func TestResponseTask_ServesLastProposal(t *testing.T) {
	committee, sks := testCommittee(t, 3)
	mship := membership.NewStatic(committee, 3)
	consensus := hsconsensus.New(log.NewNoOpLogger(), nil)
	bus := eventbus.New(log.NewNoOpLogger(), nil)

	self := committee[0]
	sk, _ := hstypes.NewTestKey()
	task := New(consensus, mship, vid.NewNaiveScheme(), bus, self.NodeID, sk, log.NewNoOpLogger())

	signed := hstypes.SignedProposal{Proposal: hstypes.QuorumProposal{View: 7}}
	require.True(t, consensus.UpdateLastProposedView(signed))

	outCh, unsub := bus.Subscribe()
	defer unsub()

	requester := committee[1]
	task.handle(context.Background(), eventbus.RequestRecvPayload{
		Sender:  requester.NodeID,
		Request: signedRequest(t, sks[1], wire.RequestProposal, 7, requester.NodeID),
	})

	select {
	case ev := <-outCh:
		resp := ev.Payload.(eventbus.ResponseSendPayload)
		require.True(t, resp.Response.Found)
		require.Equal(t, hstypes.View(7), resp.Response.Proposal.Proposal.View)
	case <-time.After(time.Second):
		t.Fatal("expected a Found response with the last proposal")
	}
}
