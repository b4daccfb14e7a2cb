package quorumvote

import (
	"context"
	"testing"
	"time"

	"github.com/hotshot-consensus/hotshot/eventbus"
	"github.com/hotshot-consensus/hotshot/hsconsensus"
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/membership"
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

func testLeaf(view hstypes.View, payloadCommitment ids.ID) *hstypes.Leaf {
	return &hstypes.Leaf{View: view, BlockHeader: hstypes.BlockHeader{PayloadCommitment: payloadCommitment}}
}

// TestQuorumVoteTask_WithholdsVoteUntilDaCertAndVidShareArrive confirms §4.9
// conditions (b)/(c): a validated proposal alone must not produce a vote
// until this node also holds the matching DA certificate and its own VID
// share for the view.
func TestQuorumVoteTask_WithholdsVoteUntilDaCertAndVidShareArrive(t *testing.T) {
	committee, sks := testCommittee(t, 4)
	mship := membership.NewStatic(committee, 4)
	consensus := hsconsensus.New(log.NewNoOpLogger(), nil)
	bus := eventbus.New(log.NewNoOpLogger(), nil)

	self := committee[2]
	task := New(consensus, mship, bus, self.NodeID, self.PK, sks[2], log.NewNoOpLogger())

	outCh, unsub := bus.Subscribe()
	defer unsub()

	payloadCommitment := ids.GenerateTestID()
	leaf := testLeaf(3, payloadCommitment)

	task.handleValidated(eventbus.QuorumProposalValidatedPayload{Leaf: leaf})

	select {
	case ev := <-outCh:
		t.Fatalf("did not expect a vote before the DA cert and VID share arrived, got %v", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}

	// DA cert alone still isn't enough; the VID share is still missing.
	cert := hstypes.DaCertificate{Data: hstypes.CertData{LeafCommit: payloadCommitment, View: 3}, ViewNumber: 3}
	consensus.UpdateSavedDaCerts(3, cert)
	task.tryVote(3)

	select {
	case ev := <-outCh:
		t.Fatalf("did not expect a vote before the VID share arrived, got %v", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}

	consensus.UpdateVidShares(3, self.NodeID, hsconsensus.VidShareEntry{Share: []byte("mine")})
	task.tryVote(3)

	select {
	case ev := <-outCh:
		require.Equal(t, eventbus.KindQuorumVoteRecv, ev.Kind)
		vote := ev.Payload.(eventbus.QuorumVoteRecvPayload).Vote
		require.Equal(t, hstypes.View(3), vote.View)
	case <-time.After(time.Second):
		t.Fatal("expected a vote once both the DA cert and VID share were present")
	}
}

// TestQuorumVoteTask_RejectsMismatchedDaCert ensures a DA certificate for a
// different payload commitment never unblocks a vote.
func TestQuorumVoteTask_RejectsMismatchedDaCert(t *testing.T) {
	committee, sks := testCommittee(t, 4)
	mship := membership.NewStatic(committee, 4)
	consensus := hsconsensus.New(log.NewNoOpLogger(), nil)
	bus := eventbus.New(log.NewNoOpLogger(), nil)

	self := committee[1]
	task := New(consensus, mship, bus, self.NodeID, self.PK, sks[1], log.NewNoOpLogger())

	outCh, unsub := bus.Subscribe()
	defer unsub()

	leaf := testLeaf(5, ids.GenerateTestID())
	task.handleValidated(eventbus.QuorumProposalValidatedPayload{Leaf: leaf})

	consensus.UpdateSavedDaCerts(5, hstypes.DaCertificate{
		Data:       hstypes.CertData{LeafCommit: ids.GenerateTestID(), View: 5},
		ViewNumber: 5,
	})
	consensus.UpdateVidShares(5, self.NodeID, hsconsensus.VidShareEntry{Share: []byte("mine")})
	task.tryVote(5)

	select {
	case ev := <-outCh:
		t.Fatalf("did not expect a vote when the DA cert commits to a different payload, got %v", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestQuorumVoteTask_LeaderCertifiesVotesIntoQc exercises the
// leader-side vote collection path, unaffected by the new per-voter gate.
func TestQuorumVoteTask_LeaderCertifiesVotesIntoQc(t *testing.T) {
	committee, sks := testCommittee(t, 4)
	mship := membership.NewStatic(committee, 4)
	consensus := hsconsensus.New(log.NewNoOpLogger(), nil)
	bus := eventbus.New(log.NewNoOpLogger(), nil)

	leaderIdx := 1 // Leader(view) = quorum[view % len(quorum)]; view 1 -> index 1
	leader := committee[leaderIdx]
	task := New(consensus, mship, bus, leader.NodeID, leader.PK, sks[leaderIdx], log.NewNoOpLogger())

	outCh, unsub := bus.Subscribe()
	defer unsub()

	leafCommit := ids.GenerateTestID()
	threshold := mship.QuorumThreshold()
	cast := uint64(0)
	for i, member := range committee {
		sig, err := hstypes.Sign(sks[i], leafCommit[:])
		require.NoError(t, err)
		vote := hstypes.QuorumVote{
			View:       1,
			LeafCommit: leafCommit,
			Signer:     member.PK,
			Signature:  hstypes.PartialSignature{Signer: member.PK, Sig: hstypes.SignatureToBytes(sig)},
		}
		task.handleVoteRecv(eventbus.QuorumVoteRecvPayload{Vote: vote})
		cast += member.Stake
		if cast > threshold {
			break
		}
	}

	select {
	case ev := <-outCh:
		require.Equal(t, eventbus.KindQcFormed, ev.Kind)
		qc := ev.Payload.(eventbus.QcFormedPayload).QC
		require.Equal(t, hstypes.View(1), qc.ViewNumber)
	case <-time.After(time.Second):
		t.Fatal("expected a QC once stake crossed the threshold")
	}
}
