package eventbus

import (
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/hotshot-consensus/hotshot/wire"
	"github.com/luxfi/ids"
)

// Payload types carried by Event.Payload, one per EventKind. Centralized
// here so every task package that publishes or consumes a given Kind
// agrees on its concrete shape without importing each other.

// QuorumProposalSendPayload accompanies KindQuorumProposalSend: this node's
// own freshly-built proposal, ready to hand to the networking bridge.
type QuorumProposalSendPayload struct {
	Proposal hstypes.SignedProposal
}

// QuorumProposalRecvPayload accompanies KindQuorumProposalRecv.
type QuorumProposalRecvPayload struct {
	Proposal hstypes.SignedProposal
	Sender   ids.NodeID
}

// QuorumProposalValidatedPayload accompanies KindQuorumProposalValidated.
type QuorumProposalValidatedPayload struct {
	Proposal hstypes.SignedProposal
	Leaf     *hstypes.Leaf
}

// QuorumVoteRecvPayload accompanies KindQuorumVoteRecv.
type QuorumVoteRecvPayload struct {
	Vote hstypes.QuorumVote
}

// QcFormedPayload accompanies KindQcFormed.
type QcFormedPayload struct {
	QC hstypes.QuorumCertificate
}

// BlockRecvPayload accompanies KindBlockRecv: the builder handed this node
// a new block to propose DA for.
type BlockRecvPayload struct {
	View              hstypes.View
	EncodedTxns       hstypes.EncodedTransactions
	Metadata          []byte
	PayloadCommitment ids.ID
}

// DaProposalSendPayload accompanies KindDaProposalSend.
type DaProposalSendPayload struct {
	Proposal *wire.DaProposal
}

// DaProposalRecvPayload accompanies KindDaProposalRecv.
type DaProposalRecvPayload struct {
	Proposal *wire.DaProposal
	Sender   ids.NodeID
}

// DaProposalValidatedPayload accompanies KindDaProposalValidated.
type DaProposalValidatedPayload struct {
	Proposal *wire.DaProposal
	Sender   ids.NodeID
}

// DaVoteSendPayload accompanies KindDaVoteSend.
type DaVoteSendPayload struct {
	Vote hstypes.DaVote
}

// DaVoteRecvPayload accompanies KindDaVoteRecv.
type DaVoteRecvPayload struct {
	Vote hstypes.DaVote
}

// DaCertFormedPayload accompanies KindDaCertFormed.
type DaCertFormedPayload struct {
	Certificate hstypes.DaCertificate
}

// VidDisperseSendPayload accompanies KindVidDisperseSend: one share
// addressed to a single recipient, sent by the DA/VID leader.
type VidDisperseSendPayload struct {
	Recipient  ids.NodeID
	Disperse   *wire.VidDisperseMsg
}

// VidShareRecvPayload accompanies KindVidShareRecv.
type VidShareRecvPayload struct {
	Disperse *wire.VidDisperseMsg
	Sender   ids.NodeID
}

// TimeoutPayload accompanies KindTimeout: the per-view timer fired.
type TimeoutPayload struct {
	View hstypes.View
}

// TimeoutVoteRecvPayload accompanies KindTimeoutVoteRecv.
type TimeoutVoteRecvPayload struct {
	Vote hstypes.TimeoutVote
}

// TimeoutCertFormedPayload accompanies KindTimeoutCertFormed.
type TimeoutCertFormedPayload struct {
	Certificate hstypes.TimeoutCertificate
}

// ViewSyncTimeoutPayload accompanies KindViewSyncTimeout.
type ViewSyncTimeoutPayload struct {
	View  hstypes.View
	Phase hstypes.ViewSyncPhase
	Round uint64
}

// ViewSyncVoteRecvPayload accompanies KindViewSyncVoteRecv.
type ViewSyncVoteRecvPayload struct {
	Vote hstypes.ViewSyncVote
}

// ViewSyncCertFormedPayload accompanies KindViewSyncCertFormed.
type ViewSyncCertFormedPayload struct {
	Certificate hstypes.ViewSyncCertificate
}

// ViewChangePayload accompanies KindViewChange.
type ViewChangePayload struct {
	View hstypes.View
}

// UpgradeCertFormedPayload accompanies KindUpgradeCertFormed.
type UpgradeCertFormedPayload struct {
	Certificate hstypes.UpgradeCertificate
}

// LeafDecidedPayload accompanies KindLeafDecided.
type LeafDecidedPayload struct {
	Leaves []*hstypes.Leaf
}

// RequestRecvPayload accompanies KindRequestRecv.
type RequestRecvPayload struct {
	Request *wire.DataRequestMessage
	Sender  ids.NodeID
}

// ResponseRecvPayload accompanies KindResponseRecv.
type ResponseRecvPayload struct {
	Response *wire.ResponseMessage
	Sender   ids.NodeID
}

// ResponseSendPayload accompanies KindResponseSend: this node's answer to a
// RequestRecv, addressed back to the original requester.
type ResponseSendPayload struct {
	Response  *wire.ResponseMessage
	Recipient ids.NodeID
}
