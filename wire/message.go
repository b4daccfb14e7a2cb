package wire

import (
	"crypto/sha256"

	"github.com/fxamacker/cbor/v2"
	"github.com/hotshot-consensus/hotshot/hstypes"
)

// MessageKind discriminates Message's payload, since cbor has no native
// sum-type support; callers switch on Kind and read the matching non-nil
// field.
type MessageKind int

const (
	KindSequencing MessageKind = iota
	KindData
	KindDataRequest
	KindResponse
)

// Message is the top-level envelope carried over the network (§6): exactly
// one of Sequencing, Data, DataRequest or Response is set, selected by
// Kind.
type Message struct {
	Kind MessageKind

	Sequencing  *SequencingMessage `cbor:",omitempty"`
	Data        *DataMessage       `cbor:",omitempty"`
	DataRequest *DataRequestMessage `cbor:",omitempty"`
	Response    *ResponseMessage   `cbor:",omitempty"`
}

// SequencingMessage carries either a quorum-protocol message or a
// DA-protocol message, the two sub-taxonomies the consensus and DA task
// graphs exchange (§4.7-§4.9 quorum side, §4.5-§4.6 DA side).
type SequencingMessage struct {
	General *GeneralConsensusMessage `cbor:",omitempty"`
	Da      *DaConsensusMessage      `cbor:",omitempty"`
}

// GeneralConsensusMessage is every quorum-protocol wire message: block
// proposals, quorum votes, and the timeout/view-sync sub-protocol's votes
// and certificates.
type GeneralConsensusMessage struct {
	Proposal           *hstypes.SignedProposal     `cbor:",omitempty"`
	Vote                *hstypes.QuorumVote         `cbor:",omitempty"`
	TimeoutVote         *hstypes.TimeoutVote        `cbor:",omitempty"`
	TimeoutCertificate  *hstypes.TimeoutCertificate `cbor:",omitempty"`
	ViewSyncVote        *hstypes.ViewSyncVote       `cbor:",omitempty"`
	ViewSyncCertificate *hstypes.ViewSyncCertificate `cbor:",omitempty"`
	UpgradeCertificate  *hstypes.UpgradeCertificate `cbor:",omitempty"`
}

// DaConsensusMessage is every DA/VID-protocol wire message.
type DaConsensusMessage struct {
	Proposal    *DaProposal            `cbor:",omitempty"`
	Vote        *hstypes.DaVote        `cbor:",omitempty"`
	Certificate *hstypes.DaCertificate `cbor:",omitempty"`
	VidDisperse *VidDisperseMsg        `cbor:",omitempty"`
}

// DaProposal is the DA leader's broadcast of the encoded transactions for
// a view, signed so committee members can attribute it before voting.
type DaProposal struct {
	View              hstypes.View
	EncodedTxns       hstypes.EncodedTransactions
	PayloadCommitment []byte
	LeaderSignature   []byte
}

// VidDisperseMsg is one VID share sent from the leader to a single quorum
// member (§4.6); it is never broadcast.
type VidDisperseMsg struct {
	View              hstypes.View
	Share             []byte
	Commitment        []byte
	PayloadCommitment []byte
	LeaderSignature   []byte
}

// DataMessage carries application payloads unrelated to protocol control
// flow, e.g. transaction submissions relayed between nodes ahead of DA
// proposal.
type DataMessage struct {
	SubmitTransaction *EncodedTransactionSubmission `cbor:",omitempty"`
}

// EncodedTransactionSubmission is a client- or peer-submitted transaction
// awaiting inclusion in a future DA proposal.
type EncodedTransactionSubmission struct {
	Encoded []byte
}

// RequestKind discriminates DataRequestMessage's payload.
type RequestKind int

const (
	RequestProposal RequestKind = iota
	RequestDaProposal
	RequestVidShare
)

// DataRequestMessage is the request half of the catch-up request/response
// sub-protocol (C13/C14, §4.13-§4.14): asking a specific peer for the
// artifact this node is missing for view.
type DataRequestMessage struct {
	Kind      RequestKind
	View      hstypes.View
	Sender    []byte
	Signature []byte
}

// SigningBytes returns the digest a DataRequestMessage's Signature covers
// (every field except Signature itself), so the requester and responder
// independently agree on exactly what was signed.
func (r *DataRequestMessage) SigningBytes() []byte {
	enc, err := cbor.Marshal(struct {
		Kind   RequestKind
		View   hstypes.View
		Sender []byte
	}{r.Kind, r.View, r.Sender})
	if err != nil {
		// Kind/View/Sender are plain values; cbor only fails on
		// unsupported types, so this is unreachable in practice.
		panic(err)
	}
	sum := sha256.Sum256(enc)
	return sum[:]
}

// ResponseMessage answers a DataRequestMessage. Found is false when the
// responder has nothing for the requested view or refused the request; a
// malformed request gets no ResponseMessage at all.
type ResponseMessage struct {
	Kind     RequestKind
	View     hstypes.View
	Found    bool
	Proposal *hstypes.SignedProposal `cbor:",omitempty"`
	Da       *DaProposal             `cbor:",omitempty"`
	Vid      *VidDisperseMsg         `cbor:",omitempty"`
}
