package hstypes

import "github.com/luxfi/ids"

// ProposalCertificate is the disjunctive secondary certificate a quorum
// proposal may carry in place of (or alongside) its JustifyQC: a view-sync
// finalize certificate or a timeout certificate. Precedence when building one
// is view-sync > timeout > none (§4.7).
type ProposalCertificate struct {
	ViewSync *ViewSyncCertificate `cbor:",omitempty"`
	Timeout  *TimeoutCertificate  `cbor:",omitempty"`
}

// Empty reports whether neither secondary certificate is set.
func (p ProposalCertificate) Empty() bool {
	return p.ViewSync == nil && p.Timeout == nil
}

// QuorumProposal is the leader's proposal for View, justified by JustifyQC
// and optionally accompanied by a secondary liveness certificate.
type QuorumProposal struct {
	BlockHeader         BlockHeader
	View                View
	JustifyQC           QuorumCertificate
	ProposalCertificate ProposalCertificate
	UpgradeCertificate  *UpgradeCertificate `cbor:",omitempty"`
}

// SignedProposal pairs a proposal with the leader's signature over the
// derived leaf's commit.
type SignedProposal struct {
	Proposal  QuorumProposal
	LeafCommit ids.ID
	Signature *SigBytes
}

// SigBytes is a single-signer signature in serialized form, kept separate
// from ThresholdSignature (which is always an aggregate) so that a proposal's
// leader signature round-trips through the wire codec without pulling in the
// bitset machinery.
type SigBytes []byte

// LeafFromProposal derives the Leaf a proposal commits to.
func LeafFromProposal(p QuorumProposal, parentCommit ids.ID) *Leaf {
	return &Leaf{
		View:         p.View,
		ParentCommit: parentCommit,
		BlockHeader:  p.BlockHeader,
		JustifyQC:    p.JustifyQC,
	}
}
