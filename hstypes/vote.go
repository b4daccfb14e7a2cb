package hstypes

import "github.com/luxfi/ids"

// PartialSignature is one committee member's contribution toward a
// threshold certificate.
type PartialSignature struct {
	Signer PK
	Sig    []byte
}

// QuorumVote is cast by a replica once it accepts a proposal for View.
type QuorumVote struct {
	View       View
	LeafCommit ids.ID
	Signer     PK
	Signature  PartialSignature
}

func (v QuorumVote) ViewOf() View { return v.View }

// DaVote is cast by a DA-committee replica once it validates a DA proposal.
type DaVote struct {
	View              View
	PayloadCommitment ids.ID
	Signer            PK
	Signature         PartialSignature
}

func (v DaVote) ViewOf() View { return v.View }

// TimeoutVote is cast when a replica's per-view timer expires without a
// proposal.
type TimeoutVote struct {
	View      View
	HighQC    QuorumCertificate
	Signer    PK
	Signature PartialSignature
}

func (v TimeoutVote) ViewOf() View { return v.View }

// ViewSyncVote is cast during one round of the view-sync sub-protocol.
type ViewSyncVote struct {
	View      View
	Phase     ViewSyncPhase
	Round     uint64
	Signer    PK
	Signature PartialSignature
}

func (v ViewSyncVote) ViewOf() View { return v.View }
