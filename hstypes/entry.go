package hstypes

import "github.com/luxfi/ids"

// EntryKind tags a ViewEntry's variant.
type EntryKind uint8

const (
	EntryLeaf EntryKind = iota
	EntryDa
	EntryFailed
)

// ViewEntry is the tagged union stored in the validated state map, keyed by
// View. Exactly one of LeafCommit/PayloadCommitment is meaningful depending
// on Kind.
type ViewEntry struct {
	Kind              EntryKind
	LeafCommit        ids.ID // EntryLeaf
	State             []byte // EntryLeaf: opaque ValidatedState snapshot
	Delta             []byte // EntryLeaf: opaque state delta, optional
	PayloadCommitment ids.ID // EntryDa
}

// LeafEntry constructs a Leaf-tagged view entry.
func LeafEntry(leafCommit ids.ID, state, delta []byte) ViewEntry {
	return ViewEntry{Kind: EntryLeaf, LeafCommit: leafCommit, State: state, Delta: delta}
}

// DaEntry constructs a Da-tagged view entry.
func DaEntry(payloadCommitment ids.ID) ViewEntry {
	return ViewEntry{Kind: EntryDa, PayloadCommitment: payloadCommitment}
}

// FailedEntry constructs a Failed-tagged view entry.
func FailedEntry() ViewEntry {
	return ViewEntry{Kind: EntryFailed}
}

// Certificate is the common accessor set every threshold certificate kind
// satisfies (QC, DA, view-sync, timeout, upgrade), used by generic code in
// the vote accumulator (C4) and dependency engine (C7).
type Certificate interface {
	ViewOf() View
	IsValidCert(committee []PK) bool
}

var (
	_ Certificate = QuorumCertificate{}
	_ Certificate = DaCertificate{}
	_ Certificate = TimeoutCertificate{}
	_ Certificate = ViewSyncCertificate{}
	_ Certificate = UpgradeCertificate{}
)
