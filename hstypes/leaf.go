package hstypes

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/luxfi/ids"
)

// BlockHeader is opaque application state carried by a leaf. Its contents are
// not interpreted by consensus beyond commitment and encoding (§1 out of
// scope: block/state application logic).
type BlockHeader struct {
	PayloadCommitment ids.ID
	BuilderCommitment ids.ID
	Metadata          []byte
	Fee               uint64
	VIDCommon         []byte
	Version           Version
	BlockView         View
}

// EncodedTransactions is the opaque, DA-certified payload of a view.
type EncodedTransactions []byte

// Leaf is the unit of decision: a block header plus the QC justifying its
// parent and the parent link itself.
type Leaf struct {
	View               View
	ParentCommit       ids.ID
	BlockHeader        BlockHeader
	JustifyQC          QuorumCertificate
	Payload            *EncodedTransactions `cbor:",omitempty"`
	UpgradeCertificate *UpgradeCertificate  `cbor:",omitempty"`
}

// Commit returns the leaf's content-addressed identity. Two leaves with
// identical fields always commit to the same ids.ID.
func (l *Leaf) Commit() (ids.ID, error) {
	enc, err := cbor.Marshal(l)
	if err != nil {
		return ids.Empty, err
	}
	return ids.ID(sha256Sum(enc)), nil
}

// GenesisLeaf returns the distinguished leaf at GenesisView.
func GenesisLeaf() *Leaf {
	return &Leaf{
		View:         GenesisView,
		ParentCommit: ids.Empty,
		JustifyQC:    GenesisQC(),
	}
}
