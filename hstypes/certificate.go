package hstypes

import "github.com/luxfi/ids"

// CertData is the payload a threshold certificate attests to. Every
// certificate kind (QC, DA, view-sync, timeout) shares this shape, differing
// only in what LeafCommit/Extra mean for that kind.
type CertData struct {
	LeafCommit ids.ID
	View       View
	// Extra carries kind-specific auxiliary data (e.g. the view-sync relay
	// round). Empty for QC and DA certificates.
	Extra []byte
}

// QuorumCertificate attests that > 2/3 of quorum stake voted for a leaf at a
// view.
type QuorumCertificate struct {
	Data       CertData
	ViewNumber View
	Signature  ThresholdSignature
	IsGenesis  bool
}

// ViewOf returns the certificate's view, satisfying the common certificate
// accessor used by the dependency engine (§4.7) and validation pipeline
// (§4.8).
func (qc QuorumCertificate) ViewOf() View { return qc.ViewNumber }

// IsValidCert verifies the QC's aggregated signature against the quorum
// committee's current public keys.
func (qc QuorumCertificate) IsValidCert(committee []PK) bool {
	if qc.IsGenesis {
		return true
	}
	return qc.Signature.IsValidCert(certMsg(qc.Data), committee)
}

// GenesisQC returns the vacuously-valid QC justifying the genesis leaf.
func GenesisQC() QuorumCertificate {
	return QuorumCertificate{
		Data:       CertData{LeafCommit: ids.Empty, View: GenesisView},
		ViewNumber: GenesisView,
		IsGenesis:  true,
	}
}

// DaCertificate attests that > 2/3 of DA committee stake voted that a
// payload is available for a view.
type DaCertificate struct {
	Data       CertData
	ViewNumber View
	Signature  ThresholdSignature
}

func (c DaCertificate) ViewOf() View { return c.ViewNumber }

func (c DaCertificate) IsValidCert(committee []PK) bool {
	return c.Signature.IsValidCert(certMsg(c.Data), committee)
}

// TimeoutCertificate attests that > 2/3 of quorum stake timed out a view.
type TimeoutCertificate struct {
	Data       CertData
	ViewNumber View
	Signature  ThresholdSignature
}

func (c TimeoutCertificate) ViewOf() View { return c.ViewNumber }

func (c TimeoutCertificate) IsValidCert(committee []PK) bool {
	return c.Signature.IsValidCert(certMsg(c.Data), committee)
}

// ViewSyncPhase distinguishes the three view-sync certificate rounds.
type ViewSyncPhase uint8

const (
	ViewSyncPreCommitPhase ViewSyncPhase = iota
	ViewSyncCommitPhase
	ViewSyncFinalizePhase
)

// ViewSyncCertificate attests to one round of the view-sync sub-protocol.
type ViewSyncCertificate struct {
	Data       CertData
	ViewNumber View
	Phase      ViewSyncPhase
	Round      uint64
	Signature  ThresholdSignature
}

func (c ViewSyncCertificate) ViewOf() View { return c.ViewNumber }

func (c ViewSyncCertificate) IsValidCert(committee []PK) bool {
	return c.Signature.IsValidCert(certMsg(c.Data), committee)
}

// UpgradeCertificate attests that the committee agreed to move to
// NewVersion starting at NewVersionFirstView.
type UpgradeCertificate struct {
	Data               CertData
	ViewNumber         View
	NewVersion         Version
	NewVersionFirstView View
	Signature          ThresholdSignature
}

func (c UpgradeCertificate) ViewOf() View { return c.ViewNumber }

func (c UpgradeCertificate) IsValidCert(committee []PK) bool {
	return c.Signature.IsValidCert(certMsg(c.Data), committee)
}

// certMsg is the canonical byte message every certificate kind signs over:
// the commit hash, then the big-endian view number, then Extra.
func certMsg(d CertData) []byte {
	buf := make([]byte, len(d.LeafCommit)+8+len(d.Extra))
	n := copy(buf, d.LeafCommit[:])
	putUint64(buf[n:], uint64(d.View))
	copy(buf[n+8:], d.Extra)
	return buf
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}
