package quorumproposal

import (
	"sync"

	"github.com/hotshot-consensus/hotshot/hstypes"
)

// pendingProposal accumulates the inputs a view's proposal needs before it
// can be published: the block commitment/metadata the builder handed this
// node, this node's own VID share for the payload, and (if present) a
// secondary view-change certificate. Mirrors ProposalDependencyHandle's
// res.iter().flatten() combine step, but driven incrementally as each piece
// arrives instead of collected from a batch of dependency futures.
type pendingProposal struct {
	mu sync.Mutex

	view       hstypes.View
	commitment *blockCommitment
	vidShare   []byte
	cert       hstypes.ProposalCertificate
}

type blockCommitment struct {
	PayloadCommitment hstypes.EncodedTransactions
	Header            hstypes.BlockHeader
}

// ready reports whether enough pieces are present to build and publish a
// proposal for this view: a commitment/metadata, this node's own VID share,
// and one of the three view-change justifications §4.7 requires —
// high_qc_for(V-1), timeout_cert_for(V-1), or view_sync_cert_for(V) — so a
// node never proposes on a commitment/share pair alone without something
// that actually justifies advancing into this view. highQCView is the view
// number of the caller's current high QC, checked against p.view-1 rather
// than cached here, since the high QC can keep advancing after this pending
// entry was created.
func (p *pendingProposal) ready(highQCView hstypes.View) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.commitment == nil || p.vidShare == nil {
		return false
	}
	if p.cert.ViewSync != nil || p.cert.Timeout != nil {
		return true
	}
	return p.view > 0 && highQCView+1 == p.view
}

func (p *pendingProposal) setCommitment(c blockCommitment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commitment = &c
}

func (p *pendingProposal) setVidShare(share []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vidShare = share
}

// setViewSyncCert and setTimeoutCert record a secondary certificate with
// view-sync taking precedence over timeout if both somehow arrive for the
// same view.
func (p *pendingProposal) setViewSyncCert(c hstypes.ViewSyncCertificate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cert.ViewSync = &c
	p.cert.Timeout = nil
}

func (p *pendingProposal) setTimeoutCert(c hstypes.TimeoutCertificate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cert.ViewSync == nil {
		p.cert.Timeout = &c
	}
}

func (p *pendingProposal) snapshot() (blockCommitment, []byte, hstypes.ProposalCertificate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.commitment, p.vidShare, p.cert
}

// registry owns one pendingProposal per in-flight view.
type registry struct {
	mu      sync.Mutex
	pending map[hstypes.View]*pendingProposal
}

func newRegistry() *registry {
	return &registry{pending: make(map[hstypes.View]*pendingProposal)}
}

func (r *registry) get(view hstypes.View) *pendingProposal {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[view]
	if !ok {
		p = &pendingProposal{view: view}
		r.pending[view] = p
	}
	return p
}

func (r *registry) delete(view hstypes.View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, view)
}
