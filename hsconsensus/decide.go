package hsconsensus

import (
	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/luxfi/ids"
)

// DecideResult is returned by TryAdvanceChain when a new QC formation
// advances the locked view and/or decides a new chain of leaves.
type DecideResult struct {
	// LockedAdvanced reports whether LockedView moved forward.
	LockedAdvanced bool
	// DecidedLeaves is the (possibly multi-leaf) chain newly decided, in
	// ascending view order. Empty if nothing was newly decided.
	DecidedLeaves []*hstypes.Leaf
	// QC is the certificate that triggered this update.
	QC hstypes.QuorumCertificate
}

// TryAdvanceChain applies HotStuff's 3-chain rule (§4.9, §GLOSSARY) to a
// newly-formed QC: if qc justifies leaf b1 and b1's justify_qc justifies b2,
// LockedView advances to b2.View (when newer). If b2's justify_qc also
// justifies b3 and b1/b2/b3 form a strict parent chain, b3 (and every
// undecided ancestor of b3 above the previous last-decided view) is decided.
//
// Mirrors chainedhotstuff.update's pre-commit/commit/decide cascade, adapted
// from the single global bLock/bExec pointers to the shared view-map-keyed
// Consensus state.
func (c *Consensus) TryAdvanceChain(qc hstypes.QuorumCertificate) (DecideResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := DecideResult{QC: qc}

	b1, ok := c.savedLeaves.get(qc.Data.LeafCommit)
	if !ok {
		return result, nil
	}

	// pre-commit: qc directly justifies b1, so b1's justify_qc becomes the
	// new high QC candidate (UpdateHighQC already handles that separately).

	b2, ok := c.savedLeaves.get(b1.JustifyQC.Data.LeafCommit)
	if !ok {
		return result, nil
	}
	if b2.View > c.lockedView {
		c.lockedView = b2.View
		result.LockedAdvanced = true
	}

	b3, ok := c.savedLeaves.get(b2.JustifyQC.Data.LeafCommit)
	if !ok {
		c.checkInvariantsLocked()
		return result, nil
	}

	if b1.ParentCommit != mustCommit(b2) || b2.ParentCommit != mustCommit(b3) {
		// Not a direct 3-chain: b1/b2/b3 justify each other but don't form a
		// contiguous parent chain, so nothing decides yet.
		c.checkInvariantsLocked()
		return result, nil
	}

	if b3.View <= c.lastDecidedView {
		c.checkInvariantsLocked()
		return result, nil
	}

	chain := c.collectUndecidedAncestors(b3)
	c.lastDecidedView = b3.View
	result.DecidedLeaves = chain
	if c.metrics != nil {
		c.metrics.DecidedViews.Add(float64(len(chain)))
		c.metrics.LastDecidedView.Set(float64(c.lastDecidedView))
		c.metrics.ChainLength.Observe(float64(len(chain)))
	}

	// Invariant 6: garbage-collect undecided entries strictly below the new
	// last-decided view.
	c.gcBelow(c.lastDecidedView)
	c.checkInvariantsLocked()
	return result, nil
}

// collectUndecidedAncestors walks parent links from leaf back to (but not
// including) the previously decided view, returning the chain in ascending
// view order.
func (c *Consensus) collectUndecidedAncestors(leaf *hstypes.Leaf) []*hstypes.Leaf {
	var chain []*hstypes.Leaf
	cur := leaf
	for cur != nil && cur.View > c.lastDecidedView {
		chain = append(chain, cur)
		parent, ok := c.savedLeaves.get(cur.ParentCommit)
		if !ok {
			break
		}
		cur = parent
	}
	// reverse into ascending view order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// gcBelow drops validated-state-map entries strictly below view v,
// implementing invariant 6's atomic garbage collection. Saved leaves
// themselves are retained (they remain reachable as ancestors, satisfying
// invariant 2) — only the bookkeeping view-map entries are trimmed.
func (c *Consensus) gcBelow(v hstypes.View) {
	cut := 0
	for cut < len(c.orderedViews) && c.orderedViews[cut] < v {
		delete(c.validatedStateMap, c.orderedViews[cut])
		cut++
	}
	c.orderedViews = c.orderedViews[cut:]
}

func (c *Consensus) checkInvariantsLocked() {
	if !(c.highQC.ViewNumber >= c.lockedView && c.lockedView >= c.lastDecidedView && c.lastDecidedView <= c.curView) {
		panic("hsconsensus: invariant 1 violated during chain advance")
	}
}

func mustCommit(l *hstypes.Leaf) ids.ID {
	c, err := l.Commit()
	if err != nil {
		panic(err)
	}
	return c
}
