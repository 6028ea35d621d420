package models

// InvestigationRequest is the user-submitted payload that seeds a
// divergence investigation (spec §4.3).
type InvestigationRequest struct {
	Pois               []Hash32 `json:"pois"`
	QueryBlockCaches    bool    `json:"queryBlockCaches,omitempty"`
	QueryEthCallCaches  bool    `json:"queryEthCallCaches,omitempty"`
	QueryEntityChanges  bool    `json:"queryEntityChanges,omitempty"`
}

// BlockPointer identifies a block by both number and hash, the unit the
// bisection state machine narrows down to.
type BlockPointer struct {
	Number uint64 `json:"number"`
	Hash   Hash32 `json:"hash"`
}

// DivergenceBlockBounds is the final output of a converged bisection run:
// the last block both indexers agreed on, and the first one they didn't.
type DivergenceBlockBounds struct {
	LowerBound BlockPointer `json:"lowerBound"`
	UpperBound BlockPointer `json:"upperBound"`
}

// BisectionReport is one block's worth of collected cache data for both
// sides of a diverging pair, gathered in the Collecting state.
type BisectionReport struct {
	Block           uint64      `json:"block"`
	Indexer1Response interface{} `json:"indexer1Response"`
	Indexer2Response interface{} `json:"indexer2Response"`
}

// BisectionRunReport is the outcome of bisecting one unordered pair of
// diverging PoIs. Error is non-nil only when the run could not converge
// (spec §7: BisectionUnresolvable).
type BisectionRunReport struct {
	UUID                  string                 `json:"uuid"`
	Poi1                  Hash32                 `json:"poi1"`
	Poi2                  Hash32                 `json:"poi2"`
	Indexer1              Address20              `json:"indexer1"`
	Indexer2              Address20              `json:"indexer2"`
	DeploymentCid         string                 `json:"deployment"`
	DivergenceBlockBounds *DivergenceBlockBounds `json:"divergenceBlockBounds,omitempty"`
	Bisects               []BisectionReport      `json:"bisects"`
	Error                 *string                `json:"error,omitempty"`
}

// InvestigationReport is the full report written for one investigation
// request: one BisectionRunReport per unordered pair of input PoIs.
type InvestigationReport struct {
	UUID  string                `json:"uuid"`
	Runs  []BisectionRunReport  `json:"runs"`
	Error *string               `json:"error,omitempty"`
}
