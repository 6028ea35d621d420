package models

// PoiAgreementRatio is one row of the agreement-ratio computation (spec §4.2):
// for an indexer's live PoI on a deployment, how many indexers' live PoIs
// for the same deployment agree with it, counting the indexer itself.
type PoiAgreementRatio struct {
	Poi                Hash32 `json:"poi"`
	DeploymentCid      string `json:"deployment"`
	BlockNumber        uint64 `json:"block"`
	TotalIndexers      int    `json:"totalIndexers"`
	NAgreeingIndexers  int    `json:"nAgreeingIndexers"`
	NDisagreeingIndexers int  `json:"nDisagreeingIndexers"`
	HasConsensus       bool   `json:"hasConsensus"`
	InConsensus        bool   `json:"inConsensus"`
}

// LivePoiView is the minimal projection of a live PoI the agreement
// computation needs: which indexer holds it, at which block, with which
// hash, for a single deployment.
type LivePoiView struct {
	IndexerID   int64
	IndexerAddr Address20
	BlockNumber uint64
	Hash        Hash32
}
