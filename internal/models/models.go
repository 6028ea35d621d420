// Package models holds the relational entities described by the Graphix data
// model: networks, indexers, subgraph deployments, blocks, proofs of
// indexing, and the two job tables backing the divergence investigation
// protocol.
package models

import "time"

// Network is a chain Graphix tracks deployments and blocks against.
type Network struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Caip2     *string   `json:"caip2,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Indexer is a network participant identified by its 20-byte address.
type Indexer struct {
	ID          int64      `json:"id"`
	Address     Address20  `json:"address"`
	DisplayName *string    `json:"displayName,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	Version     *IndexerVersion              `json:"version,omitempty"`
	Metadata    *IndexerNetworkSubgraphMetadata `json:"metadata,omitempty"`
}

// SgDeployment is a subgraph deployment identified by its IPFS CID.
type SgDeployment struct {
	ID        int64     `json:"id"`
	IpfsCid   string    `json:"ipfsCid"`
	NetworkID int64     `json:"networkId"`
	Name      *string   `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Block is a (network, hash) pair; Number is denormalized for range queries.
type Block struct {
	ID        int64     `json:"id"`
	NetworkID int64     `json:"networkId"`
	Hash      Hash32    `json:"hash"`
	Number    uint64    `json:"number"`
	CreatedAt time.Time `json:"createdAt"`
}

// PoI is one observation of an indexer's fingerprint of a deployment's
// indexed state at a block. Rows are append-only.
type PoI struct {
	ID           int64     `json:"id"`
	DeploymentID int64     `json:"deploymentId"`
	IndexerID    int64     `json:"indexerId"`
	BlockID      int64     `json:"blockId"`
	Hash         Hash32    `json:"hash"`
	CreatedAt    time.Time `json:"createdAt"`

	// Denormalized convenience fields, populated by queries that join through
	// to the referenced block/deployment/indexer; zero value when unset.
	BlockNumber  uint64    `json:"blockNumber,omitempty"`
	BlockHash    Hash32    `json:"blockHash,omitempty"`
	DeploymentCid string   `json:"deploymentCid,omitempty"`
	IndexerAddr  Address20 `json:"indexerAddress,omitempty"`
}

// LivePoi points at the most recent PoI Graphix holds for an
// (indexer, deployment) pair. It is what agreement computations read.
type LivePoi struct {
	DeploymentID int64 `json:"deploymentId"`
	IndexerID    int64 `json:"indexerId"`
	PoiID        int64 `json:"poiId"`
}

// IndexerVersion is an append-only record of an indexer's self-reported
// software version, or the error encountered while fetching it.
type IndexerVersion struct {
	IndexerID int64     `json:"indexerId"`
	Version   *string   `json:"version,omitempty"`
	Commit    *string   `json:"commit,omitempty"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// IndexerNetworkSubgraphMetadata is the latest stake/allocation/reward
// snapshot Graphix has for an indexer, written through
// Store.UpsertIndexerMetadata. The Poller's per-round metadata refresh records
// only the indexer's version and does not write this snapshot.
type IndexerNetworkSubgraphMetadata struct {
	IndexerID        int64     `json:"indexerId"`
	StakedTokens     string    `json:"stakedTokens"`
	AllocatedTokens  string    `json:"allocatedTokens"`
	RewardsEarned    string    `json:"rewardsEarned"`
	Geohash          *string   `json:"geohash,omitempty"`
	URL              *string   `json:"url,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// FailedQuery is an append-only diagnostic ring of failed IndexerClient /
// NetworkSubgraphClient calls.
type FailedQuery struct {
	ID               int64     `json:"id"`
	IndexerID        int64     `json:"indexerId"`
	QueryName        string    `json:"queryName"`
	RequestTimestamp time.Time `json:"requestTimestamp"`
	RawQuery         *string   `json:"rawQuery,omitempty"`
	Response         *string   `json:"response,omitempty"`
	Error            string    `json:"error"`
}

// PendingDivergenceInvestigationRequest is a durable queue row: a user
// submitted a divergence investigation and it has not produced a report yet.
type PendingDivergenceInvestigationRequest struct {
	UUID      string    `json:"uuid"`
	Request   []byte    `json:"request"` // opaque JSON payload, see InvestigationRequest
	CreatedAt time.Time `json:"createdAt"`
}

// DivergenceInvestigationReport is the immutable output of one investigation,
// keyed by the same UUID as the request that produced it.
type DivergenceInvestigationReport struct {
	UUID      string    `json:"uuid"`
	Report    []byte    `json:"report"` // opaque JSON payload, see InvestigationReport
	CreatedAt time.Time `json:"createdAt"`
}

// ApiToken is an admin-issued bearer credential. Only the SHA-256 hash of
// the full token is stored; PublicPrefix is shown back to operators so they
// can recognize which token is which without re-reading the secret.
type ApiToken struct {
	PublicPrefix string    `json:"publicPrefix"`
	HashHex      string    `json:"-"`
	Permission   string    `json:"permission"` // "read" | "admin"
	Notes        *string   `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ConfigSnapshot is an append-only audit row of the effective configuration
// at the time it was loaded.
type ConfigSnapshot struct {
	ID        int64     `json:"id"`
	JSON      []byte    `json:"json"`
	CreatedAt time.Time `json:"createdAt"`
}

// InvestigationStatus is the status exposed via the API for a given UUID.
type InvestigationStatus string

const (
	InvestigationPending    InvestigationStatus = "PENDING"
	InvestigationInProgress InvestigationStatus = "IN_PROGRESS"
	InvestigationComplete   InvestigationStatus = "COMPLETE"
)
