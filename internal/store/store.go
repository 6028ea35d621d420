// Package store defines the Store capability (spec §2, §3): durable
// relational storage for the canonical entity graph, plus the two persisted
// job tables backing the divergence investigation protocol. The core engine
// (Poller, DivergenceInvestigator, agreement computation) depends only on
// this interface; internal/store/postgres provides the concrete
// implementation used in production.
package store

import (
	"context"
	"time"

	"github.com/graphops/graphix/internal/models"
)

// PoiObservation is one (deployment, indexer, block, hash) tuple the Poller
// writes in a single transaction (spec §4.1 step 5).
type PoiObservation struct {
	NetworkName   string
	DeploymentCid string
	IndexerAddr   models.Address20
	BlockHash     models.Hash32
	BlockNumber   uint64
	PoiHash       models.Hash32
}

// DeploymentFilter, IndexerFilter and PoiFilter are the optional filters the
// read surface (spec §6.3) accepts; a zero value matches everything.
type DeploymentFilter struct {
	IpfsCid   string
	NetworkID int64
}

type IndexerFilter struct {
	Address models.Address20
}

type PoiFilter struct {
	DeploymentCid string
	IndexerAddr   models.Address20
	BlockNumber   uint64
}

// Store is the full capability surface the core engine invokes.
type Store interface {
	// --- Poller writes (spec §4.1 step 5) ---

	// RecordObservation upserts Network/Deployment/Block as needed, inserts
	// the PoI if it doesn't already exist for (deployment, indexer, block),
	// and upserts live_pois — all within one transaction. Returns whether a
	// new PoI row was created (false when idempotently re-observed).
	RecordObservation(ctx context.Context, obs PoiObservation) (created bool, err error)

	// CatalogDeployment upserts Network/Deployment for a deployment reported
	// by only one indexer this round — skipped for PoI comparison (spec
	// §4.1 step 3) but still recorded in the deployment catalog (spec §3:
	// SgDeployment "Created on first observation").
	CatalogDeployment(ctx context.Context, networkName, deploymentCid string) error

	UpsertIndexerVersion(ctx context.Context, indexerAddr models.Address20, version, commit, errMsg string) error
	UpsertIndexerMetadata(ctx context.Context, indexerAddr models.Address20, stakedTokens, allocatedTokens, rewardsEarned, geohash, url string) error
	RecordFailedQuery(ctx context.Context, indexerAddr models.Address20, queryName string, rawQuery, response, errMsg string) error
	RecordConfigSnapshot(ctx context.Context, json []byte) error

	// --- Read surface (spec §4.2, §6.3) ---

	ListNetworks(ctx context.Context) ([]models.Network, error)
	ListDeployments(ctx context.Context, filter DeploymentFilter) ([]models.SgDeployment, error)
	ListIndexers(ctx context.Context, filter IndexerFilter) ([]models.Indexer, error)
	ListPois(ctx context.Context, filter PoiFilter) ([]models.PoI, error)
	ListLivePois(ctx context.Context, filter PoiFilter) ([]models.PoI, error)

	// LivePoisForDeployment returns the live PoI of every indexer for the
	// given deployment — the set S of spec §4.2.
	LivePoisForDeployment(ctx context.Context, deploymentCid string) ([]models.LivePoiView, error)

	SetDeploymentName(ctx context.Context, ipfsCid, name string) error
	DeleteNetwork(ctx context.Context, name string) error

	// ResolveLivePoiByHash resolves a submitted PoI hash to the
	// (indexer, deployment, block) it is currently the live observation for
	// (spec §4.3, InvestigationInputInvalid when it doesn't resolve).
	ResolveLivePoiByHash(ctx context.Context, hash models.Hash32) (ResolvedPoi, error)

	// --- Divergence investigation job tables (spec §4.3, §9) ---

	EnqueueInvestigationRequest(ctx context.Context, uuid string, payload []byte) error
	DequeuePendingInvestigationRequests(ctx context.Context, limit int) ([]models.PendingDivergenceInvestigationRequest, error)
	// CompleteInvestigation atomically inserts the report and deletes the
	// pending row (spec §4.3 Done state).
	CompleteInvestigation(ctx context.Context, uuid string, reportJSON []byte) error
	GetInvestigationReport(ctx context.Context, uuid string) (*models.DivergenceInvestigationReport, error)
	HasPendingInvestigation(ctx context.Context, uuid string) (bool, error)

	// --- ApiToken (spec §3; admin-managed, issuance out of scope) ---

	LookupApiToken(ctx context.Context, hashHex string) (*models.ApiToken, error)

	Close()
}

// ResolvedPoi is what ResolveLivePoiByHash returns for one input hash.
type ResolvedPoi struct {
	IndexerID     int64
	IndexerAddr   models.Address20
	DeploymentID  int64
	DeploymentCid string
	BlockNumber   uint64
	BlockHash     models.Hash32
	CreatedAt     time.Time
}
