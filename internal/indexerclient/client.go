// Package indexerclient implements the IndexerClient capability (spec §2,
// §6.2): typed, timeboxed access to one remote indexer's GraphQL endpoint.
package indexerclient

import (
	"context"
	"time"

	"github.com/graphops/graphix/internal/models"
)

// IndexingStatus is one deployment's reported sync state, as returned by
// indexingStatuses (spec §4.1 step 2).
type IndexingStatus struct {
	DeploymentCid   string
	NetworkChain    string
	LatestBlock     uint64
	ChainHeadBlock  uint64
	EarliestBlock   uint64
}

// PoiRequest is one (deployment, block) tuple in a public_pois batch.
type PoiRequest struct {
	DeploymentCid string
	BlockNumber   uint64
}

// PoiResult is one returned PoI. Hash and BlockHash are validated to be
// exactly 32 bytes while the response is decoded (spec §4.1 step 4);
// Err is set, and the other fields are not trustworthy, when this indexer
// could not answer for this particular request, or answered with a
// malformed hash, within an otherwise successful batch call.
type PoiResult struct {
	DeploymentCid string
	BlockNumber   uint64
	BlockHash     models.Hash32
	Hash          models.Hash32
	Err           error
}

// VersionInfo is the result of a version() call.
type VersionInfo struct {
	Version string
	Commit  string
}

// BlockCacheEntry, EthCallCacheEntry and EntityChangeSet are opaque
// JSON-shaped payloads: Graphix does not interpret their contents, it only
// stores and displays them verbatim in a BisectionReport (spec §4.3,
// Collecting state).
type BlockCacheEntry = map[string]interface{}
type EthCallCacheEntry = map[string]interface{}
type EntityChangeSet = map[string]interface{}

// Client is the IndexerClient capability: typed access to one remote
// indexer. Every method is fallible, timeboxed by the caller via ctx, and
// expected to be wrapped with graphixerr.ErrIndexerUnavailable by callers
// that need to record a failed_queries row.
type Client interface {
	// Endpoint is the index-node GraphQL endpoint this client talks to, used
	// for logging and failed_queries rows.
	Endpoint() string

	IndexingStatuses(ctx context.Context) ([]IndexingStatus, error)
	PublicPois(ctx context.Context, requests []PoiRequest) ([]PoiResult, error)
	Version(ctx context.Context) (VersionInfo, error)
	BlockCache(ctx context.Context, network string, blockHash models.Hash32) (BlockCacheEntry, error)
	EthCallCache(ctx context.Context, network string, blockHash models.Hash32) ([]EthCallCacheEntry, error)
	EntityChanges(ctx context.Context, deploymentCid string, block uint64) (EntityChangeSet, error)
}

// Default per-call deadlines (spec §5 Timeouts).
const (
	StatusesTimeout = 30 * time.Second
	PoiBatchTimeout = 60 * time.Second
	MetadataTimeout = 30 * time.Second
)
