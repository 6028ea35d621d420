package investigator

import (
	"context"
	"math"
	"testing"

	"github.com/graphops/graphix/internal/indexerclient"
	"github.com/graphops/graphix/internal/models"
	"github.com/graphops/graphix/internal/store"
)

// truthClient answers PublicPois according to a per-block truth table:
// agreeing on [0, divergeAt-1], disagreeing from divergeAt on — scenario S5.
// It also counts PublicPois requests, so tests can assert the bisection
// protocol's round-trip bound (testable property 6).
type truthClient struct {
	endpoint  string
	divergeAt uint64
	side      byte // distinguishes the two sides' hash once diverged
	earliest  uint64
	network   string
	queries   int
}

func (c *truthClient) Endpoint() string { return c.endpoint }

func (c *truthClient) IndexingStatuses(ctx context.Context) ([]indexerclient.IndexingStatus, error) {
	return []indexerclient.IndexingStatus{{DeploymentCid: "Qm1", NetworkChain: c.network, EarliestBlock: c.earliest, LatestBlock: 100}}, nil
}

func (c *truthClient) PublicPois(ctx context.Context, reqs []indexerclient.PoiRequest) ([]indexerclient.PoiResult, error) {
	c.queries++
	out := make([]indexerclient.PoiResult, len(reqs))
	for i, r := range reqs {
		var h models.Hash32
		if r.BlockNumber < c.divergeAt {
			h[31] = 0x00
		} else {
			h[31] = c.side
		}
		out[i] = indexerclient.PoiResult{DeploymentCid: r.DeploymentCid, BlockNumber: r.BlockNumber, Hash: h, BlockHash: blockHashFor(r.BlockNumber)}
	}
	return out, nil
}

func (c *truthClient) Version(ctx context.Context) (indexerclient.VersionInfo, error) {
	return indexerclient.VersionInfo{}, nil
}
func (c *truthClient) BlockCache(ctx context.Context, network string, blockHash models.Hash32) (indexerclient.BlockCacheEntry, error) {
	return indexerclient.BlockCacheEntry{"network": network}, nil
}
func (c *truthClient) EthCallCache(ctx context.Context, network string, blockHash models.Hash32) ([]indexerclient.EthCallCacheEntry, error) {
	return nil, nil
}
func (c *truthClient) EntityChanges(ctx context.Context, deploymentCid string, block uint64) (indexerclient.EntityChangeSet, error) {
	return nil, nil
}

func blockHashFor(n uint64) models.Hash32 {
	var h models.Hash32
	h[31] = byte(n)
	return h
}

var _ indexerclient.Client = (*truthClient)(nil)

// fakeStore resolves two fixed PoI hashes to two fixed indexers at block 100
// on deployment Qm1, and records completed investigations. Only the methods
// the investigator actually calls do anything; the rest are no-ops to
// satisfy store.Store.
type fakeStore struct {
	resolved map[models.Hash32]store.ResolvedPoi
	reports  map[string][]byte
}

func (s *fakeStore) ResolveLivePoiByHash(ctx context.Context, hash models.Hash32) (store.ResolvedPoi, error) {
	r, ok := s.resolved[hash]
	if !ok {
		return store.ResolvedPoi{}, context.DeadlineExceeded // any non-nil error
	}
	return r, nil
}

func (s *fakeStore) CompleteInvestigation(ctx context.Context, uuid string, reportJSON []byte) error {
	if s.reports == nil {
		s.reports = make(map[string][]byte)
	}
	s.reports[uuid] = reportJSON
	return nil
}

func (s *fakeStore) DequeuePendingInvestigationRequests(ctx context.Context, limit int) ([]models.PendingDivergenceInvestigationRequest, error) {
	return nil, nil
}

func (s *fakeStore) RecordObservation(ctx context.Context, obs store.PoiObservation) (bool, error) {
	return false, nil
}
func (s *fakeStore) CatalogDeployment(ctx context.Context, networkName, deploymentCid string) error {
	return nil
}
func (s *fakeStore) UpsertIndexerVersion(ctx context.Context, addr models.Address20, version, commit, errMsg string) error {
	return nil
}
func (s *fakeStore) UpsertIndexerMetadata(ctx context.Context, addr models.Address20, stakedTokens, allocatedTokens, rewardsEarned, geohash, url string) error {
	return nil
}
func (s *fakeStore) RecordFailedQuery(ctx context.Context, addr models.Address20, queryName, rawQuery, response, errMsg string) error {
	return nil
}
func (s *fakeStore) RecordConfigSnapshot(ctx context.Context, json []byte) error { return nil }
func (s *fakeStore) ListNetworks(ctx context.Context) ([]models.Network, error) { return nil, nil }
func (s *fakeStore) ListDeployments(ctx context.Context, f store.DeploymentFilter) ([]models.SgDeployment, error) {
	return nil, nil
}
func (s *fakeStore) ListIndexers(ctx context.Context, f store.IndexerFilter) ([]models.Indexer, error) {
	return nil, nil
}
func (s *fakeStore) ListPois(ctx context.Context, f store.PoiFilter) ([]models.PoI, error) {
	return nil, nil
}
func (s *fakeStore) ListLivePois(ctx context.Context, f store.PoiFilter) ([]models.PoI, error) {
	return nil, nil
}
func (s *fakeStore) LivePoisForDeployment(ctx context.Context, cid string) ([]models.LivePoiView, error) {
	return nil, nil
}
func (s *fakeStore) SetDeploymentName(ctx context.Context, cid, name string) error { return nil }
func (s *fakeStore) DeleteNetwork(ctx context.Context, name string) error          { return nil }
func (s *fakeStore) EnqueueInvestigationRequest(ctx context.Context, uuid string, payload []byte) error {
	return nil
}
func (s *fakeStore) GetInvestigationReport(ctx context.Context, uuid string) (*models.DivergenceInvestigationReport, error) {
	return nil, nil
}
func (s *fakeStore) HasPendingInvestigation(ctx context.Context, uuid string) (bool, error) {
	return false, nil
}
func (s *fakeStore) LookupApiToken(ctx context.Context, hashHex string) (*models.ApiToken, error) {
	return nil, nil
}
func (s *fakeStore) Close() {}

var _ store.Store = (*fakeStore)(nil)

var poi1 = models.Hash32{0: 0xaa}
var poi2 = models.Hash32{0: 0xbb}

var addrA = mustAddr("0x00000000000000000000000000000000000000aa")
var addrB = mustAddr("0x00000000000000000000000000000000000000bb")

func mustAddr(s string) models.Address20 {
	a, err := models.ParseAddress20(s)
	if err != nil {
		panic(err)
	}
	return a
}

func newTestInvestigator(st *fakeStore, clients map[models.Address20]indexerclient.Client) *Investigator {
	return New(st, nil,
		func(endpoint string) indexerclient.Client { return nil },
		func(ctx context.Context, addr models.Address20) (string, error) { return addr.String(), nil },
	)
}

// TestBisectPair_S5 reproduces scenario S5: agree on [0,42], disagree on
// [43,100]; expect divergenceBlockBounds = {42, 43} (testable property 5),
// in a number of PoI queries per indexer within property 6's
// ceil(log2(w)) + 2 bound for the bisected range's width w.
func TestBisectPair_S5(t *testing.T) {
	t.Parallel()

	clientA := &truthClient{endpoint: "a", divergeAt: 43, side: 0xaa, network: "mainnet"}
	clientB := &truthClient{endpoint: "b", divergeAt: 43, side: 0xbb, network: "mainnet"}

	st := &fakeStore{resolved: map[models.Hash32]store.ResolvedPoi{
		poi1: {IndexerID: 1, IndexerAddr: addrA, DeploymentID: 1, DeploymentCid: "Qm1", BlockNumber: 100, BlockHash: blockHashFor(100)},
		poi2: {IndexerID: 2, IndexerAddr: addrB, DeploymentID: 1, DeploymentCid: "Qm1", BlockNumber: 100, BlockHash: blockHashFor(100)},
	}}

	inv := New(st, nil,
		func(endpoint string) indexerclient.Client {
			if endpoint == addrA.String() {
				return clientA
			}
			return clientB
		},
		func(ctx context.Context, addr models.Address20) (string, error) { return addr.String(), nil },
	)

	report, err := inv.investigate(context.Background(), "req-1", models.InvestigationRequest{Pois: []models.Hash32{poi1, poi2}})
	if err != nil {
		t.Fatalf("investigate: %v", err)
	}
	if len(report.Runs) != 1 {
		t.Fatalf("expected 1 run for 2 pois, got %d", len(report.Runs))
	}

	run := report.Runs[0]
	if run.Error != nil {
		t.Fatalf("unexpected run error: %s", *run.Error)
	}
	if run.DivergenceBlockBounds == nil {
		t.Fatalf("expected divergence bounds")
	}
	if run.DivergenceBlockBounds.LowerBound.Number != 42 || run.DivergenceBlockBounds.UpperBound.Number != 43 {
		t.Fatalf("expected bounds {42,43}, got {%d,%d}",
			run.DivergenceBlockBounds.LowerBound.Number, run.DivergenceBlockBounds.UpperBound.Number)
	}

	// Property 6: requests per indexer <= ceil(log2(w)) + 2, w = hi - earliest = 100.
	bound := int(math.Ceil(math.Log2(100))) + 2
	if clientA.queries > bound {
		t.Fatalf("indexer A: %d PoI queries exceeds property-6 bound %d", clientA.queries, bound)
	}
	if clientB.queries > bound {
		t.Fatalf("indexer B: %d PoI queries exceeds property-6 bound %d", clientB.queries, bound)
	}
}

// TestBisectPair_NoCommonAncestor covers the no_common_ancestor failure: the
// two sides disagree even at the deployment's earliestBlock.
func TestBisectPair_NoCommonAncestor(t *testing.T) {
	t.Parallel()

	clientA := &truthClient{endpoint: "a", divergeAt: 0, side: 0xaa, earliest: 0}
	clientB := &truthClient{endpoint: "b", divergeAt: 0, side: 0xbb, earliest: 0}

	st := &fakeStore{resolved: map[models.Hash32]store.ResolvedPoi{
		poi1: {IndexerAddr: addrA, DeploymentCid: "Qm1", BlockNumber: 100},
		poi2: {IndexerAddr: addrB, DeploymentCid: "Qm1", BlockNumber: 100},
	}}

	inv := New(st, nil,
		func(endpoint string) indexerclient.Client {
			if endpoint == addrA.String() {
				return clientA
			}
			return clientB
		},
		func(ctx context.Context, addr models.Address20) (string, error) { return addr.String(), nil },
	)

	report, err := inv.investigate(context.Background(), "req-2", models.InvestigationRequest{Pois: []models.Hash32{poi1, poi2}})
	if err != nil {
		t.Fatalf("investigate: %v", err)
	}
	run := report.Runs[0]
	if run.Error == nil {
		t.Fatalf("expected a no_common_ancestor run error")
	}
}

// TestInvestigate_MultipleDeployments_Rejected covers InvestigationInputInvalid
// when the submitted PoIs span more than one deployment.
func TestInvestigate_MultipleDeployments_Rejected(t *testing.T) {
	t.Parallel()

	st := &fakeStore{resolved: map[models.Hash32]store.ResolvedPoi{
		poi1: {IndexerAddr: addrA, DeploymentCid: "Qm1", BlockNumber: 100},
		poi2: {IndexerAddr: addrB, DeploymentCid: "Qm2", BlockNumber: 100},
	}}
	inv := newTestInvestigator(st, nil)

	_, err := inv.investigate(context.Background(), "req-3", models.InvestigationRequest{Pois: []models.Hash32{poi1, poi2}})
	if err == nil {
		t.Fatalf("expected an error for cross-deployment pois")
	}
}
