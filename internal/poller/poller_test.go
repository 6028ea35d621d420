package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/graphops/graphix/internal/config"
	"github.com/graphops/graphix/internal/indexerclient"
	"github.com/graphops/graphix/internal/models"
	"github.com/graphops/graphix/internal/store"
)

// fakeClient is a scripted indexerclient.Client for one indexer.
type fakeClient struct {
	endpoint string
	statuses []indexerclient.IndexingStatus
	pois     map[string]models.Hash32 // "cid@block" -> hash
	version  indexerclient.VersionInfo

	mu    sync.Mutex
	calls int
}

func (f *fakeClient) Endpoint() string { return f.endpoint }

func (f *fakeClient) IndexingStatuses(ctx context.Context) ([]indexerclient.IndexingStatus, error) {
	return f.statuses, nil
}

func (f *fakeClient) PublicPois(ctx context.Context, reqs []indexerclient.PoiRequest) ([]indexerclient.PoiResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	out := make([]indexerclient.PoiResult, len(reqs))
	for i, r := range reqs {
		hash := f.pois[key(r.DeploymentCid, r.BlockNumber)]
		out[i] = indexerclient.PoiResult{
			DeploymentCid: r.DeploymentCid,
			BlockNumber:   r.BlockNumber,
			BlockHash:     blockHashFor(r.BlockNumber),
			Hash:          hash,
		}
	}
	return out, nil
}

func (f *fakeClient) Version(ctx context.Context) (indexerclient.VersionInfo, error) {
	return f.version, nil
}

func (f *fakeClient) BlockCache(ctx context.Context, network string, blockHash models.Hash32) (indexerclient.BlockCacheEntry, error) {
	return nil, nil
}

func (f *fakeClient) EthCallCache(ctx context.Context, network string, blockHash models.Hash32) ([]indexerclient.EthCallCacheEntry, error) {
	return nil, nil
}

func (f *fakeClient) EntityChanges(ctx context.Context, deploymentCid string, block uint64) (indexerclient.EntityChangeSet, error) {
	return nil, nil
}

func key(cid string, block uint64) string {
	return cid + "@" + itoa(block)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func blockHashFor(n uint64) models.Hash32 {
	var h models.Hash32
	h[31] = byte(n)
	return h
}

// fakeStore implements store.Store, recording every RecordObservation and
// CatalogDeployment call.
type fakeStore struct {
	mu                   sync.Mutex
	observations         []store.PoiObservation
	recordCalls          int
	catalogedDeployments []string
}

func (s *fakeStore) RecordObservation(ctx context.Context, obs store.PoiObservation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordCalls++
	for _, o := range s.observations {
		if o == obs {
			return false, nil // idempotent re-observation
		}
	}
	s.observations = append(s.observations, obs)
	return true, nil
}

func (s *fakeStore) CatalogDeployment(ctx context.Context, networkName, deploymentCid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalogedDeployments = append(s.catalogedDeployments, deploymentCid)
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
func (s *fakeStore) ResolveLivePoiByHash(ctx context.Context, hash models.Hash32) (store.ResolvedPoi, error) {
	return store.ResolvedPoi{}, nil
}
func (s *fakeStore) EnqueueInvestigationRequest(ctx context.Context, uuid string, payload []byte) error {
	return nil
}
func (s *fakeStore) DequeuePendingInvestigationRequests(ctx context.Context, limit int) ([]models.PendingDivergenceInvestigationRequest, error) {
	return nil, nil
}
func (s *fakeStore) CompleteInvestigation(ctx context.Context, uuid string, reportJSON []byte) error {
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
var _ indexerclient.Client = (*fakeClient)(nil)

func newTestPoller(t *testing.T, st *fakeStore, clients map[string]*fakeClient, policy config.BlockChoicePolicy) *Poller {
	t.Helper()

	var sources []config.Source
	for addr := range clients {
		sources = append(sources, config.Source{Type: config.SourceIndexer, Address: addr, Name: addr, IndexNodeEndpoint: addr})
	}

	p := New(&config.Config{
		Sources:                sources,
		BlockChoicePolicy:      policy,
		PollingPeriodInSeconds: 120,
	}, "test-network", st, nil, nil)

	p.newIndexerClient = func(endpoint string) indexerclient.Client {
		return clients[endpoint]
	}
	return p
}

const (
	addrA = "0x00000000000000000000000000000000000000aa"
	addrB = "0x00000000000000000000000000000000000000bb"
	addrC = "0x00000000000000000000000000000000000000cc"
)

func agreeingHash() models.Hash32 {
	var h models.Hash32
	h[31] = 0xaa
	return h
}

// TestRound_S1_TwoAgreeingIndexers covers scenario S1 at the poller level:
// two indexers report the same PoI for the same deployment/block and both
// observations get persisted.
func TestRound_S1_TwoAgreeingIndexers(t *testing.T) {
	t.Parallel()

	status := []indexerclient.IndexingStatus{{DeploymentCid: "Qm1", LatestBlock: 100}}
	pois := map[string]models.Hash32{"Qm1@100": agreeingHash()}

	clients := map[string]*fakeClient{
		addrA: {endpoint: addrA, statuses: status, pois: pois},
		addrB: {endpoint: addrB, statuses: status, pois: pois},
	}
	st := &fakeStore{}
	p := newTestPoller(t, st, clients, config.PolicyEarliest)

	p.round(context.Background())

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.observations) != 2 {
		t.Fatalf("expected 2 observations, got %d: %+v", len(st.observations), st.observations)
	}
}

// TestRound_SingleReporter_SkippedForComparison: a deployment with only one
// reporting indexer is cataloged (status fetched) but produces no PoI
// request, since chooseBlock requires at least 2 reporters.
func TestRound_SingleReporter_SkippedForComparison(t *testing.T) {
	t.Parallel()

	status := []indexerclient.IndexingStatus{{DeploymentCid: "Qm1", LatestBlock: 100}}
	c := &fakeClient{endpoint: addrA, statuses: status, pois: map[string]models.Hash32{"Qm1@100": agreeingHash()}}
	clients := map[string]*fakeClient{addrA: c}

	st := &fakeStore{}
	p := newTestPoller(t, st, clients, config.PolicyEarliest)
	p.round(context.Background())

	if c.calls != 0 {
		t.Fatalf("expected no publicPois call for a single reporter, got %d", c.calls)
	}
	if len(st.observations) != 0 {
		t.Fatalf("expected no observations, got %+v", st.observations)
	}
	if len(st.catalogedDeployments) != 1 || st.catalogedDeployments[0] != "Qm1" {
		t.Fatalf("expected Qm1 to still be cataloged despite having a single reporter, got %+v", st.catalogedDeployments)
	}
}

// TestRound_Idempotent is testable property 2: running the same round twice
// with unchanged indexer responses does not grow the observation set.
func TestRound_Idempotent(t *testing.T) {
	t.Parallel()

	status := []indexerclient.IndexingStatus{{DeploymentCid: "Qm1", LatestBlock: 100}}
	pois := map[string]models.Hash32{"Qm1@100": agreeingHash()}
	clients := map[string]*fakeClient{
		addrA: {endpoint: addrA, statuses: status, pois: pois},
		addrB: {endpoint: addrB, statuses: status, pois: pois},
	}
	st := &fakeStore{}
	p := newTestPoller(t, st, clients, config.PolicyEarliest)

	p.round(context.Background())
	first := len(st.observations)
	p.round(context.Background())
	second := len(st.observations)

	if first != second {
		t.Fatalf("expected idempotent rounds, got %d then %d observations", first, second)
	}
}

// TestRound_MaxSyncedBlocks_S4 reproduces scenario S4's 5-reporter majority
// block choice end to end through the orchestration, not just chooseBlock.
func TestRound_MaxSyncedBlocks_S4(t *testing.T) {
	t.Parallel()

	latest := []uint64{80, 90, 100, 110, 120}
	names := []string{addrA, addrB, addrC, "0x00000000000000000000000000000000000000dd", "0x00000000000000000000000000000000000000ee"}

	clients := make(map[string]*fakeClient, len(names))
	for i, n := range names {
		status := []indexerclient.IndexingStatus{{DeploymentCid: "Qm1", LatestBlock: latest[i]}}
		pois := map[string]models.Hash32{"Qm1@100": agreeingHash()}
		clients[n] = &fakeClient{endpoint: n, statuses: status, pois: pois}
	}

	st := &fakeStore{}
	p := newTestPoller(t, st, clients, config.PolicyMaxSyncedBlocks)
	p.round(context.Background())

	st.mu.Lock()
	defer st.mu.Unlock()
	for _, o := range st.observations {
		if o.BlockNumber != 100 {
			t.Fatalf("expected chosen block 100 per S4, got %d", o.BlockNumber)
		}
	}
	// Only the 3 indexers synced to >=100 (100, 110, 120) can answer.
	if len(st.observations) != 3 {
		t.Fatalf("expected 3 qualifying observations, got %d: %+v", len(st.observations), st.observations)
	}
}

func TestChooseBlock_FewerThanTwoReporters(t *testing.T) {
	t.Parallel()
	if _, ok := chooseBlock(config.PolicyEarliest, []uint64{100}); ok {
		t.Fatalf("expected ok=false for a single reporter")
	}
	if _, ok := chooseBlock(config.PolicyEarliest, nil); ok {
		t.Fatalf("expected ok=false for no reporters")
	}
}

func TestChooseBlock_Earliest_S3(t *testing.T) {
	t.Parallel()
	// S3: 3 reporters {100, 110, 120} -> earliest picks 100.
	got, ok := chooseBlock(config.PolicyEarliest, []uint64{100, 110, 120})
	if !ok || got != 100 {
		t.Fatalf("expected (100, true), got (%d, %v)", got, ok)
	}
}

func init() {
	// sanity check that the test timeout constants used by fakeClient callers
	// are sane in case indexerclient's defaults change underfoot.
	if indexerclient.StatusesTimeout <= 0 || indexerclient.PoiBatchTimeout <= 0 || indexerclient.MetadataTimeout <= 0 {
		panic("indexerclient timeouts must be positive")
	}
	_ = time.Second
}
