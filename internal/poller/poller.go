// Package poller implements the Poller component (spec §2, §4.1): the
// periodic cross-checking loop that resolves the indexer pool, fetches
// indexing statuses, chooses a comparison block per deployment, fetches
// PoIs, and persists observations.
package poller

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/graphops/graphix/internal/config"
	"github.com/graphops/graphix/internal/graphixerr"
	"github.com/graphops/graphix/internal/indexerclient"
	"github.com/graphops/graphix/internal/metrics"
	"github.com/graphops/graphix/internal/models"
	"github.com/graphops/graphix/internal/networksubgraph"
	"github.com/graphops/graphix/internal/store"
)

// defaultConcurrency is the fleet-wide concurrency cap for per-indexer work
// in steps 2, 4 and 6 (spec §4.1 "Concurrency").
const defaultConcurrency = 32

// Poller runs the periodic cross-checking loop on a ticker.
type Poller struct {
	store       store.Store
	nsClient    networksubgraph.Client
	sources     []config.Source
	chains      map[string]config.ChainConfig
	policy      config.BlockChoicePolicy
	period      time.Duration
	concurrency int
	metrics     *metrics.Metrics

	// newIndexerClient builds a Client for an index-node endpoint. Overridable
	// in tests; defaults to indexerclient.NewHTTPClient.
	newIndexerClient func(endpoint string) indexerclient.Client

	networkName string // the chain name observations are recorded under

	// onRoundComplete, if set, fires after every round finishes, successful
	// or not. Grounded on the teacher's ingester.Config.OnNewBlock/
	// OnIndexedRange callback fields; internal/api wires this to its
	// websocket round-completion feed.
	onRoundComplete func()
}

// SetOnRoundComplete installs a callback invoked once at the end of every
// round, after step 6. Not safe to call concurrently with Start.
func (p *Poller) SetOnRoundComplete(fn func()) {
	p.onRoundComplete = fn
}

// New constructs a Poller from effective configuration. networkName names
// the Network row observations are grouped under (spec §3); Graphix monitors
// one indexing network's worth of deployments per running instance.
func New(cfg *config.Config, networkName string, st store.Store, nsClient networksubgraph.Client, m *metrics.Metrics) *Poller {
	return &Poller{
		store:       st,
		nsClient:    nsClient,
		sources:     cfg.Sources,
		chains:      cfg.Chains,
		policy:      cfg.BlockChoicePolicy,
		period:      cfg.PollingPeriod(),
		concurrency: defaultConcurrency,
		metrics:     m,
		networkName: networkName,
		newIndexerClient: func(endpoint string) indexerclient.Client {
			return indexerclient.NewHTTPClient(endpoint, nil)
		},
	}
}

// Start runs an immediate round, then one every p.period, until ctx is
// canceled. Grounded on the teacher's NetworkPoller.Start ticker loop.
func (p *Poller) Start(ctx context.Context) {
	log.Printf("[Poller] starting (period: %s)", p.period)

	p.round(ctx)

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[Poller] stopping")
			return
		case <-ticker.C:
			p.round(ctx)
		}
	}
}

type statusReport struct {
	indexer resolvedIndexer
	status  indexerclient.IndexingStatus
}

// plannedRequest is one indexer's batch of (deployment, block) PoI requests
// for the current round, assembled in step 3 and executed in step 4.
type plannedRequest struct {
	indexer resolvedIndexer
	reqs    []indexerclient.PoiRequest
}

func (p *Poller) round(ctx context.Context) {
	if p.metrics != nil {
		timer := p.metrics.NewRoundTimer()
		defer timer.ObserveDuration()
	}

	pool := p.resolvePool(ctx)
	if p.metrics != nil {
		p.metrics.SetPoolSize(len(pool))
	}
	if len(pool) == 0 {
		log.Println("[Poller] round: empty pool, nothing to do")
		if p.onRoundComplete != nil {
			p.onRoundComplete()
		}
		return
	}

	// Step 2: fetch indexing statuses in parallel.
	reports := p.fetchStatuses(ctx, pool)

	// Step 3: group by deployment and choose a comparison block.
	byDeployment := make(map[string][]statusReport)
	for _, r := range reports {
		byDeployment[r.status.DeploymentCid] = append(byDeployment[r.status.DeploymentCid], r)
	}

	planned := make(map[models.Address20]*plannedRequest)
	for deploymentCid, rs := range byDeployment {
		latest := make([]uint64, len(rs))
		for i, r := range rs {
			latest[i] = r.status.LatestBlock
		}
		block, ok := chooseBlock(p.policy, latest)
		if !ok {
			// Single reporter: skipped for PoI comparison, but still recorded
			// in the deployment catalog (spec §4.1 step 3, §3).
			if err := p.store.CatalogDeployment(ctx, p.networkName, deploymentCid); err != nil {
				log.Printf("[Poller] catalog deployment %s: %v", deploymentCid, err)
			}
			continue
		}
		for _, r := range rs {
			if r.status.LatestBlock < block {
				continue // this indexer hasn't synced far enough to answer at the chosen block
			}
			pr, exists := planned[r.indexer.addr]
			if !exists {
				pr = &plannedRequest{indexer: r.indexer}
				planned[r.indexer.addr] = pr
			}
			pr.reqs = append(pr.reqs, indexerclient.PoiRequest{DeploymentCid: deploymentCid, BlockNumber: block})
		}
	}

	plannedList := make([]*plannedRequest, 0, len(planned))
	for _, pr := range planned {
		plannedList = append(plannedList, pr)
	}

	// Step 4 + 5: fetch PoIs and persist, per indexer, bounded concurrency.
	runBounded(ctx, p.concurrency, plannedList, func(ctx context.Context, pr *plannedRequest) {
		p.fetchAndPersist(ctx, pr.indexer, pr.reqs)
	})

	// Step 6: refresh metadata for the whole pool, independent of PoI success.
	runBounded(ctx, p.concurrency, pool, func(ctx context.Context, idx resolvedIndexer) {
		p.refreshMetadata(ctx, idx)
	})

	if p.onRoundComplete != nil {
		p.onRoundComplete()
	}
}

// fetchStatuses calls IndexingStatuses for every pool member with a bounded
// concurrency fan-out (spec §4.1 step 2), grounded on the teacher's
// fetchBatchParallel semaphore pattern.
func (p *Poller) fetchStatuses(ctx context.Context, pool []resolvedIndexer) []statusReport {
	var mu sync.Mutex
	var out []statusReport

	runBounded(ctx, p.concurrency, pool, func(ctx context.Context, idx resolvedIndexer) {
		callCtx, cancel := context.WithTimeout(ctx, indexerclient.StatusesTimeout)
		defer cancel()

		statuses, err := idx.client.IndexingStatuses(callCtx)
		if p.metrics != nil {
			p.metrics.ObserveIndexingStatusesRequest(idx.name, err == nil)
		}
		if err != nil {
			log.Printf("[Poller] %s: indexingStatuses: %v", idx.name, err)
			_ = p.store.RecordFailedQuery(ctx, idx.addr, "indexingStatuses", "", "", err.Error())
			return
		}

		mu.Lock()
		for _, s := range statuses {
			out = append(out, statusReport{indexer: idx, status: s})
		}
		mu.Unlock()
	})
	return out
}

func (p *Poller) fetchAndPersist(ctx context.Context, idx resolvedIndexer, reqs []indexerclient.PoiRequest) {
	if len(reqs) == 0 {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, indexerclient.PoiBatchTimeout)
	defer cancel()

	results, err := idx.client.PublicPois(callCtx, reqs)
	if p.metrics != nil {
		p.metrics.ObservePublicPoisRequest(idx.name, err == nil)
	}
	if err != nil {
		log.Printf("[Poller] %s: publicPois: %v", idx.name, err)
		_ = p.store.RecordFailedQuery(ctx, idx.addr, "publicProofsOfIndexing", "", "", err.Error())
		return
	}

	for _, r := range results {
		if r.Err != nil {
			log.Printf("[Poller] %s: malformed poi for %s@%d: %v", idx.name, r.DeploymentCid, r.BlockNumber, r.Err)
			_ = p.store.RecordFailedQuery(ctx, idx.addr, "publicProofsOfIndexing", "", "", r.Err.Error())
			continue
		}

		_, err := p.store.RecordObservation(ctx, store.PoiObservation{
			NetworkName:   p.networkName,
			DeploymentCid: r.DeploymentCid,
			IndexerAddr:   idx.addr,
			BlockHash:     r.BlockHash,
			BlockNumber:   r.BlockNumber,
			PoiHash:       r.Hash,
		})
		if err != nil {
			if errors.Is(err, graphixerr.ErrStoreUnavailable) {
				log.Printf("[Poller] %s: store unavailable, skipping remaining observations for this indexer: %v", idx.name, err)
				return
			}
			log.Printf("[Poller] %s: record observation: %v", idx.name, err)
		}
	}
}

func (p *Poller) refreshMetadata(ctx context.Context, idx resolvedIndexer) {
	callCtx, cancel := context.WithTimeout(ctx, indexerclient.MetadataTimeout)
	defer cancel()

	v, err := idx.client.Version(callCtx)
	if err != nil {
		_ = p.store.UpsertIndexerVersion(ctx, idx.addr, "", "", err.Error())
	} else {
		_ = p.store.UpsertIndexerVersion(ctx, idx.addr, v.Version, v.Commit, "")
	}
}

// runBounded runs fn for every item concurrently, capped at concurrency in
// flight at once, and waits for all of them to finish. Grounded on the
// teacher's fetchBatchParallel (internal/ingester/service.go): a buffered
// channel as a semaphore plus a WaitGroup.
func runBounded[T any](ctx context.Context, concurrency int, items []T, fn func(context.Context, T)) {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, item := range items {
		item := item
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, item)
		}()
	}
	wg.Wait()
}
