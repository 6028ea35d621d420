// Package investigator implements the DivergenceInvestigator component
// (spec §2, §4.3): it drains pending divergence investigation requests,
// bisects each unordered pair of diverging PoIs against the two indexers
// involved, and writes an immutable report.
package investigator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/graphops/graphix/internal/graphixerr"
	"github.com/graphops/graphix/internal/indexerclient"
	"github.com/graphops/graphix/internal/metrics"
	"github.com/graphops/graphix/internal/models"
	"github.com/graphops/graphix/internal/store"
)

// defaultDrainInterval is how often the background task polls the pending
// table for new work (spec §4.3: "polling table every few seconds").
const defaultDrainInterval = 5 * time.Second

// bisectionStepTimeout bounds a single PoI query during Bisecting; spec §4.3
// treats an expired deadline as "unknown" and fails the run.
const bisectionStepTimeout = 30 * time.Second

// Investigator drains pending divergence investigation requests and runs the
// bisection protocol. Grounded on the teacher's NetworkPoller ticker loop
// (internal/ingester/network_poller.go), generalized from a fixed round to a
// lease-free dequeue-drain cycle per spec §9's job-queue design note.
type Investigator struct {
	store            store.Store
	metrics          *metrics.Metrics
	drainInterval    time.Duration
	newIndexerClient func(endpoint string) indexerclient.Client
	resolveEndpoint  func(ctx context.Context, addr models.Address20) (string, error)
}

// New constructs an Investigator. resolveEndpoint maps an indexer address
// back to a reachable index-node endpoint; the caller typically wires this
// to the same source configuration the Poller resolves its pool from.
func New(st store.Store, m *metrics.Metrics, newIndexerClient func(endpoint string) indexerclient.Client, resolveEndpoint func(ctx context.Context, addr models.Address20) (string, error)) *Investigator {
	return &Investigator{
		store:            st,
		metrics:          m,
		drainInterval:    defaultDrainInterval,
		newIndexerClient: newIndexerClient,
		resolveEndpoint:  resolveEndpoint,
	}
}

// Start drains the pending table every drainInterval until ctx is canceled.
// A process crash mid-run leaves the request pending for the next startup
// to retry (spec §4.3: "the protocol is therefore idempotent at the request
// level").
func (inv *Investigator) Start(ctx context.Context) {
	log.Printf("[investigator] starting (drain interval: %s)", inv.drainInterval)

	ticker := time.NewTicker(inv.drainInterval)
	defer ticker.Stop()

	for {
		inv.drain(ctx)
		select {
		case <-ctx.Done():
			log.Println("[investigator] stopping")
			return
		case <-ticker.C:
		}
	}
}

func (inv *Investigator) drain(ctx context.Context) {
	const batchSize = 10
	pending, err := inv.store.DequeuePendingInvestigationRequests(ctx, batchSize)
	if err != nil {
		log.Printf("[investigator] dequeue: %v", err)
		return
	}
	for _, p := range pending {
		inv.run(ctx, p)
	}
}

// run executes one pending request to completion: a report row is inserted
// and the pending row deleted atomically. No in-progress status is tracked;
// while run is executing, the request still reads as PENDING.
func (inv *Investigator) run(ctx context.Context, pending models.PendingDivergenceInvestigationRequest) {
	var req models.InvestigationRequest
	if err := json.Unmarshal(pending.Request, &req); err != nil {
		inv.fail(ctx, pending.UUID, fmt.Errorf("%w: decode request: %v", graphixerr.ErrInvestigationInputInvalid, err))
		return
	}

	report, err := inv.investigate(ctx, pending.UUID, req)
	if err != nil {
		inv.fail(ctx, pending.UUID, err)
		return
	}

	reportJSON, err := json.Marshal(report)
	if err != nil {
		log.Printf("[investigator] %s: marshal report: %v", pending.UUID, err)
		return
	}
	if err := inv.store.CompleteInvestigation(ctx, pending.UUID, reportJSON); err != nil {
		log.Printf("[investigator] %s: complete: %v", pending.UUID, err)
	}
}

// fail writes a report whose top-level Error is set, for an investigation
// that could not even be resolved to pairs: an undecodable pending payload,
// a hash that is not any indexer's live PoI, PoIs spanning more than one
// deployment, or any other error from investigate. At submission time the
// API layer only rejects lists of fewer than two PoIs.
func (inv *Investigator) fail(ctx context.Context, reqUUID string, err error) {
	log.Printf("[investigator] %s: %v", reqUUID, err)
	msg := err.Error()
	report := models.InvestigationReport{UUID: reqUUID, Error: &msg}
	reportJSON, merr := json.Marshal(report)
	if merr != nil {
		log.Printf("[investigator] %s: marshal failure report: %v", reqUUID, merr)
		return
	}
	if cerr := inv.store.CompleteInvestigation(ctx, reqUUID, reportJSON); cerr != nil {
		log.Printf("[investigator] %s: complete (failure): %v", reqUUID, cerr)
	}
}

// investigate resolves req's PoI hashes and runs a bisection for every
// unordered pair (spec §4.3 "Pairing").
func (inv *Investigator) investigate(ctx context.Context, reqUUID string, req models.InvestigationRequest) (*models.InvestigationReport, error) {
	if len(req.Pois) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 distinct pois, got %d", graphixerr.ErrInvestigationInputInvalid, len(req.Pois))
	}

	resolved := make([]resolvedPoi, 0, len(req.Pois))
	for _, h := range req.Pois {
		r, err := inv.store.ResolveLivePoiByHash(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve poi %s: %v", graphixerr.ErrInvestigationInputInvalid, h, err)
		}
		resolved = append(resolved, resolvedPoi{hash: h, ResolvedPoi: r})
	}
	for i := 1; i < len(resolved); i++ {
		if resolved[i].DeploymentCid != resolved[0].DeploymentCid {
			return nil, fmt.Errorf("%w: submitted pois span multiple deployments (%s, %s)",
				graphixerr.ErrInvestigationInputInvalid, resolved[0].DeploymentCid, resolved[i].DeploymentCid)
		}
	}

	var runs []models.BisectionRunReport
	for i := 0; i < len(resolved); i++ {
		for j := i + 1; j < len(resolved); j++ {
			runs = append(runs, inv.bisectPair(ctx, reqUUID, req, resolved[i], resolved[j]))
		}
	}

	return &models.InvestigationReport{UUID: reqUUID, Runs: runs}, nil
}

// resolvedPoi pairs the originally-submitted PoI hash with what it resolved
// to in live_pois.
type resolvedPoi struct {
	hash models.Hash32
	store.ResolvedPoi
}

// bisectPair runs the full Seeking -> Bisecting -> Narrowed -> Collecting
// state machine (spec §4.3) for one unordered pair. It never returns an
// error: a failed run is represented as a BisectionRunReport with Error set,
// so one unresolvable pair never aborts the rest of the investigation.
func (inv *Investigator) bisectPair(ctx context.Context, reqUUID string, req models.InvestigationRequest, a, b resolvedPoi) models.BisectionRunReport {
	run := models.BisectionRunReport{
		UUID:          uuid.NewString(),
		Poi1:          a.hash,
		Poi2:          b.hash,
		Indexer1:      a.IndexerAddr,
		Indexer2:      b.IndexerAddr,
		DeploymentCid: a.DeploymentCid,
	}

	clientA, err := inv.clientFor(ctx, a.IndexerAddr)
	if err != nil {
		return failRun(run, err)
	}
	clientB, err := inv.clientFor(ctx, b.IndexerAddr)
	if err != nil {
		return failRun(run, err)
	}

	hi := a.BlockNumber
	if b.BlockNumber != hi {
		return failRun(run, fmt.Errorf("%w: submitted pois are not at the same block (%d vs %d)",
			graphixerr.ErrInvestigationInputInvalid, a.BlockNumber, b.BlockNumber))
	}

	earliest, networkChain, err := inv.deploymentStatus(ctx, clientA, a.DeploymentCid)
	if err != nil {
		return failRun(run, err)
	}

	// Seeking: establish Ulo, a known-agreeing lower bound. hiBlockHash starts
	// as the submitted PoI's own block hash (already resolved via live_pois,
	// so it costs no query) and is updated in-loop whenever hi narrows.
	hiBlockHash := a.BlockHash
	lo, loBlockHash, err := inv.seekAgreement(ctx, clientA, clientB, a.DeploymentCid, hi, earliest)
	if err != nil {
		return failRun(run, err)
	}

	// Bisecting(lo, hi). Each step's block hash is captured straight from its
	// PoI query result, so Narrowed never has to re-query for it.
	for hi-lo > 1 {
		m := lo + (hi-lo)/2

		stepCtx, cancel := context.WithTimeout(ctx, bisectionStepTimeout)
		hashA, blockHashA, errA := indexerPoiAt(stepCtx, clientA, a.DeploymentCid, m)
		hashB, _, errB := indexerPoiAt(stepCtx, clientB, b.DeploymentCid, m)
		cancel()

		if inv.metrics != nil {
			inv.metrics.ObserveBisectionRequest(outcomeLabel(errA, errB))
		}
		if errA != nil || errB != nil {
			return failRun(run, fmt.Errorf("%w: bisection_timeout@%d", graphixerr.ErrBisectionUnresolvable, m))
		}

		if hashA == hashB {
			lo, loBlockHash = m, blockHashA
		} else {
			hi, hiBlockHash = m, blockHashA
		}
	}

	// Narrowed(hi): hi is the first block at which A and B disagree.
	run.DivergenceBlockBounds = &models.DivergenceBlockBounds{
		LowerBound: models.BlockPointer{Number: lo, Hash: loBlockHash},
		UpperBound: models.BlockPointer{Number: hi, Hash: hiBlockHash},
	}

	// Collecting(hi): gather whichever cache snapshots the request asked for.
	run.Bisects = inv.collect(ctx, req, clientA, clientB, networkChain, a.DeploymentCid, hi, hiBlockHash)

	return run
}

// seekAgreement establishes Ulo (spec §4.3 "Seeking") with a single query at
// the deployment's earliestBlock: if A and B agree there, the whole
// [earliest, hi] range is bisectable in one pass, so there is nothing further
// to search for. Returns BisectionUnresolvable (no_common_ancestor) if they
// disagree even at earliest, or if there's no range below hi to bisect.
func (inv *Investigator) seekAgreement(ctx context.Context, clientA, clientB indexerclient.Client, deploymentCid string, hi, earliest uint64) (uint64, models.Hash32, error) {
	if hi <= earliest {
		return earliest, models.Hash32{}, fmt.Errorf("%w: no_common_ancestor", graphixerr.ErrBisectionUnresolvable)
	}

	stepCtx, cancel := context.WithTimeout(ctx, bisectionStepTimeout)
	hashA, blockHashA, errA := indexerPoiAt(stepCtx, clientA, deploymentCid, earliest)
	hashB, _, errB := indexerPoiAt(stepCtx, clientB, deploymentCid, earliest)
	cancel()

	if errA == nil && errB == nil && hashA == hashB {
		return earliest, blockHashA, nil
	}
	return 0, models.Hash32{}, fmt.Errorf("%w: no_common_ancestor", graphixerr.ErrBisectionUnresolvable)
}

// indexerPoiAt queries one indexer's PoI at block, returning both the PoI
// hash (compared for agreement) and the chain block hash at that number
// (captured here so bounds enrichment never needs a second round-trip).
func indexerPoiAt(ctx context.Context, c indexerclient.Client, deploymentCid string, block uint64) (models.Hash32, models.Hash32, error) {
	results, err := c.PublicPois(ctx, []indexerclient.PoiRequest{{DeploymentCid: deploymentCid, BlockNumber: block}})
	if err != nil {
		return models.Hash32{}, models.Hash32{}, err
	}
	for _, r := range results {
		if r.Err != nil {
			return models.Hash32{}, models.Hash32{}, r.Err
		}
		if r.BlockNumber == block {
			return r.Hash, r.BlockHash, nil
		}
	}
	return models.Hash32{}, models.Hash32{}, fmt.Errorf("%w: indexer returned no poi for block %d", graphixerr.ErrIndexerUnavailable, block)
}

// deploymentStatus asks the indexer for its own earliestBlock and network
// chain name for the deployment; earliestBlock is the lower bound Seeking
// must not cross (spec §4.3), and the chain name addresses the block/
// eth-call cache lookups in Collecting (spec §6.2's `network` parameter).
func (inv *Investigator) deploymentStatus(ctx context.Context, c indexerclient.Client, deploymentCid string) (earliestBlock uint64, networkChain string, err error) {
	statuses, err := c.IndexingStatuses(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("%w: indexingStatuses: %v", graphixerr.ErrIndexerUnavailable, err)
	}
	for _, s := range statuses {
		if s.DeploymentCid == deploymentCid {
			return s.EarliestBlock, s.NetworkChain, nil
		}
	}
	return 0, "", nil
}

// collect fetches the Collecting-state cache snapshots the request flagged.
// Collection failures are recorded inline (as a map with an "error" key)
// but never mark the run itself Failed (spec §4.3).
func (inv *Investigator) collect(ctx context.Context, req models.InvestigationRequest, clientA, clientB indexerclient.Client, networkChain, deploymentCid string, block uint64, blockHash models.Hash32) []models.BisectionReport {
	if !req.QueryBlockCaches && !req.QueryEthCallCaches && !req.QueryEntityChanges {
		return nil
	}

	var reports []models.BisectionReport
	add := func(label string, a, b interface{}) {
		reports = append(reports, models.BisectionReport{Block: block, Indexer1Response: map[string]interface{}{label: a}, Indexer2Response: map[string]interface{}{label: b}})
	}

	if req.QueryBlockCaches {
		add("blockCache",
			collectOne(func() (interface{}, error) { return clientA.BlockCache(ctx, networkChain, blockHash) }),
			collectOne(func() (interface{}, error) { return clientB.BlockCache(ctx, networkChain, blockHash) }))
	}
	if req.QueryEthCallCaches {
		add("ethCallCache",
			collectOne(func() (interface{}, error) { return clientA.EthCallCache(ctx, networkChain, blockHash) }),
			collectOne(func() (interface{}, error) { return clientB.EthCallCache(ctx, networkChain, blockHash) }))
	}
	if req.QueryEntityChanges {
		add("entityChanges",
			collectOne(func() (interface{}, error) { return clientA.EntityChanges(ctx, deploymentCid, block) }),
			collectOne(func() (interface{}, error) { return clientB.EntityChanges(ctx, deploymentCid, block) }))
	}
	return reports
}

func collectOne(fetch func() (interface{}, error)) interface{} {
	v, err := fetch()
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}
	return v
}

func (inv *Investigator) clientFor(ctx context.Context, addr models.Address20) (indexerclient.Client, error) {
	endpoint, err := inv.resolveEndpoint(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve endpoint for %s: %v", graphixerr.ErrIndexerUnavailable, addr, err)
	}
	return inv.newIndexerClient(endpoint), nil
}

func failRun(run models.BisectionRunReport, err error) models.BisectionRunReport {
	msg := err.Error()
	run.Error = &msg
	return run
}

func outcomeLabel(errA, errB error) string {
	if errA == nil && errB == nil {
		return "ok"
	}
	return "timeout"
}
