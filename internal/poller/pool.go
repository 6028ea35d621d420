package poller

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/graphops/graphix/internal/config"
	"github.com/graphops/graphix/internal/indexerclient"
	"github.com/graphops/graphix/internal/models"
	"github.com/graphops/graphix/internal/networksubgraph"
)

// resolvedIndexer is one pool member for a single round: its address, a
// human-readable name for logs/failed_queries, and the Client to reach it
// through (spec §4.1 step 1).
type resolvedIndexer struct {
	addr   models.Address20
	name   string
	client indexerclient.Client
}

// resolvePool turns the configured ConfigSource list into the deduplicated
// indexer pool for one round. A failing source is logged and skipped; it
// never aborts the round (spec §4.1 step 1).
func (p *Poller) resolvePool(ctx context.Context) []resolvedIndexer {
	byAddr := make(map[models.Address20]resolvedIndexer)

	add := func(r resolvedIndexer) {
		if _, exists := byAddr[r.addr]; exists {
			return // first-seen wins on address collision across sources
		}
		byAddr[r.addr] = r
	}

	var defaultSubgraphEndpoint string
	for _, src := range p.sources {
		if src.Type == config.SourceNetworkSubgraph && defaultSubgraphEndpoint == "" {
			defaultSubgraphEndpoint = src.Endpoint
		}
	}

	for _, src := range p.sources {
		switch src.Type {
		case config.SourceIndexer:
			addr, err := models.ParseAddress20(src.Address)
			if err != nil {
				log.Printf("[Poller] source indexer %s: bad address: %v", src.Name, err)
				continue
			}
			add(resolvedIndexer{
				addr: addr, name: firstNonEmpty(src.Name, src.Address),
				client: p.newIndexerClient(src.IndexNodeEndpoint),
			})

		case config.SourceIndexerByAddress:
			addr, err := models.ParseAddress20(src.Address)
			if err != nil {
				log.Printf("[Poller] source indexerByAddress %s: bad address: %v", src.Address, err)
				continue
			}
			if defaultSubgraphEndpoint == "" {
				log.Printf("[Poller] source indexerByAddress %s: no networkSubgraph source configured to resolve an endpoint from", src.Address)
				continue
			}
			endpoint, err := p.nsClient.ResolveEndpoint(ctx, defaultSubgraphEndpoint, addr)
			if err != nil {
				log.Printf("[Poller] source indexerByAddress %s: resolve endpoint: %v", src.Address, err)
				continue
			}
			add(resolvedIndexer{addr: addr, name: src.Address, client: p.newIndexerClient(endpoint)})

		case config.SourceNetworkSubgraph:
			records, err := p.listNetworkSubgraphIndexers(ctx, src)
			if err != nil {
				log.Printf("[Poller] source networkSubgraph %s: %v", src.Endpoint, err)
				continue
			}
			for _, r := range records {
				add(resolvedIndexer{addr: r.Address, name: r.URL, client: p.newIndexerClient(r.URL)})
			}

		case config.SourceInterceptor:
			target := p.newIndexerClient(src.Target)
			addr, err := models.ParseAddress20(src.Target)
			if err != nil {
				// The interceptor's "address" doesn't need to correspond to a
				// real indexer; derive a stable synthetic one from its name so
				// it doesn't collide with real pool members.
				addr = syntheticAddress(src.Name)
			}
			add(resolvedIndexer{
				addr:   addr,
				name:   src.Name,
				client: indexerclient.NewInterceptor(src.Name, src.PoiByte, target),
			})

		default:
			log.Printf("[Poller] unknown source type %q", src.Type)
		}
	}

	pool := make([]resolvedIndexer, 0, len(byAddr))
	for _, r := range byAddr {
		pool = append(pool, r)
	}
	return pool
}

// listNetworkSubgraphIndexers paginates a networkSubgraph source to
// completion (or until Limit is satisfied), filtering by StakeThreshold.
func (p *Poller) listNetworkSubgraphIndexers(ctx context.Context, src config.Source) ([]networkSubgraphIndexer, error) {
	threshold, ok := new(big.Int).SetString(src.StakeThreshold, 10)
	if !ok {
		return nil, fmt.Errorf("bad stakeThreshold %q", src.StakeThreshold)
	}

	const pageSize = 100
	var out []networkSubgraphIndexer
	skip := 0
	for {
		var page []networkSubgraphIndexer
		var err error
		if src.Query == config.QueryByAllocations {
			page, err = p.listPage(ctx, src.Endpoint, skip, pageSize, true)
		} else {
			page, err = p.listPage(ctx, src.Endpoint, skip, pageSize, false)
		}
		if err != nil {
			return nil, err
		}
		for _, rec := range page {
			staked, ok := new(big.Int).SetString(rec.stakedTokens, 10)
			if !ok || staked.Cmp(threshold) < 0 {
				continue
			}
			out = append(out, rec)
			if src.Limit > 0 && len(out) >= src.Limit {
				return out, nil
			}
		}
		if len(page) < pageSize {
			return out, nil
		}
		skip += pageSize
	}
}

type networkSubgraphIndexer struct {
	Address      models.Address20
	URL          string
	stakedTokens string
}

func (p *Poller) listPage(ctx context.Context, endpoint string, skip, first int, byAllocations bool) ([]networkSubgraphIndexer, error) {
	var indexers []networksubgraph.IndexerRecord
	var err error
	if byAllocations {
		indexers, err = p.nsClient.ByAllocations(ctx, endpoint, skip, first)
	} else {
		indexers, err = p.nsClient.ByStakedTokens(ctx, endpoint, skip, first)
	}
	if err != nil {
		return nil, err
	}

	out := make([]networkSubgraphIndexer, len(indexers))
	for i, r := range indexers {
		out[i] = networkSubgraphIndexer{Address: r.Address, URL: r.URL, stakedTokens: r.StakedTokens}
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// syntheticAddress derives a stable placeholder Address20 from a name, used
// only for interceptor sources whose Target isn't itself a 20-byte address.
func syntheticAddress(name string) models.Address20 {
	var a models.Address20
	copy(a[:], name)
	return a
}
