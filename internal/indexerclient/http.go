package indexerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/graphops/graphix/internal/graphixerr"
	"github.com/graphops/graphix/internal/models"
)

// HTTPClient is the production IndexerClient implementation: a GraphQL POST
// client with a per-endpoint rate limiter and a retry-once backoff policy
// (spec §4.1 step 4: "a per-request retry-once policy").
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPClient builds an indexer client for endpoint. limiter, if nil,
// defaults to 10 requests/sec with a burst of 10 — generous enough that it
// only bites a single misbehaving indexer, not the fleet (the fleet-wide cap
// lives in the poller's semaphore, spec §5).
func NewHTTPClient(endpoint string, limiter *rate.Limiter) *HTTPClient {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(10), 10)
	}
	return &HTTPClient{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		limiter:    limiter,
	}
}

func (c *HTTPClient) Endpoint() string { return c.endpoint }

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors,omitempty"`
}

// do issues one GraphQL POST, retrying once (per spec §4.1 step 4) on
// network-level failure. A non-2xx status or a populated "errors" array is
// not retried: it's treated as a definitive IndexerUnavailable.
func (c *HTTPClient) do(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", graphixerr.ErrIndexerUnavailable, err)
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	var raw json.RawMessage
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // transient: retried once
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("%w: %s returned %d: %s",
				graphixerr.ErrIndexerUnavailable, c.endpoint, resp.StatusCode, string(respBody)))
		}

		var gqlResp graphqlResponse
		if err := json.Unmarshal(respBody, &gqlResp); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: decode response: %v", graphixerr.ErrIndexerUnavailable, err))
		}
		if len(gqlResp.Errors) > 0 {
			return backoff.Permanent(fmt.Errorf("%w: %s: %s", graphixerr.ErrIndexerUnavailable, c.endpoint, gqlResp.Errors[0].Message))
		}
		raw = gqlResp.Data
		return nil
	}

	// Retry-once: one retry attempt, short fixed backoff.
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(200*time.Millisecond), 1)
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("%w: %v", graphixerr.ErrIndexerUnavailable, err)
	}

	if out != nil && raw != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: unmarshal data: %v", graphixerr.ErrMalformedResponse, err)
		}
	}
	return nil
}

func (c *HTTPClient) IndexingStatuses(ctx context.Context) ([]IndexingStatus, error) {
	const query = `{
		indexingStatuses {
			subgraph
			chains { network latestBlock { number } chainHeadBlock { number } earliestBlock { blockNumber } }
		}
	}`

	var resp struct {
		IndexingStatuses []struct {
			Subgraph string `json:"subgraph"`
			Chains   []struct {
				Network        string `json:"network"`
				LatestBlock    *struct{ Number string `json:"number"` } `json:"latestBlock"`
				ChainHeadBlock *struct{ Number string `json:"number"` } `json:"chainHeadBlock"`
				EarliestBlock  *struct{ BlockNumber string `json:"blockNumber"` } `json:"earliestBlock"`
			} `json:"chains"`
		} `json:"indexingStatuses"`
	}

	if err := c.do(ctx, query, nil, &resp); err != nil {
		return nil, err
	}

	statuses := make([]IndexingStatus, 0, len(resp.IndexingStatuses))
	for _, s := range resp.IndexingStatuses {
		if len(s.Chains) == 0 {
			continue
		}
		chain := s.Chains[0]
		st := IndexingStatus{DeploymentCid: s.Subgraph, NetworkChain: chain.Network}
		if chain.LatestBlock != nil {
			st.LatestBlock = parseUintLenient(chain.LatestBlock.Number)
		}
		if chain.ChainHeadBlock != nil {
			st.ChainHeadBlock = parseUintLenient(chain.ChainHeadBlock.Number)
		}
		if chain.EarliestBlock != nil {
			st.EarliestBlock = parseUintLenient(chain.EarliestBlock.BlockNumber)
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

func (c *HTTPClient) PublicPois(ctx context.Context, requests []PoiRequest) ([]PoiResult, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	type reqVar struct {
		DeploymentCid string `json:"deployment"`
		BlockNumber   uint64 `json:"blockNumber"`
	}
	vars := make([]reqVar, len(requests))
	for i, r := range requests {
		vars[i] = reqVar{DeploymentCid: r.DeploymentCid, BlockNumber: r.BlockNumber}
	}

	const query = `query($requests: [PublicProofOfIndexingRequest!]!) {
		publicProofsOfIndexing(requests: $requests) {
			deployment
			block { number hash }
			proofOfIndexing
		}
	}`

	var resp struct {
		PublicProofsOfIndexing []struct {
			Deployment string `json:"deployment"`
			Block      struct {
				Number string `json:"number"`
				Hash   string `json:"hash"`
			} `json:"block"`
			ProofOfIndexing string `json:"proofOfIndexing"`
		} `json:"publicProofsOfIndexing"`
	}

	if err := c.do(ctx, query, map[string]interface{}{"requests": vars}, &resp); err != nil {
		return nil, err
	}

	results := make([]PoiResult, 0, len(resp.PublicProofsOfIndexing))
	for _, r := range resp.PublicProofsOfIndexing {
		res := PoiResult{
			DeploymentCid: r.Deployment,
			BlockNumber:   parseUintLenient(r.Block.Number),
		}
		hash, err := models.ParseHash32(r.ProofOfIndexing)
		if err != nil {
			res.Err = fmt.Errorf("%w: poi hash: %v", graphixerr.ErrMalformedResponse, err)
			results = append(results, res)
			continue
		}
		blockHash, err := models.ParseHash32(r.Block.Hash)
		if err != nil {
			res.Err = fmt.Errorf("%w: block hash: %v", graphixerr.ErrMalformedResponse, err)
			results = append(results, res)
			continue
		}
		res.Hash = hash
		res.BlockHash = blockHash
		results = append(results, res)
	}
	return results, nil
}

func (c *HTTPClient) Version(ctx context.Context) (VersionInfo, error) {
	const query = `{ version { version commit } }`
	var resp struct {
		Version struct {
			Version string `json:"version"`
			Commit  string `json:"commit"`
		} `json:"version"`
	}
	if err := c.do(ctx, query, nil, &resp); err != nil {
		return VersionInfo{}, err
	}
	return VersionInfo{Version: resp.Version.Version, Commit: resp.Version.Commit}, nil
}

func (c *HTTPClient) BlockCache(ctx context.Context, network string, blockHash models.Hash32) (BlockCacheEntry, error) {
	const query = `query($network: String!, $hash: String!) { blockData(network: $network, blockHash: $hash) }`
	var resp struct {
		BlockData BlockCacheEntry `json:"blockData"`
	}
	if err := c.do(ctx, query, map[string]interface{}{"network": network, "hash": blockHash.String()}, &resp); err != nil {
		return nil, err
	}
	return resp.BlockData, nil
}

func (c *HTTPClient) EthCallCache(ctx context.Context, network string, blockHash models.Hash32) ([]EthCallCacheEntry, error) {
	const query = `query($network: String!, $hash: String!) { cachedEthereumCalls(network: $network, blockHash: $hash) }`
	var resp struct {
		CachedEthereumCalls []EthCallCacheEntry `json:"cachedEthereumCalls"`
	}
	if err := c.do(ctx, query, map[string]interface{}{"network": network, "hash": blockHash.String()}, &resp); err != nil {
		return nil, err
	}
	return resp.CachedEthereumCalls, nil
}

func (c *HTTPClient) EntityChanges(ctx context.Context, deploymentCid string, block uint64) (EntityChangeSet, error) {
	const query = `query($subgraphId: String!, $blockNumber: Int!) { entityChangesInBlock(subgraphId: $subgraphId, blockNumber: $blockNumber) }`
	var resp struct {
		EntityChangesInBlock EntityChangeSet `json:"entityChangesInBlock"`
	}
	if err := c.do(ctx, query, map[string]interface{}{"subgraphId": deploymentCid, "blockNumber": block}, &resp); err != nil {
		return nil, err
	}
	return resp.EntityChangesInBlock, nil
}

// parseUintLenient parses a decimal string to uint64, returning 0 on any
// malformed input rather than erroring — callers validate hashes strictly
// but tolerate a missing/garbled block number by treating it as unreported.
func parseUintLenient(s string) uint64 {
	var n uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + uint64(r-'0')
	}
	return n
}
