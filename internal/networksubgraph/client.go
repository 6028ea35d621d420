// Package networksubgraph implements the NetworkSubgraphClient capability
// (spec §2): enumeration of the indexers of a network, by total allocations
// or by staked tokens, paginated.
package networksubgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/graphops/graphix/internal/graphixerr"
	"github.com/graphops/graphix/internal/models"
)

// IndexerRecord is one entry returned by the network subgraph: enough to
// resolve an endpoint and decide whether the indexer clears a stake
// threshold (spec §4.1 step 1, networkSubgraph source variant).
type IndexerRecord struct {
	Address          models.Address20
	URL              string
	StakedTokens     string // decimal string; magnitude compared as a big.Int by callers
	AllocatedTokens  string
	RewardsEarned    string
	Geohash          string
}

// Client is the NetworkSubgraphClient capability.
type Client interface {
	// ByStakedTokens returns indexers ordered by staked tokens descending,
	// paginated with (skip, first).
	ByStakedTokens(ctx context.Context, endpoint string, skip, first int) ([]IndexerRecord, error)
	// ByAllocations returns indexers ordered by total allocated tokens
	// descending, paginated with (skip, first).
	ByAllocations(ctx context.Context, endpoint string, skip, first int) ([]IndexerRecord, error)
	// ResolveEndpoint looks up the indexNodeEndpoint for a single indexer
	// address (indexerByAddress source variant).
	ResolveEndpoint(ctx context.Context, endpoint string, address models.Address20) (string, error)
}

const defaultPageSize = 100

// HTTPClient is the production Client: a GraphQL client against a network
// subgraph's own query endpoint, grounded the same way indexerclient.HTTPClient
// is — a plain POST-JSON GraphQL call, no retry since callers already treat
// source resolution failures as non-fatal (spec §7 SourceResolutionFailure).
type HTTPClient struct {
	httpClient *http.Client
}

func NewHTTPClient() *HTTPClient {
	return &HTTPClient{httpClient: &http.Client{}}
}

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type indexerNode struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	StakedTokens    string `json:"stakedTokens"`
	AllocatedTokens string `json:"allocatedTokens"`
	RewardsEarned   string `json:"rewardsEarned"`
	Geohash         string `json:"geoHash"`
}

func (c *HTTPClient) query(ctx context.Context, endpoint, gql string, vars map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(graphqlRequest{Query: gql, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal network subgraph query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", graphixerr.ErrSourceResolutionFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", graphixerr.ErrSourceResolutionFailure, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", graphixerr.ErrSourceResolutionFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d: %s", graphixerr.ErrSourceResolutionFailure, endpoint, resp.StatusCode, string(respBody))
	}

	var wrapper struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &wrapper); err != nil {
		return fmt.Errorf("%w: decode: %v", graphixerr.ErrSourceResolutionFailure, err)
	}
	if len(wrapper.Errors) > 0 {
		return fmt.Errorf("%w: %s", graphixerr.ErrSourceResolutionFailure, wrapper.Errors[0].Message)
	}
	return json.Unmarshal(wrapper.Data, out)
}

func (c *HTTPClient) byOrderKey(ctx context.Context, endpoint, orderBy string, skip, first int) ([]IndexerRecord, error) {
	if first <= 0 {
		first = defaultPageSize
	}
	const gql = `query($skip: Int!, $first: Int!, $orderBy: String!) {
		indexers(skip: $skip, first: $first, orderBy: $orderBy, orderDirection: desc) {
			id url stakedTokens allocatedTokens rewardsEarned geoHash
		}
	}`
	var resp struct {
		Indexers []indexerNode `json:"indexers"`
	}
	if err := c.query(ctx, endpoint, gql, map[string]interface{}{"skip": skip, "first": first, "orderBy": orderBy}, &resp); err != nil {
		return nil, err
	}

	records := make([]IndexerRecord, 0, len(resp.Indexers))
	for _, n := range resp.Indexers {
		addr, err := models.ParseAddress20(n.ID)
		if err != nil {
			continue // malformed address: drop, don't fail the whole page
		}
		records = append(records, IndexerRecord{
			Address:         addr,
			URL:             n.URL,
			StakedTokens:    n.StakedTokens,
			AllocatedTokens: n.AllocatedTokens,
			RewardsEarned:   n.RewardsEarned,
			Geohash:         n.Geohash,
		})
	}
	return records, nil
}

func (c *HTTPClient) ByStakedTokens(ctx context.Context, endpoint string, skip, first int) ([]IndexerRecord, error) {
	return c.byOrderKey(ctx, endpoint, "stakedTokens", skip, first)
}

func (c *HTTPClient) ByAllocations(ctx context.Context, endpoint string, skip, first int) ([]IndexerRecord, error) {
	return c.byOrderKey(ctx, endpoint, "allocatedTokens", skip, first)
}

func (c *HTTPClient) ResolveEndpoint(ctx context.Context, endpoint string, address models.Address20) (string, error) {
	const gql = `query($id: String!) { indexer(id: $id) { url } }`
	var resp struct {
		Indexer *struct {
			URL string `json:"url"`
		} `json:"indexer"`
	}
	if err := c.query(ctx, endpoint, gql, map[string]interface{}{"id": address.String()}, &resp); err != nil {
		return "", err
	}
	if resp.Indexer == nil || resp.Indexer.URL == "" {
		return "", fmt.Errorf("%w: indexer %s has no registered url", graphixerr.ErrSourceResolutionFailure, address)
	}
	return resp.Indexer.URL, nil
}
