package indexerclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"

	"github.com/graphops/graphix/internal/graphixerr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL, rate.NewLimiter(rate.Inf, 1))
}

func TestIndexingStatuses(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"indexingStatuses": []map[string]interface{}{
					{
						"subgraph": "QmDeployment1",
						"chains": []map[string]interface{}{
							{
								"network":        "mainnet",
								"latestBlock":    map[string]string{"number": "100"},
								"chainHeadBlock": map[string]string{"number": "105"},
								"earliestBlock":  map[string]string{"blockNumber": "1"},
							},
						},
					},
				},
			},
		})
	})

	statuses, err := c.IndexingStatuses(context.Background())
	if err != nil {
		t.Fatalf("IndexingStatuses: %v", err)
	}
	if len(statuses) != 1 {
		t.Fatalf("len(statuses) = %d, want 1", len(statuses))
	}
	s := statuses[0]
	if s.DeploymentCid != "QmDeployment1" || s.NetworkChain != "mainnet" {
		t.Errorf("unexpected status: %+v", s)
	}
	if s.LatestBlock != 100 || s.ChainHeadBlock != 105 || s.EarliestBlock != 1 {
		t.Errorf("unexpected block numbers: %+v", s)
	}
}

func TestPublicPoisMalformedHash(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"publicProofsOfIndexing": []map[string]interface{}{
					{
						"deployment":      "QmDeployment1",
						"block":           map[string]string{"number": "100", "hash": "0xdeadbeef"},
						"proofOfIndexing": "not-a-hash",
					},
				},
			},
		})
	})

	results, err := c.PublicPois(context.Background(), []PoiRequest{{DeploymentCid: "QmDeployment1", BlockNumber: 100}})
	if err != nil {
		t.Fatalf("PublicPois: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].Err == nil {
		t.Error("expected a per-result error for a malformed PoI hash")
	}
}

func TestPublicPoisEmptyRequest(t *testing.T) {
	c := NewHTTPClient("http://unused.example", nil)
	results, err := c.PublicPois(context.Background(), nil)
	if err != nil || results != nil {
		t.Errorf("PublicPois(nil) = %v, %v; want nil, nil", results, err)
	}
}

func TestDoReturnsIndexerUnavailableOnHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	})

	_, err := c.Version(context.Background())
	if err == nil {
		t.Fatal("expected an error for a 500 response")
	}
	if !errors.Is(err, graphixerr.ErrIndexerUnavailable) {
		t.Errorf("expected ErrIndexerUnavailable, got %v", err)
	}
}

func TestDoReturnsIndexerUnavailableOnGraphQLErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]string{{"message": "not found"}},
		})
	})

	_, err := c.Version(context.Background())
	if err == nil {
		t.Fatal("expected an error when the response carries a GraphQL errors array")
	}
	if !errors.Is(err, graphixerr.ErrIndexerUnavailable) {
		t.Errorf("expected ErrIndexerUnavailable, got %v", err)
	}
}

func TestParseUintLenient(t *testing.T) {
	cases := map[string]uint64{
		"123":     123,
		"":        0,
		"0x12":    0,
		"abc":     0,
		"0":       0,
		"9999999": 9999999,
	}
	for in, want := range cases {
		if got := parseUintLenient(in); got != want {
			t.Errorf("parseUintLenient(%q) = %d, want %d", in, got, want)
		}
	}
}
