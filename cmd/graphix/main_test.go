package main

import (
	"context"
	"testing"

	"github.com/graphops/graphix/internal/config"
	"github.com/graphops/graphix/internal/models"
	"github.com/graphops/graphix/internal/networksubgraph"
)

func TestNetworkNameFromConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  *config.Config
		want string
	}{
		{"empty", &config.Config{}, "unknown"},
		{"single", &config.Config{Chains: map[string]config.ChainConfig{"mainnet": {}}}, "mainnet"},
		{"picks lexicographically first", &config.Config{Chains: map[string]config.ChainConfig{
			"sepolia": {}, "mainnet": {}, "goerli": {},
		}}, "goerli"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := networkNameFromConfig(tc.cfg); got != tc.want {
				t.Errorf("networkNameFromConfig() = %q, want %q", got, tc.want)
			}
		})
	}
}

type fakeNSClient struct {
	endpoint string
	err      error
}

func (f *fakeNSClient) ByStakedTokens(ctx context.Context, endpoint string, skip, first int) ([]networksubgraph.IndexerRecord, error) {
	return nil, nil
}

func (f *fakeNSClient) ByAllocations(ctx context.Context, endpoint string, skip, first int) ([]networksubgraph.IndexerRecord, error) {
	return nil, nil
}

func (f *fakeNSClient) ResolveEndpoint(ctx context.Context, endpoint string, address models.Address20) (string, error) {
	return f.endpoint, f.err
}

func TestResolveEndpointFunc(t *testing.T) {
	addrA, err := models.ParseAddress20("0x1111111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("parse address: %v", err)
	}
	addrB, err := models.ParseAddress20("0x2222222222222222222222222222222222222222")
	if err != nil {
		t.Fatalf("parse address: %v", err)
	}

	cfg := &config.Config{
		Sources: []config.Source{
			{Type: config.SourceIndexer, Address: addrA.String(), IndexNodeEndpoint: "http://a.example/indexer"},
			{Type: config.SourceNetworkSubgraph, Endpoint: "http://network.example/subgraph", StakeThreshold: "0"},
		},
	}
	resolve := resolveEndpointFunc(cfg, &fakeNSClient{endpoint: "http://b.example/indexer"})

	got, err := resolve(context.Background(), addrA)
	if err != nil {
		t.Fatalf("resolve direct source: %v", err)
	}
	if got != "http://a.example/indexer" {
		t.Errorf("resolve(addrA) = %q, want direct indexer source endpoint", got)
	}

	got, err = resolve(context.Background(), addrB)
	if err != nil {
		t.Fatalf("resolve via network subgraph: %v", err)
	}
	if got != "http://b.example/indexer" {
		t.Errorf("resolve(addrB) = %q, want network subgraph resolution", got)
	}
}

func TestResolveEndpointFuncNoSources(t *testing.T) {
	addr, err := models.ParseAddress20("0x3333333333333333333333333333333333333333")
	if err != nil {
		t.Fatalf("parse address: %v", err)
	}
	resolve := resolveEndpointFunc(&config.Config{}, &fakeNSClient{})
	if _, err := resolve(context.Background(), addr); err == nil {
		t.Error("expected an error when no source can resolve an endpoint")
	}
}
