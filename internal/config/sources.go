package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SourceType discriminates the ConfigSource tagged union (spec §4.1 step 1,
// §9 design note: "add variants by extending the tag set").
type SourceType string

const (
	SourceIndexer          SourceType = "indexer"
	SourceIndexerByAddress SourceType = "indexerByAddress"
	SourceInterceptor      SourceType = "interceptor"
	SourceNetworkSubgraph  SourceType = "networkSubgraph"
)

// NetworkSubgraphQuery selects how a networkSubgraph source paginates
// indexers: by total allocations, or by staked tokens.
type NetworkSubgraphQuery string

const (
	QueryByAllocations  NetworkSubgraphQuery = "byAllocations"
	QueryByStakedTokens NetworkSubgraphQuery = "byStakedTokens"
)

// Source is one entry of the `sources:` list. Exactly the fields relevant to
// its Type are populated; the rest are zero. A custom UnmarshalYAML enforces
// this is a closed union over SourceType.
type Source struct {
	Type SourceType

	// type: indexer
	Address          string
	IndexNodeEndpoint string
	Name             string // optional, indexer | interceptor

	// type: indexerByAddress
	// (Address, above, is shared)

	// type: networkSubgraph
	Endpoint       string
	StakeThreshold string
	Limit          int
	Query          NetworkSubgraphQuery

	// type: interceptor
	Target   string
	PoiByte  byte
}

// rawSource mirrors Source's YAML shape before type-specific validation.
type rawSource struct {
	Type              string `yaml:"type"`
	Address           string `yaml:"address"`
	IndexNodeEndpoint string `yaml:"indexNodeEndpoint"`
	Name              string `yaml:"name"`
	Endpoint          string `yaml:"endpoint"`
	StakeThreshold    string `yaml:"stakeThreshold"`
	Limit             int    `yaml:"limit"`
	Query             string `yaml:"query"`
	Target            string `yaml:"target"`
	PoiByte           int    `yaml:"poiByte"`
}

func (s *Source) UnmarshalYAML(node *yaml.Node) error {
	var raw rawSource
	if err := node.Decode(&raw); err != nil {
		return err
	}

	switch SourceType(raw.Type) {
	case SourceIndexer:
		if raw.Address == "" || raw.IndexNodeEndpoint == "" {
			return fmt.Errorf("config: indexer source requires address and indexNodeEndpoint")
		}
		*s = Source{Type: SourceIndexer, Address: raw.Address, IndexNodeEndpoint: raw.IndexNodeEndpoint, Name: raw.Name}
	case SourceIndexerByAddress:
		if raw.Address == "" {
			return fmt.Errorf("config: indexerByAddress source requires address")
		}
		*s = Source{Type: SourceIndexerByAddress, Address: raw.Address}
	case SourceNetworkSubgraph:
		if raw.Endpoint == "" || raw.StakeThreshold == "" {
			return fmt.Errorf("config: networkSubgraph source requires endpoint and stakeThreshold")
		}
		q := NetworkSubgraphQuery(raw.Query)
		if q == "" {
			q = QueryByStakedTokens
		}
		if q != QueryByAllocations && q != QueryByStakedTokens {
			return fmt.Errorf("config: networkSubgraph source has unknown query %q", raw.Query)
		}
		*s = Source{
			Type:           SourceNetworkSubgraph,
			Endpoint:       raw.Endpoint,
			StakeThreshold: raw.StakeThreshold,
			Limit:          raw.Limit,
			Query:          q,
		}
	case SourceInterceptor:
		if raw.Name == "" || raw.Target == "" {
			return fmt.Errorf("config: interceptor source requires name and target")
		}
		*s = Source{Type: SourceInterceptor, Name: raw.Name, Target: raw.Target, PoiByte: byte(raw.PoiByte)}
	default:
		return fmt.Errorf("config: unknown source type %q", raw.Type)
	}
	return nil
}
