// Command graphix is the Graphix cross-checking engine entrypoint (spec
// §6.4): it loads the YAML configuration, connects to the store, and runs
// the Poller and DivergenceInvestigator until a shutdown signal arrives.
// Grounded on the teacher's main.go (flowscan-clone) wiring shape — config,
// then dependencies, then services, then a signal-driven run loop — with
// flag parsing moved from teacher's plain os.Getenv reads onto
// github.com/alecthomas/kong (donor: AKJUS-bsc-erigon), since spec §6.4
// names real CLI flags rather than environment-only configuration.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/graphops/graphix/internal/api"
	"github.com/graphops/graphix/internal/config"
	"github.com/graphops/graphix/internal/indexerclient"
	"github.com/graphops/graphix/internal/investigator"
	"github.com/graphops/graphix/internal/metrics"
	"github.com/graphops/graphix/internal/models"
	"github.com/graphops/graphix/internal/networksubgraph"
	"github.com/graphops/graphix/internal/poller"
	"github.com/graphops/graphix/internal/store/postgres"
)

// CLI is the flag surface spec §6.4 names. GRAPHIX_DB_URL mirrors
// --database-url, applied inside config.Load.
type CLI struct {
	DatabaseURL    string `name:"database-url" env:"GRAPHIX_DB_URL" help:"Store connection URI. Overrides databaseUrl from --base-config."`
	BaseConfig     string `name:"base-config" help:"Path to the YAML configuration file." default:"graphix.yml"`
	Port           int    `name:"port" help:"Override graphql.port from the config file. 0 disables the API." default:"-1"`
	PrometheusPort int    `name:"prometheus-port" help:"Override prometheusPort from the config file." default:"-1"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("graphix"),
		kong.Description("Cross-checking engine for The Graph's decentralized indexing network."),
	)

	os.Exit(run(cli))
}

// run returns the process exit code: 0 on clean shutdown, non-zero when the
// config fails to load or on an unrecoverable store error at startup (spec §6.4).
func run(cli CLI) int {
	cfg, err := config.Load(cli.BaseConfig)
	if err != nil {
		log.Printf("[graphix] config: %v", err)
		return 1
	}
	if cli.DatabaseURL != "" {
		cfg.DatabaseURL = cli.DatabaseURL
	}
	if cli.Port >= 0 {
		cfg.GraphQL.Port = uint16(cli.Port)
	}
	if cli.PrometheusPort >= 0 {
		cfg.PrometheusPort = uint16(cli.PrometheusPort)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("[graphix] connect to store: %v", err)
		return 1
	}
	defer st.Close()

	if snapshot, err := json.Marshal(cfg); err == nil {
		if err := st.RecordConfigSnapshot(ctx, snapshot); err != nil {
			log.Printf("[graphix] record config snapshot: %v", err)
		}
	}

	// Registered against the default registry (spec §9: "Prometheus registries
	// ... behave as process-wide singletons initialized at startup"), matching
	// internal/api's promhttp.Handler() which serves the default gatherer.
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	nsClient := networksubgraph.NewHTTPClient()
	networkName := networkNameFromConfig(cfg)

	p := poller.New(cfg, networkName, st, nsClient, m)

	inv := investigator.New(st, m, newIndexerClient, resolveEndpointFunc(cfg, nsClient))

	var apiServer *api.Server
	if cfg.GraphQL.Port != 0 {
		apiServer = api.New(st, os.Getenv("GRAPHIX_JWT_SECRET"))
		p.SetOnRoundComplete(apiServer.BroadcastRoundComplete)
	}

	var httpServer *http.Server
	if apiServer != nil {
		httpServer = &http.Server{
			Addr:    ":" + strconv.Itoa(int(cfg.GraphQL.Port)),
			Handler: apiServer.Router(),
		}
		go func() {
			log.Printf("[graphix] API listening on %s", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("[graphix] API server: %v", err)
			}
		}()
	} else {
		log.Println("[graphix] API disabled (graphql.port=0)")
	}

	// Prometheus exposition is a separate listener from the API (spec §6.1
	// prometheusPort, distinct from graphql.port).
	promServer := &http.Server{
		Addr:    ":" + strconv.Itoa(int(cfg.PrometheusPort)),
		Handler: promhttp.Handler(),
	}
	go func() {
		log.Printf("[graphix] Prometheus listening on %s", promServer.Addr)
		if err := promServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[graphix] Prometheus server: %v", err)
		}
	}()

	go p.Start(ctx)
	go inv.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[graphix] shutting down")

	cancel()
	if httpServer != nil {
		_ = httpServer.Shutdown(context.Background())
	}
	_ = promServer.Shutdown(context.Background())
	return 0
}

func newIndexerClient(endpoint string) indexerclient.Client {
	return indexerclient.NewHTTPClient(endpoint, nil)
}

// networkNameFromConfig derives the Network row name observations are
// grouped under (spec §3) from the config's chains map: Graphix monitors one
// indexing network per running instance, so the lexicographically smallest
// chain name wins, which keeps the choice deterministic across map iteration. This is an Open Question decision (see DESIGN.md):
// spec.md never names where the Network identity comes from.
func networkNameFromConfig(cfg *config.Config) string {
	var names []string
	for name := range cfg.Chains {
		names = append(names, name)
	}
	if len(names) == 0 {
		return "unknown"
	}
	best := names[0]
	for _, n := range names[1:] {
		if n < best {
			best = n
		}
	}
	return best
}

// resolveEndpointFunc builds the DivergenceInvestigator's address->endpoint
// resolver (spec §4.3 "Pairing") from the same ConfigSource list the Poller
// resolves its pool from: a direct `indexer` source is matched by address
// first; otherwise the first configured `networkSubgraph` source is queried
// (mirroring the Poller's indexerByAddress resolution, spec §4.1 step 1).
func resolveEndpointFunc(cfg *config.Config, nsClient networksubgraph.Client) func(ctx context.Context, addr models.Address20) (string, error) {
	return func(ctx context.Context, addr models.Address20) (string, error) {
		for _, src := range cfg.Sources {
			if src.Type != config.SourceIndexer {
				continue
			}
			a, err := models.ParseAddress20(src.Address)
			if err == nil && a == addr {
				return src.IndexNodeEndpoint, nil
			}
		}

		for _, src := range cfg.Sources {
			if src.Type == config.SourceNetworkSubgraph {
				return nsClient.ResolveEndpoint(ctx, src.Endpoint, addr)
			}
		}

		return "", fmt.Errorf("no source can resolve an endpoint for indexer %s", addr)
	}
}
