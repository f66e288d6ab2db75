// Package cli implements the command-line interface for the mirror explorer.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/colthorp/mirror-explorer-go/internal/api"
	"github.com/colthorp/mirror-explorer-go/internal/cache"
	"github.com/colthorp/mirror-explorer-go/internal/core"
	"github.com/colthorp/mirror-explorer-go/internal/metrics/prom"
	"github.com/colthorp/mirror-explorer-go/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// Global flags
var (
	verbose     bool
	quiet       bool
	raw         bool
	network     string
	baseURL     string
	store       string
	metricsAddr string
	timezone    string
	limit       int
)

// newTransport builds the transport every command talks through. Tests
// replace it with an in-memory mirror.
var newTransport = func(cfg core.Config) api.Transport {
	return api.NewClient(cfg, verbose)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "mirror-explorer",
	Short:         "Mirror explorer – browse a Hedera mirror node",
	Long:          `A command-line explorer for transactions, accounts, contracts, blocks and topics served by a Hedera mirror node.`,
	Version:       core.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress messages")
	rootCmd.PersistentFlags().BoolVar(&raw, "raw", false, "Emit raw JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&network, "network", "", "Network to query: mainnet, testnet or previewnet (default from MIRROR_NETWORK)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Mirror node base URL (overrides --network)")
	rootCmd.PersistentFlags().StringVar(&store, "store", "", "Persistent entity store: none, fs or sqlite (default from MIRROR_STORE)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.PersistentFlags().StringVar(&timezone, "timezone", "", "Timezone for datetime arguments (default: UTC)")
	rootCmd.PersistentFlags().IntVar(&limit, "limit", 0, "Rows per page (default from MIRROR_PAGE_SIZE)")
}

// loadConfig reads the environment and applies the global flags on top.
func loadConfig() (core.Config, error) {
	cfg, err := core.LoadConfig()
	if err != nil {
		return core.Config{}, err
	}
	if network != "" {
		cfg.Network = network
		if baseURL == "" {
			cfg.BaseURL = ""
		}
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if store != "" {
		cfg.Store = store
	}
	if limit > 0 {
		cfg.PageSize = limit
	}
	if err := cfg.Normalize(); err != nil {
		return core.Config{}, err
	}
	return cfg, nil
}

// explorer bundles what a command needs: the mirror client, the shared
// caches and whatever must be released on exit.
type explorer struct {
	cfg     core.Config
	manager *cache.Manager
	metrics cache.Metrics
	closers []func() error
}

// log writes a debug message if verbose mode is enabled.
func (e *explorer) log(msg string) {
	core.Eprint(fmt.Sprintf("[CLI] %s", msg), verbose)
}

// newExplorer wires the caches over transport according to cfg.
func newExplorer(cfg core.Config, transport api.Transport) (*explorer, error) {
	e := &explorer{cfg: cfg, metrics: cache.NoopMetrics{}}

	backend, err := e.openBackend()
	if err != nil {
		return nil, err
	}
	if err := e.serveMetrics(); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.startTracing(); err != nil {
		e.Close()
		return nil, err
	}

	e.manager = cache.NewManager(api.NewMirrorAPI(transport), cache.ManagerOptions{
		Backend:        backend,
		Metrics:        e.metrics,
		PollPeriod:     cfg.PollPeriod,
		MaxUpdateCount: cfg.MaxUpdateCount,
		Verbose:        verbose,
	})
	return e, nil
}

// setup builds an explorer from the environment and global flags, then
// applies any command-specific overrides.
func setup(overrides ...func(*core.Config)) (*explorer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	return newExplorer(cfg, newTransport(cfg))
}

func (e *explorer) openBackend() (cache.Backend, error) {
	// Each network gets its own store so timestamps never collide.
	root := filepath.Join(e.cfg.CacheDir, e.cfg.Network)
	switch e.cfg.Store {
	case core.StoreFilesystem:
		e.log(fmt.Sprintf("Using filesystem store at %s", root))
		return cache.NewFilesystemBackend(root), nil
	case core.StoreSQLite:
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		path := filepath.Join(root, "entities.db")
		e.log(fmt.Sprintf("Using SQLite store at %s", path))
		b, err := cache.OpenSQLiteBackend(path)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, b.Close)
		return b, nil
	default:
		return nil, nil
	}
}

func (e *explorer) serveMetrics() error {
	if metricsAddr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	e.metrics = prom.New(reg, "mirror_explorer", prometheus.Labels{"network": e.cfg.Network})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "Warning: metrics server stopped: %v\n", err)
		}
	}()
	core.ProgressPrint(fmt.Sprintf("Serving metrics on %s/metrics", metricsAddr), quiet)
	e.closers = append(e.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
	return nil
}

func (e *explorer) startTracing() error {
	shutdown, err := telemetry.Setup(context.Background(), "mirror-explorer", core.Version, e.cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	if e.cfg.OTelEndpoint != "" {
		e.log(fmt.Sprintf("Exporting traces to %s", e.cfg.OTelEndpoint))
	}
	e.closers = append(e.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})
	return nil
}

// Close flushes traces, stops the metrics server and releases the store.
func (e *explorer) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log(fmt.Sprintf("Close: %v", err))
		}
	}
	e.closers = nil
}
