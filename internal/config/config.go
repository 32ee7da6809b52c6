// Package config defines orderingd's runtime configuration and the
// cobra/pflag command that parses it, in the narrated-flag style of
// cmd/empower1d/cli/cli.go.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// Config bounds every tunable of the ordering service's wiring: the
// emission policy (C7), the inbound/outbound transport endpoints (C4),
// the static peer set (C2), the durable height cell's path (C1), and
// the metrics/health admin surface.
type Config struct {
	MaxSize          int
	DeadlineInterval time.Duration
	IsAsync          bool

	ListenAddr string
	Peers      []string

	HeightStorePath string

	MetricsAddr string
}

// Validate rejects configurations that would leave the ordering core in
// an unrunnable state.
func (c Config) Validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("config: max-size must be positive, got %d", c.MaxSize)
	}
	if c.DeadlineInterval <= 0 {
		return fmt.Errorf("config: deadline-interval must be positive, got %s", c.DeadlineInterval)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen-addr must not be empty")
	}
	if c.HeightStorePath == "" {
		return fmt.Errorf("config: height-store-path must not be empty")
	}
	return nil
}

// NewRootCommand builds the orderingd root command. run is invoked with
// the parsed and validated Config once cobra has bound flags; it is the
// process's actual entry point, kept separate from flag parsing so it
// can be exercised without a cobra.Command in play.
func NewRootCommand(run func(Config) error) *cobra.Command {
	cfg := Config{}

	root := &cobra.Command{
		Use:   "orderingd",
		Short: "orderingd collects, batches, and broadcasts transaction proposals for a permissioned ordering service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := root.Flags()
	flags.IntVar(&cfg.MaxSize, "max-size", 100, "maximum number of transactions per proposal")
	flags.DurationVar(&cfg.DeadlineInterval, "deadline-interval", 2*time.Second, "maximum time a non-empty queue waits before being emitted")
	flags.BoolVar(&cfg.IsAsync, "async", true, "dispatch triggers to a dedicated worker goroutine instead of the calling goroutine")
	flags.StringVar(&cfg.ListenAddr, "listen-addr", ":9100", "address the inbound transaction transport listens on")
	flags.StringSliceVar(&cfg.Peers, "peer", nil, "peer address to broadcast proposals to (repeatable)")
	flags.StringVar(&cfg.HeightStorePath, "height-store-path", "ordering.db", "path to the durable height store")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9101", "address the /metrics and /healthz admin server listens on")

	return root
}
