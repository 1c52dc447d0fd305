// Command auditctl inspects the audit trail offline: it checks integrity seals and lists the
// records whose retention has lapsed so the purge job can remove them.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"storefront/internal/audit/bootstrap"
	"storefront/internal/platform/config"
	"storefront/internal/platform/logger"
	audit "storefront/pkg/platform/audit"
)

func main() {
	if err := newRootCmd(os.Stdout, openConfiguredStore).Execute(); err != nil {
		os.Exit(1)
	}
}

// storeOpener opens the configured store and returns its release function.
type storeOpener func(ctx context.Context, cfg *config.Config, log *slog.Logger) (audit.Store, func() error, error)

func openConfiguredStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (audit.Store, func() error, error) {
	s, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return s.Store, s.Close, nil
}

type app struct {
	configDir string
	out       io.Writer
	open      storeOpener
}

func newRootCmd(out io.Writer, open storeOpener) *cobra.Command {
	a := &app{out: out, open: open}

	root := &cobra.Command{
		Use:           "auditctl",
		Short:         "Inspect the storefront audit trail",
		SilenceUsage:  true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.configDir, "config", "", "directory containing config.yaml (default: . and ./configs)")

	root.AddCommand(a.verifyCmd())
	root.AddCommand(a.expiredCmd())
	return root
}

// session loads config and opens the store for one command run.
func (a *app) session(ctx context.Context) (*config.Config, audit.Store, func() error, error) {
	var (
		cfg *config.Config
		err error
	)
	if a.configDir != "" {
		cfg, err = config.Load(a.configDir)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, nil, err
	}
	log := logger.NewWithWriter(os.Stderr, cfg.Logger)
	store, closeFn, err := a.open(ctx, cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, store, closeFn, nil
}
