// Command nrcd runs the course code (NRC) lookup service. It answers one
// connection at a time.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gradebook-server-go/config"
	"gradebook-server-go/lookup"
	"pkt.systems/pslog"
)

func main() {
	os.Exit(submain(context.Background()))
}

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("NRC_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "nrcd")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(baseLogger).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "nrcd",
		Short:         "nrcd answers LISTAR and BUSCAR|<code> queries against a CSV course catalog",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			logger := baseLogger
			if level, ok := pslog.ParseLevel(strings.TrimSpace(v.GetString("log-level"))); ok {
				logger = logger.LogLevel(level)
			}
			cfg := config.Lookup{
				Listen:      v.GetString("listen"),
				CatalogPath: v.GetString("catalog"),
				ReadTimeout: v.GetDuration("read-timeout"),
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, logger)
		},
	}

	def := config.DefaultLookup()
	flags := cmd.Flags()
	flags.String("listen", def.Listen, "listen address")
	flags.String("catalog", def.CatalogPath, "CSV catalog file, seeded with sample courses when missing")
	flags.Duration("read-timeout", def.ReadTimeout, "how long a client may take to send its command")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	v.SetEnvPrefix("NRC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range []string{"listen", "catalog", "read-timeout", "log-level"} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	return cmd
}

func run(ctx context.Context, cfg config.Lookup, logger pslog.Logger) error {
	created, err := lookup.EnsureCatalogFile(cfg.CatalogPath)
	if err != nil {
		return err
	}
	if created {
		logger.Info("nrcd.catalog.seeded", "path", cfg.CatalogPath, "courses", len(lookup.DefaultCourses))
	}
	catalog, err := lookup.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	srv := lookup.NewServer(catalog, cfg.ReadTimeout, logger)
	if err := srv.Listen(cfg.Listen); err != nil {
		return err
	}
	return srv.Serve(ctx)
}
