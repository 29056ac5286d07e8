package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"gradebook-server-go/config"
	"gradebook-server-go/db"
	"gradebook-server-go/handlers"
	"gradebook-server-go/lookup"
	"gradebook-server-go/metrics"
	"gradebook-server-go/processor"
	"gradebook-server-go/server"
	"pkt.systems/pslog"
)

const shutdownTimeout = 10 * time.Second

var serverFlagNames = []string{
	"listen", "store", "lookup-addr", "lookup-timeout", "lookup-max-reply",
	"max-connections", "max-request-bytes", "admin-listen",
	"redis-addr", "redis-password", "redis-db", "cache-ttl", "log-level",
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "gradesd",
		Short:         "gradesd serves grade records over TCP, validating course codes against the NRC service",
		SilenceErrors: true,
		Example: `
  # Defaults: records on 127.0.0.1:5001, NRC service on 127.0.0.1:12346
  gradesd

  # Cap concurrent clients and expose the admin API with metrics
  gradesd --max-connections 64 --admin-listen 127.0.0.1:8080

  # Cache successful course lookups in Redis
  GRADEBOOK_REDIS_ADDR=127.0.0.1:6379 gradesd
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			logger := baseLogger

			if err := loadConfigFile(v); err != nil {
				return err
			}
			if level, ok := pslog.ParseLevel(strings.TrimSpace(v.GetString("log-level"))); ok {
				logger = logger.LogLevel(level)
			}
			cfg := bindServerConfig(v)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, logger)
		},
	}

	def := config.DefaultServer()
	cmd.PersistentFlags().StringP("config", "c", "", "path to YAML config file")

	flags := cmd.Flags()
	flags.String("listen", def.Listen, "record server listen address")
	flags.String("store", def.StorePath, "CSV file holding the grade records")
	flags.String("lookup-addr", def.LookupAddr, "address of the NRC lookup service")
	flags.Duration("lookup-timeout", def.LookupTimeout, "bound on one course code validation")
	flags.Int("lookup-max-reply", def.LookupMaxReply, "maximum size in bytes of a lookup reply")
	flags.Int("max-connections", def.MaxConnections, "maximum concurrently served clients (0 = unbounded)")
	flags.Int("max-request-bytes", def.MaxRequestBytes, "maximum size in bytes of one request")
	flags.String("admin-listen", "", "HTTP admin API listen address (empty disables)")
	flags.String("redis-addr", "", "Redis address for the validation cache (empty disables)")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", 0, "Redis database number")
	flags.Duration("cache-ttl", def.CacheTTL, "how long a validated course stays cached")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	v.SetEnvPrefix("GRADEBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	mustBind(v, cmd.PersistentFlags().Lookup("config"), "config")
	for _, name := range serverFlagNames {
		mustBind(v, flags.Lookup(name), name)
	}

	cmd.AddCommand(newRequestCommand())
	return cmd
}

func bindServerConfig(v *viper.Viper) config.Server {
	return config.Server{
		Listen:          v.GetString("listen"),
		StorePath:       v.GetString("store"),
		LookupAddr:      v.GetString("lookup-addr"),
		LookupTimeout:   v.GetDuration("lookup-timeout"),
		LookupMaxReply:  v.GetInt("lookup-max-reply"),
		MaxConnections:  v.GetInt("max-connections"),
		MaxRequestBytes: v.GetInt("max-request-bytes"),
		AdminListen:     v.GetString("admin-listen"),
		RedisAddr:       v.GetString("redis-addr"),
		RedisPassword:   v.GetString("redis-password"),
		RedisDB:         v.GetInt("redis-db"),
		CacheTTL:        v.GetDuration("cache-ttl"),
	}
}

// run wires the components and blocks until ctx is done or a listener
// fails. A bind failure is returned before anything is served.
func run(ctx context.Context, cfg config.Server, logger pslog.Logger) error {
	store, err := db.NewRecordStore(cfg.StorePath, logger)
	if err != nil {
		return err
	}

	lookupClient := lookup.NewClient(cfg.LookupAddr, cfg.LookupTimeout, cfg.LookupMaxReply)
	var validator processor.Validator = lookupClient
	var invalidator handlers.CacheInvalidator
	if cfg.RedisAddr != "" {
		rdb, err := db.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		cache := db.NewValidationCache(rdb, lookupClient, cfg.CacheTTL, logger)
		validator, invalidator = cache, cache
		logger.Info("gradesd.cache.enabled", "redis", cfg.RedisAddr, "ttl", cfg.CacheTTL.String())
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	proc := processor.New(store, validator, m, logger)
	srv := server.New(server.Config{
		Addr:            cfg.Listen,
		MaxConnections:  cfg.MaxConnections,
		MaxRequestBytes: cfg.MaxRequestBytes,
	}, proc, m, logger)
	if err := srv.Listen(); err != nil {
		return err
	}

	var adminLn net.Listener
	if cfg.AdminListen != "" {
		adminLn, err = net.Listen("tcp", cfg.AdminListen)
		if err != nil {
			_ = srv.Close()
			return fmt.Errorf("listen %s: %w", cfg.AdminListen, err)
		}
	}

	logger.Info("gradesd.started", "store", store.Path(), "lookup", cfg.LookupAddr)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx) })

	if adminLn != nil {
		gin.SetMode(gin.ReleaseMode)
		router := handlers.NewRouter(handlers.NewAPIHandler(store, proc, lookupClient, invalidator, logger), registry)
		httpSrv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
		logger.Info("gradesd.admin.listening", "addr", adminLn.Addr().String())
		g.Go(func() error {
			if err := httpSrv.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("gradesd.stopped")
	return err
}

func loadConfigFile(v *viper.Viper) error {
	path := strings.TrimSpace(v.GetString("config"))
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	return nil
}

func mustBind(v *viper.Viper, flag *pflag.Flag, name string) {
	if flag == nil {
		panic(fmt.Sprintf("flag %q not found", name))
	}
	if err := v.BindPFlag(name, flag); err != nil {
		panic(err)
	}
}
