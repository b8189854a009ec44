package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/taskhub/internal/config"
	"github.com/felixgeelhaar/taskhub/internal/engine"
	"github.com/felixgeelhaar/taskhub/internal/health"
	"github.com/felixgeelhaar/taskhub/internal/lifecycle"
	"github.com/felixgeelhaar/taskhub/internal/log"
	"github.com/felixgeelhaar/taskhub/internal/registry"
	"github.com/felixgeelhaar/taskhub/internal/router"
	"github.com/felixgeelhaar/taskhub/internal/server"
	"github.com/felixgeelhaar/taskhub/internal/store"
	"github.com/felixgeelhaar/taskhub/internal/version"
)

var serveConfigFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub server",
	Long: `Load the template set, build the in-memory stores, and serve the
task API until interrupted. Shutdown is graceful: readiness probes fail
first, then connections drain.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", "taskhub.yaml", "config file (YAML)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfigFile)
	if err != nil {
		return err
	}

	logger := log.New(log.Config{
		Level:          log.ParseLevel(cfg.Log.Level),
		Format:         log.ParseFormat(cfg.Log.Format),
		Output:         log.OutputStdout(),
		ServiceName:    "taskhub",
		ServiceVersion: version.GetInfo().Short(),
	})
	log.SetDefaultLogger(logger)

	reg, err := registry.LoadFiles(cfg.TypesFile, cfg.TemplatesFile)
	if err != nil {
		return err
	}
	dir, err := config.LoadDirectory(cfg.UsersFile, cfg.GroupsFile)
	if err != nil {
		return err
	}

	st := store.NewMemoryCollections()
	procs := router.NewRegistry()
	alloc := router.NewAllocator(procs, st)
	lc := lifecycle.NewManager(reg, dir, st, alloc, logger)
	queue := engine.NewQueue(0)
	eng := engine.New(reg, st, alloc, lc, queue, cfg.MaxErrorRate, logger)

	probes := health.NewProbeManager(version.GetInfo().Short())
	probes.AddChecker(health.NewRegistryChecker(reg))
	probes.AddChecker(health.NewStoreChecker(st))
	probes.AddChecker(health.NewProcessorChecker(procs))

	srv := server.New(eng, lc, queue, procs, st, probes, logger, server.Config{
		Address:         cfg.Address,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if cfg.ReapIdle > 0 {
		go eng.RunReaper(ctx, cfg.ReapIdle/2, cfg.ReapIdle)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	logger.Info("hub started",
		"address", cfg.Address,
		"templates", len(reg.IDs()),
	)

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
