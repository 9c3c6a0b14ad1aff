package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quenby/chime/config"
	"github.com/quenby/chime/engine"
	"github.com/quenby/chime/job"
	"github.com/quenby/chime/logger"
	"github.com/quenby/chime/runner"
	"github.com/quenby/chime/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Chime daemon",
	Long: `Start the Chime daemon in foreground mode.

The daemon runs the scheduling engine, the execution worker pool, and the
HTTP API. It recovers runs orphaned by a previous shutdown, prunes old
execution history, and hot-reloads its config file. Stop it with Ctrl+C;
in-flight runs are requeued for the next start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		seedFile, _ := cmd.Flags().GetString("seed")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		database, err := openDatabase(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer database.Close()

		jobs := job.NewStore(database)
		executions := job.NewExecutionStore(database)
		queue := runner.NewQueue(database)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if seedFile != "" {
			imported, err := job.ImportFile(ctx, jobs, seedFile)
			if err != nil {
				return err
			}
			logger.Infow("Imported seed jobs", "file", seedFile, "count", len(imported))
		}

		handlers := runner.NewHandlerRegistry()
		handlers.Register(runner.NewWebhookHandler(nil, logger.Logger))

		dispatcher := runner.NewDispatcher(queue, handlers,
			cfg.Engine.DispatchPerSecond, cfg.Engine.DispatchBurst, logger.Logger)

		eng := engine.NewEngine(ctx, jobs, dispatcher, executions, engine.Config{
			TickInterval: cfg.Engine.TickInterval(),
			StartupGrace: cfg.Engine.StartupGrace(),
		}, logger.Logger)

		pool := runner.NewPool(ctx, queue, handlers, executions, eng, runner.PoolConfig{
			Workers:      cfg.Runner.Workers,
			PollInterval: cfg.Runner.PollInterval(),
		}, logger.Logger)

		eng.Start()
		pool.Start()

		var srv *server.Server
		if cfg.Server.Enabled {
			srv = server.NewServer(cfg.Server.Port, jobs, executions, queue, eng, logger.Logger)
			srv.Start()
		}

		watcher := startConfigWatcher(dispatcher)
		stopPruner := startHistoryPruner(ctx, cfg, executions, queue)

		fmt.Println("Chime daemon started")
		fmt.Printf("  Database:      %s\n", cfg.Database.Path)
		fmt.Printf("  Workers:       %d\n", cfg.Runner.Workers)
		fmt.Printf("  Tick interval: %v\n", cfg.Engine.TickInterval())
		if cfg.Server.Enabled {
			fmt.Printf("  API:           http://localhost:%d\n", cfg.Server.Port)
		}
		fmt.Println("\nPress Ctrl+C to shut down")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Println("\nShutting down...")

		// Reverse order of startup: stop taking requests, then stop executing,
		// then stop scheduling
		stopPruner()
		if watcher != nil {
			watcher.Stop()
		}
		if srv != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			srv.Stop(shutdownCtx)
			shutdownCancel()
		}
		pool.Stop()
		eng.Stop()

		fmt.Println("Chime daemon stopped")
		return nil
	},
}

// startConfigWatcher hot-applies the live-tunable settings (log level,
// dispatch rate) when the config file changes. Returns nil when there is no
// file to watch.
func startConfigWatcher(dispatcher *runner.Dispatcher) *config.Watcher {
	path := configFile
	if path == "" {
		path = config.UserConfigPath()
	}
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	watcher, err := config.NewWatcher(path)
	if err != nil {
		logger.Warnw("Config watcher unavailable", "path", path, "error", err)
		return nil
	}
	watcher.OnReload(func(cfg *config.Config) error {
		dispatcher.SetRate(cfg.Engine.DispatchPerSecond, cfg.Engine.DispatchBurst)
		return logger.SetLevel(cfg.Log.Level)
	})
	config.SetGlobalWatcher(watcher)
	watcher.Start()
	logger.Infow("Watching config file", "path", path)
	return watcher
}

// startHistoryPruner periodically deletes execution rows and terminal runs
// past the retention window.
func startHistoryPruner(ctx context.Context, cfg *config.Config, executions *job.ExecutionStore, queue *runner.Queue) func() {
	retention := cfg.Engine.HistoryRetention()
	if retention <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				if pruned, err := executions.PruneOlderThan(ctx, cutoff); err != nil {
					logger.Warnw("Execution history pruning failed", "error", err)
				} else if pruned > 0 {
					logger.Infow("Pruned execution history", "rows", pruned, "cutoff", cutoff)
				}
				if removed, err := queue.Cleanup(ctx, cutoff); err != nil {
					logger.Warnw("Run cleanup failed", "error", err)
				} else if removed > 0 {
					logger.Infow("Cleaned up old runs", "rows", removed, "cutoff", cutoff)
				}
			}
		}
	}()

	var once bool
	return func() {
		if !once {
			once = true
			close(done)
		}
	}
}

func init() {
	startCmd.Flags().String("seed", "", "Import job definitions from a YAML file before starting")
}
