package cmd

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/rulesched/internal/config"
	"github.com/Iron-Ham/rulesched/internal/event"
	"github.com/Iron-Ham/rulesched/internal/jobs"
	"github.com/Iron-Ham/rulesched/internal/lock"
	"github.com/Iron-Ham/rulesched/internal/logging"
	"github.com/Iron-Ham/rulesched/internal/rule"
)

// engine bundles a manager with the bus its lifecycle events go to.
type engine struct {
	cfg     *config.Config
	logger  *logging.Logger
	manager *jobs.Manager
	bus     *event.Bus
}

// newEngine loads the configuration and starts a manager. workers
// overrides the configured pool size when positive. Call close when done.
func newEngine(workers int) (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if workers > 0 {
		cfg.Workers.Max = workers
		cfg.Workers.Min = min(cfg.Workers.Min, workers)
	}

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		logger, err = logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to open engine log: %w", err)
		}
	}

	m := jobs.NewManager(jobs.OptionsFromConfig(cfg, logger))
	bus := event.NewBus()
	bus.SetLogger(logger)
	m.AddListener(jobs.NewBusListener(bus))
	m.LockManager().SetDeadlockHandler(func(d lock.Deadlock) {
		bus.Publish(deadlockEvent(d))
	})

	// Debug flags follow edits to the config file while the engine runs.
	if viper.ConfigFileUsed() != "" {
		config.WatchDebug(func(d config.DebugConfig) {
			m.SetDebug(jobs.DebugFromConfig(d))
			logger.Info("debug flags reloaded", "debug", d)
		})
	}

	logger.Info("engine started", "max_workers", cfg.Workers.Max)
	return &engine{cfg: cfg, logger: logger, manager: m, bus: bus}, nil
}

func (e *engine) close() {
	e.manager.Shutdown()
	e.manager.Wait()
	e.logger.Info("engine stopped")
	_ = e.logger.Close()
}

func deadlockEvent(d lock.Deadlock) event.DeadlockResolvedEvent {
	threads := make([]string, len(d.Threads))
	for i, t := range d.Threads {
		threads[i] = t.Name()
	}
	locks := make([]string, len(d.Locks))
	for i, l := range d.Locks {
		locks[i] = rule.Name(l)
	}
	candidate := ""
	if d.Candidate != nil {
		candidate = d.Candidate.Name()
	}
	return event.NewDeadlockResolvedEvent(threads, candidate, locks)
}
