package injector

import (
	"fmt"
	"os"

	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zeusync/qcserver/internal/config"
	"github.com/zeusync/qcserver/internal/core/events/bus"
	"github.com/zeusync/qcserver/internal/core/level"
	"github.com/zeusync/qcserver/internal/core/observability/log"
	"github.com/zeusync/qcserver/internal/core/observability/metrics"
	"github.com/zeusync/qcserver/internal/core/progs"
	"github.com/zeusync/qcserver/internal/server"
)

// ConfigPath is the YAML file passed on the command line. Empty means
// defaults plus environment.
type ConfigPath string

var ProviderSet = wire.NewSet(
	ProvideConfig,
	ProvideLogger,
	ProvideMetrics,
	ProvideBus,
	ProvideProgram,
	ProvideLevel,
	ProvideServer,
)

func ProvideConfig(path ConfigPath) (config.Config, error) {
	return config.Load(string(path))
}

// ProvideLogger builds the process logger. The cleanup flushes it.
func ProvideLogger(cfg config.Config) (log.Log, func()) {
	logger := log.NewWithConfig(cfg.LogConfig())
	return logger, func() { _ = logger.Sync() }
}

func ProvideMetrics() *metrics.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return metrics.New(reg)
}

func ProvideBus() bus.Bus {
	return bus.New()
}

func ProvideProgram(cfg config.Config, logger log.Log) (*progs.Program, error) {
	f, err := os.Open(cfg.Game.Progs)
	if err != nil {
		return nil, fmt.Errorf("open progs: %w", err)
	}
	defer f.Close()

	prog, err := progs.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Game.Progs, err)
	}
	logger.Info("Program loaded",
		log.String("path", cfg.Game.Progs),
		log.Int("functions", len(prog.Functions)),
		log.Int("globals", len(prog.Globals)))
	return prog, nil
}

func ProvideLevel(cfg config.Config, prog *progs.Program, logger log.Log, m *metrics.Metrics, b bus.Bus) (*level.Level, error) {
	return level.New(prog,
		level.WithConfig(cfg.LevelConfig()),
		level.WithLogger(logger),
		level.WithMetrics(m),
		level.WithBus(b),
	)
}

// ProvideServer builds the server and loads the first map.
func ProvideServer(cfg config.Config, lvl *level.Level, b bus.Bus, logger log.Log, m *metrics.Metrics) (*server.Server, error) {
	s, err := server.New(cfg.Server, lvl, b,
		server.WithLogger(logger),
		server.WithMetrics(m),
		server.WithMapLoader(server.DirLoader(cfg.Game.MapDir)),
	)
	if err != nil {
		return nil, err
	}
	if err := s.LoadMap(cfg.Game.Map); err != nil {
		return nil, err
	}
	return s, nil
}
