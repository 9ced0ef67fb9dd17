// Package config loads the server configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/qcserver/internal/core/entity"
	"github.com/zeusync/qcserver/internal/core/level"
	"github.com/zeusync/qcserver/internal/core/observability/log"
	"github.com/zeusync/qcserver/internal/core/vm"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Server   Server   `yaml:"server"`
	Game     Game     `yaml:"game"`
	VM       VM       `yaml:"vm"`
	Entities Entities `yaml:"entities"`
	Log      Log      `yaml:"log"`
}

type Server struct {
	HTTPAddr string `yaml:"http_addr"`
	// QUICAddr enables the QUIC feed when set.
	QUICAddr string `yaml:"quic_addr"`
	// TLSCert and TLSKey are used by the QUIC feed. Without them an
	// ephemeral self-signed certificate is generated.
	TLSCert         string        `yaml:"tls_cert"`
	TLSKey          string        `yaml:"tls_key"`
	TickRate        int           `yaml:"tick_rate"`
	MaxSubscribers  int           `yaml:"max_subscribers"`
	AcceptRate      float64       `yaml:"accept_rate"`
	AcceptBurst     int           `yaml:"accept_burst"`
	SendQueue       int           `yaml:"send_queue"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type Game struct {
	Progs string `yaml:"progs"`
	// Map is the first map to load. Level changes look up <MapDir>/<name>.yaml.
	Map    string            `yaml:"map"`
	MapDir string            `yaml:"map_dir"`
	Cvars  map[string]string `yaml:"cvars"`
}

type VM struct {
	StatementBudget int           `yaml:"statement_budget"`
	MaxCallDepth    int           `yaml:"max_call_depth"`
	LocalStackSize  int           `yaml:"local_stack_size"`
	WarnInterval    time.Duration `yaml:"warn_interval"`
	Seed            uint64        `yaml:"seed"`
}

type Entities struct {
	Max        int     `yaml:"max"`
	ReuseDelay float32 `yaml:"reuse_delay"`
}

type Log struct {
	Level       string `yaml:"level"`
	Encoding    string `yaml:"encoding"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	vmCfg := vm.DefaultConfig()
	store := entity.DefaultStoreConfig()
	return Config{
		Server: Server{
			HTTPAddr:        ":8080",
			TickRate:        20,
			MaxSubscribers:  64,
			AcceptRate:      5,
			AcceptBurst:     10,
			SendQueue:       32,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Game: Game{
			Progs:  "progs.dat",
			Map:    "start",
			MapDir: "maps",
		},
		VM: VM{
			StatementBudget: vmCfg.StatementBudget,
			MaxCallDepth:    vmCfg.MaxCallDepth,
			LocalStackSize:  vmCfg.LocalStackSize,
			WarnInterval:    vmCfg.WarnInterval,
			Seed:            vmCfg.Seed,
		},
		Entities: Entities{
			Max:        store.MaxEntities,
			ReuseDelay: store.ReuseDelay,
		},
		Log: Log{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from QC_* variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"QC_HTTP_ADDR":    &c.Server.HTTPAddr,
		"QC_QUIC_ADDR":    &c.Server.QUICAddr,
		"QC_TLS_CERT":     &c.Server.TLSCert,
		"QC_TLS_KEY":      &c.Server.TLSKey,
		"QC_PROGS":        &c.Game.Progs,
		"QC_MAP":          &c.Game.Map,
		"QC_MAP_DIR":      &c.Game.MapDir,
		"QC_LOG_LEVEL":    &c.Log.Level,
		"QC_LOG_ENCODING": &c.Log.Encoding,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"QC_TICK_RATE":        &c.Server.TickRate,
		"QC_MAX_SUBSCRIBERS":  &c.Server.MaxSubscribers,
		"QC_STATEMENT_BUDGET": &c.VM.StatementBudget,
		"QC_MAX_ENTITIES":     &c.Entities.Max,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, v)
		}
		*dst = n
	}

	if v, ok := lookup("QC_ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v, ok := lookup("QC_SKILL"); ok {
		if c.Game.Cvars == nil {
			c.Game.Cvars = make(map[string]string)
		}
		c.Game.Cvars["skill"] = v
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.HTTPAddr == "" {
		errs = append(errs, errors.New("server.http_addr is empty"))
	}
	if c.Server.TickRate <= 0 || c.Server.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("server.tick_rate %d out of range", c.Server.TickRate))
	}
	if c.Server.MaxSubscribers <= 0 {
		errs = append(errs, errors.New("server.max_subscribers must be positive"))
	}
	if c.Server.SendQueue <= 0 {
		errs = append(errs, errors.New("server.send_queue must be positive"))
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		errs = append(errs, errors.New("server.tls_cert and server.tls_key go together"))
	}
	if c.Game.Progs == "" || c.Game.Map == "" {
		errs = append(errs, errors.New("game.progs and game.map are required"))
	}
	if c.VM.StatementBudget <= 0 || c.VM.MaxCallDepth <= 0 || c.VM.LocalStackSize <= 0 {
		errs = append(errs, errors.New("vm limits must be positive"))
	}
	if c.Entities.Max < 2 || c.Entities.Max > entity.HardMaxEntities {
		errs = append(errs, fmt.Errorf("entities.max %d out of range", c.Entities.Max))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// TickInterval is the wall time between ticks.
func (c *Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.Server.TickRate)
}

func (c *Config) LevelConfig() level.Config {
	return level.Config{
		Entities: entity.StoreConfig{
			MaxEntities: c.Entities.Max,
			ReuseDelay:  c.Entities.ReuseDelay,
		},
		VM: vm.Config{
			StatementBudget: c.VM.StatementBudget,
			MaxCallDepth:    c.VM.MaxCallDepth,
			LocalStackSize:  c.VM.LocalStackSize,
			WarnInterval:    c.VM.WarnInterval,
			Seed:            c.VM.Seed,
		},
		Cvars: c.Game.Cvars,
	}
}

func (c *Config) LogConfig() log.Config {
	lvl, _ := log.ParseLevel(c.Log.Level)
	return log.Config{
		Level:       lvl,
		Encoding:    c.Log.Encoding,
		Development: c.Log.Development,
	}
}
