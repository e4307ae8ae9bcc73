package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lcalzada-xor/mlomgr/internal/core/domain"
	"github.com/lcalzada-xor/mlomgr/internal/core/services/setup"
)

// Config holds all application configuration.
type Config struct {
	Addr       string
	DBPath     string
	ConfigPath string
	LogLevel   slog.Level
	Tracing    bool
	// Simulate brings up a loopback AP MLD and the configured groups at
	// startup.
	Simulate bool

	Features   domain.FeatureSet
	AIDStart   uint16
	AIDMax     uint16
	MaxDevices int
	// MaxPeersPerVdev is advertised by the vdevs the daemon creates.
	MaxPeersPerVdev int

	// ForcePrimaryChip pins every primary link to one chip. Negative means
	// the load based choice.
	ForcePrimaryChip int
	ChipCapacity     int

	Groups          []setup.GroupConfig
	TeardownTimeout time.Duration
	RadioLatency    time.Duration

	JournalBuffer   int
	JournalBatch    int
	JournalInterval time.Duration

	NotifyQueue   int
	NotifyWorkers int
}

// fileConfig is the YAML layout. Absent keys keep the values already
// resolved.
type fileConfig struct {
	Features   *domain.FeatureSet  `yaml:"features"`
	Groups     []setup.GroupConfig `yaml:"groups"`
	AIDStart   *uint16             `yaml:"aid_start"`
	AIDMax     *uint16             `yaml:"aid_max"`
	MaxDevices *int                `yaml:"max_devices"`
	Primary    *struct {
		ForceChip    *int `yaml:"force_chip"`
		ChipCapacity *int `yaml:"chip_capacity"`
	} `yaml:"primary"`
	TeardownTimeoutMs *int `yaml:"teardown_timeout_ms"`
}

// Load parses args (without the program name) and the environment.
// Precedence, lowest first: defaults, YAML file, MLOMGR_* variables, flags.
func Load(args []string) (*Config, error) {
	cfg := defaults()

	fs := flag.NewFlagSet("mlomgr", flag.ContinueOnError)
	configPath := fs.String("config", getEnv("MLOMGR_CONFIG", ""), "Path to YAML configuration file")
	addr := fs.String("addr", "", "Diagnostics HTTP address")
	db := fs.String("db", "", "Path to SQLite journal database")
	level := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	trace := fs.Bool("trace", false, "Export spans to stdout")
	simulate := fs.Bool("simulate", false, "Bring up a loopback AP MLD at startup")
	features := fs.String("features", "", "Comma separated feature list (mlo_11be,multi_chip,nawds,mesh,auth_defer,t2lm)")
	primary := fs.Int("primary-chip", -1, "Force the primary link onto this chip (-1 for load based)")
	teardown := fs.Duration("teardown-timeout", 0, "Multi-chip teardown wait")
	workers := fs.Int("workers", 0, "Notification worker goroutines")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := cfg.applyFile(*configPath); err != nil {
			return nil, err
		}
		cfg.ConfigPath = *configPath
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["addr"] {
		cfg.Addr = *addr
	}
	if set["db"] {
		cfg.DBPath = *db
	}
	if set["log-level"] {
		if err := cfg.LogLevel.UnmarshalText([]byte(*level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", *level, err)
		}
	}
	if set["trace"] {
		cfg.Tracing = *trace
	}
	if set["simulate"] {
		cfg.Simulate = *simulate
	}
	if set["features"] {
		fset, err := ParseFeatures(*features)
		if err != nil {
			return nil, err
		}
		cfg.Features = fset
	}
	if set["primary-chip"] {
		cfg.ForcePrimaryChip = *primary
	}
	if set["teardown-timeout"] {
		cfg.TeardownTimeout = *teardown
	}
	if set["workers"] {
		cfg.NotifyWorkers = *workers
	}
	return cfg, cfg.Validate()
}

func defaults() *Config {
	return &Config{
		Addr:             ":8090",
		DBPath:           getDefaultDBPath(),
		LogLevel:         slog.LevelInfo,
		Features:         domain.DefaultFeatures(),
		AIDStart:         1,
		AIDMax:           2008,
		MaxDevices:       2,
		MaxPeersPerVdev:  512,
		ForcePrimaryChip: -1,
		TeardownTimeout:  setup.DefaultTeardownTimeout,
		RadioLatency:     2 * time.Millisecond,
		JournalBuffer:    10000,
		JournalBatch:     100,
		JournalInterval:  5 * time.Second,
		NotifyQueue:      256,
		NotifyWorkers:    runtime.NumCPU(),
	}
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if fc.Features != nil {
		c.Features = *fc.Features
	}
	if len(fc.Groups) > 0 {
		c.Groups = fc.Groups
	}
	if fc.AIDStart != nil {
		c.AIDStart = *fc.AIDStart
	}
	if fc.AIDMax != nil {
		c.AIDMax = *fc.AIDMax
	}
	if fc.MaxDevices != nil {
		c.MaxDevices = *fc.MaxDevices
	}
	if p := fc.Primary; p != nil {
		if p.ForceChip != nil {
			c.ForcePrimaryChip = *p.ForceChip
		}
		if p.ChipCapacity != nil {
			c.ChipCapacity = *p.ChipCapacity
		}
	}
	if fc.TeardownTimeoutMs != nil {
		c.TeardownTimeout = time.Duration(*fc.TeardownTimeoutMs) * time.Millisecond
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Addr = getEnv("MLOMGR_ADDR", c.Addr)
	c.DBPath = getEnv("MLOMGR_DB", c.DBPath)
	c.Tracing = getEnvBool("MLOMGR_TRACE", c.Tracing)
	c.Simulate = getEnvBool("MLOMGR_SIMULATE", c.Simulate)
	c.MaxDevices = getEnvInt("MLOMGR_MAX_DEVICES", c.MaxDevices)
	c.MaxPeersPerVdev = getEnvInt("MLOMGR_MAX_PEERS", c.MaxPeersPerVdev)
	c.ForcePrimaryChip = getEnvInt("MLOMGR_PRIMARY_CHIP", c.ForcePrimaryChip)
	c.AIDStart = uint16(getEnvInt("MLOMGR_AID_START", int(c.AIDStart)))
	c.AIDMax = uint16(getEnvInt("MLOMGR_AID_MAX", int(c.AIDMax)))
	c.JournalBatch = getEnvInt("MLOMGR_JOURNAL_BATCH", c.JournalBatch)
	c.JournalInterval = getEnvDuration("MLOMGR_JOURNAL_FLUSH", c.JournalInterval)
	c.TeardownTimeout = getEnvDuration("MLOMGR_TEARDOWN_TIMEOUT", c.TeardownTimeout)
	if v, ok := os.LookupEnv("MLOMGR_LOG_LEVEL"); ok {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("MLOMGR_LOG_LEVEL %q: %w", v, err)
		}
	}
	if v, ok := os.LookupEnv("MLOMGR_FEATURES"); ok {
		fset, err := ParseFeatures(v)
		if err != nil {
			return fmt.Errorf("MLOMGR_FEATURES: %w", err)
		}
		c.Features = fset
	}
	return nil
}

// Validate checks the combinations the services cannot recover from.
func (c *Config) Validate() error {
	if c.AIDStart == 0 || c.AIDStart > c.AIDMax {
		return fmt.Errorf("%w: AID range %d..%d", domain.ErrInvalidArgument, c.AIDStart, c.AIDMax)
	}
	if c.MaxDevices <= 0 {
		return fmt.Errorf("%w: max devices %d", domain.ErrInvalidArgument, c.MaxDevices)
	}
	if c.ForcePrimaryChip >= domain.MaxMLOChips {
		return fmt.Errorf("%w: primary chip %d", domain.ErrOutOfRange, c.ForcePrimaryChip)
	}
	if c.Features.MultiChip && len(c.Groups) == 0 {
		return fmt.Errorf("%w: multi_chip needs at least one group", domain.ErrIncompatibleConfig)
	}
	return nil
}

// ParseFeatures reads a comma separated feature list. An empty list turns
// every feature off.
func ParseFeatures(s string) (domain.FeatureSet, error) {
	var f domain.FeatureSet
	for _, p := range strings.Split(s, ",") {
		switch name := strings.ToLower(strings.TrimSpace(p)); name {
		case "":
		case "mlo_11be":
			f.MLO11be = true
		case "multi_chip":
			f.MultiChip = true
		case "nawds":
			f.NAWDS = true
		case "mesh":
			f.Mesh = true
		case "auth_defer":
			f.AuthDefer = true
		case "t2lm":
			f.T2LM = true
		default:
			return f, fmt.Errorf("%w: unknown feature %q", domain.ErrInvalidArgument, name)
		}
	}
	return f, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getDefaultDBPath returns the default database path in user's home directory.
func getDefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("Could not get user home directory, using current dir", "error", err)
		return "mlomgr.db"
	}
	return filepath.Join(home, ".mlomgr", "mlomgr.db")
}
