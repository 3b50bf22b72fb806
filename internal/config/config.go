package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Dicklesworthstone/sysmoni/internal/errors"
	"github.com/Dicklesworthstone/sysmoni/internal/model"
	"github.com/Dicklesworthstone/sysmoni/internal/proctable"
)

// EnvPrefix is prepended to every environment override, e.g.
// SRPS_SYSMONI_INTERVAL=2 or SRPS_SYSMONI_GPU=0.
const EnvPrefix = "SRPS_SYSMONI"

// Keys shared by viper, the config file and the CLI flags.
const (
	KeyConfig           = "config"
	KeyInterval         = "interval"
	KeyRenderInterval   = "render-interval"
	KeyRetention        = "retention"
	KeyMaxSamples       = "max-samples"
	KeyDebounce         = "debounce"
	KeyShutdownGrace    = "shutdown-grace"
	KeySort             = "sort"
	KeySortDirection    = "sort-direction"
	KeyFilter           = "filter"
	KeyFilterRegex      = "filter-regex"
	KeyFilterCase       = "filter-case-sensitive"
	KeyFilterFuzzy      = "filter-fuzzy"
	KeyFilterCommand    = "filter-command"
	KeyGroup            = "group"
	KeyTree             = "tree"
	KeyTempUnit         = "temp-unit"
	KeyCPUTotalRelative = "cpu-total-relative"
	KeyGPU              = "gpu"
	KeyBattery          = "battery"
	KeyLogLevel         = "log-level"
	KeyLogFile          = "log-file"
	KeyJSON             = "json"
	KeyJSONStream       = "json-stream"
	KeyFormat           = "format"
)

// Config carries runtime options for sysmoni.
type Config struct {
	PollInterval   time.Duration
	RenderInterval time.Duration
	Retention      time.Duration
	MaxSamples     int
	Debounce       int
	ShutdownGrace  time.Duration

	SortKey             string
	SortDirection       string
	FilterText          string
	FilterIsRegex       bool
	FilterCaseSensitive bool
	FilterFuzzy         bool
	FilterCommand       bool
	GroupByName         bool
	TreeMode            bool

	TemperatureUnit  string
	CPUTotalRelative bool
	EnableGPU        bool
	EnableBatt       bool

	LogLevel   string
	LogFile    string
	JSON       bool
	JSONStream bool
	Format     string
}

func Default() Config {
	return Config{
		PollInterval:    time.Second,
		RenderInterval:  200 * time.Millisecond,
		Retention:       60 * time.Second,
		MaxSamples:      3600,
		Debounce:        proctable.DefaultDebounce,
		ShutdownGrace:   2 * time.Second,
		SortKey:         "cpu",
		SortDirection:   "desc",
		TemperatureUnit: "c",
		EnableGPU:       true,
		EnableBatt:      true,
		LogLevel:        "info",
		Format:          "json",
	}
}

// SetDefaults registers Default() on v and wires environment overrides.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyInterval, d.PollInterval.String())
	v.SetDefault(KeyRenderInterval, d.RenderInterval.String())
	v.SetDefault(KeyRetention, d.Retention.String())
	v.SetDefault(KeyMaxSamples, d.MaxSamples)
	v.SetDefault(KeyDebounce, d.Debounce)
	v.SetDefault(KeyShutdownGrace, d.ShutdownGrace.String())
	v.SetDefault(KeySort, d.SortKey)
	v.SetDefault(KeySortDirection, d.SortDirection)
	v.SetDefault(KeyFilter, "")
	v.SetDefault(KeyTempUnit, d.TemperatureUnit)
	v.SetDefault(KeyGPU, d.EnableGPU)
	v.SetDefault(KeyBattery, d.EnableBatt)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyFormat, d.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(KeyBattery, EnvPrefix+"_BATT", EnvPrefix+"_BATTERY")
}

// DefaultFile returns $XDG_CONFIG_HOME/sysmoni/config.yaml.
func DefaultFile() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sysmoni", "config.yaml")
}

// Load reads the optional config file named by KeyConfig (or the default
// location if it exists), then resolves every key through v's precedence:
// flags, env, file, defaults.
func Load(v *viper.Viper) (Config, error) {
	path := v.GetString(KeyConfig)
	explicit := path != ""
	if !explicit {
		path = DefaultFile()
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil || explicit {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, errors.WrapWithCode(err, errors.ErrConfig,
					"Failed to read config file "+path,
					"Check the file exists and is valid YAML")
			}
		}
	}

	var cfg Config
	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{KeyInterval, &cfg.PollInterval},
		{KeyRenderInterval, &cfg.RenderInterval},
		{KeyRetention, &cfg.Retention},
		{KeyShutdownGrace, &cfg.ShutdownGrace},
	}
	for _, d := range durations {
		if *d.dst, err = ParseDuration(v.GetString(d.key)); err != nil {
			return Config{}, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Invalid %s", d.key),
				"Use a Go duration such as 500ms or 2s; bare numbers are seconds")
		}
	}

	cfg.MaxSamples = v.GetInt(KeyMaxSamples)
	cfg.Debounce = v.GetInt(KeyDebounce)
	cfg.SortKey = v.GetString(KeySort)
	cfg.SortDirection = v.GetString(KeySortDirection)
	cfg.FilterText = v.GetString(KeyFilter)
	cfg.FilterIsRegex = v.GetBool(KeyFilterRegex)
	cfg.FilterCaseSensitive = v.GetBool(KeyFilterCase)
	cfg.FilterFuzzy = v.GetBool(KeyFilterFuzzy)
	cfg.FilterCommand = v.GetBool(KeyFilterCommand)
	cfg.GroupByName = v.GetBool(KeyGroup)
	cfg.TreeMode = v.GetBool(KeyTree)
	cfg.TemperatureUnit = v.GetString(KeyTempUnit)
	cfg.CPUTotalRelative = v.GetBool(KeyCPUTotalRelative)
	cfg.EnableGPU = v.GetBool(KeyGPU)
	cfg.EnableBatt = v.GetBool(KeyBattery)
	cfg.LogLevel = v.GetString(KeyLogLevel)
	cfg.LogFile = v.GetString(KeyLogFile)
	cfg.JSON = v.GetBool(KeyJSON)
	cfg.JSONStream = v.GetBool(KeyJSONStream)
	cfg.Format = strings.ToLower(v.GetString(KeyFormat))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseDuration accepts Go durations and bare numbers of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	invalid := func(msg, hint string) error {
		return errors.New(errors.ErrConfig, msg, hint)
	}
	if c.PollInterval <= 0 {
		return invalid("Poll interval must be positive", "Set --interval to a value such as 1s")
	}
	if c.RenderInterval <= 0 {
		return invalid("Render interval must be positive", "Set --render-interval to a value such as 200ms")
	}
	if c.Retention < c.PollInterval {
		return invalid(
			fmt.Sprintf("Retention %s is shorter than the poll interval %s", c.Retention, c.PollInterval),
			"Raise --retention or lower --interval")
	}
	if c.MaxSamples < 1 {
		return invalid("max-samples must be at least 1", "Remove --max-samples to use the default")
	}
	if c.Debounce < 1 {
		return invalid("Debounce must be at least 1 poll", "Remove --debounce to use the default of 2")
	}
	if c.ShutdownGrace < 0 {
		return invalid("Shutdown grace must not be negative", "Set --shutdown-grace to a value such as 2s")
	}
	if _, err := proctable.ParseSortKey(c.SortKey); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Unknown sort key",
			"Use one of: cpu, mem, pid, name, read, write, state")
	}
	if _, err := proctable.ParseDirection(c.SortDirection); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Unknown sort direction", "Use asc or desc")
	}
	if _, err := model.ParseTempUnit(c.TemperatureUnit); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Unknown temperature unit", "Use c, f or k")
	}
	if c.FilterIsRegex && c.FilterFuzzy {
		return invalid("Regex and fuzzy filters are mutually exclusive", "Pick one of --filter-regex or --filter-fuzzy")
	}
	if c.FilterFuzzy && c.FilterCaseSensitive {
		return invalid("Fuzzy filtering is always case-insensitive", "Drop --filter-case or --filter-fuzzy")
	}
	if _, err := proctable.Compile(c.FilterSpec()); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Invalid filter expression",
			"Fix the regular expression or drop --filter-regex")
	}
	if c.JSON && c.JSONStream {
		return invalid("--json and --json-stream are mutually exclusive", "Pick one output mode")
	}
	if c.Format != "json" && c.Format != "yaml" {
		return invalid(fmt.Sprintf("Unknown output format %q", c.Format), "Use json or yaml")
	}
	return nil
}

// Sort returns the parsed sort key and direction. Call after Validate.
func (c Config) Sort() (proctable.SortKey, proctable.Direction) {
	key, _ := proctable.ParseSortKey(c.SortKey)
	dir, _ := proctable.ParseDirection(c.SortDirection)
	return key, dir
}

// FilterSpec builds the initial process filter.
func (c Config) FilterSpec() proctable.FilterSpec {
	mode := proctable.ModeSubstring
	switch {
	case c.FilterIsRegex:
		mode = proctable.ModeRegex
	case c.FilterFuzzy:
		mode = proctable.ModeFuzzy
	}
	return proctable.FilterSpec{
		Text:          c.FilterText,
		Mode:          mode,
		CaseSensitive: c.FilterCaseSensitive,
		MatchCommand:  c.FilterCommand,
	}
}

// TempUnit returns the parsed display unit. Call after Validate.
func (c Config) TempUnit() model.TempUnit {
	u, _ := model.ParseTempUnit(c.TemperatureUnit)
	return u
}
