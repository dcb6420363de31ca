package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/dagu-org/sysgenid/internal/build"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Defaults applied before the config file and environment are read.
const (
	defaultBusType      = BusSession
	defaultBusName      = "com.RFC.sysgenid"
	defaultBusPath      = "/com/RFC/sysgenid"
	defaultCallTimeout  = 5 * time.Second
	defaultMetricsHost  = "127.0.0.1"
	defaultMetricsPort  = 9464
	defaultOverseerWait = 30 * time.Second
	defaultPollInterval = time.Second
)

// ConfigLoader reads and merges configuration from the config file, an
// optional env file and the environment.
type ConfigLoader struct {
	v          *viper.Viper
	configFile string
	configDirs []string
	envFile    string
	warnings   []string
}

// ConfigLoaderOption defines a functional option for configuring a ConfigLoader.
type ConfigLoaderOption func(*ConfigLoader)

// WithConfigFile sets an explicit configuration file. A missing explicit file
// is an error, unlike the default search locations.
func WithConfigFile(configFile string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.configFile = configFile
	}
}

// WithConfigDirs replaces the directories searched for config.yaml.
func WithConfigDirs(dirs ...string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.configDirs = dirs
	}
}

// WithEnvFile loads variables from a dotenv file before reading the
// environment. Variables already set in the process take precedence.
func WithEnvFile(envFile string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.envFile = envFile
	}
}

// NewConfigLoader creates a ConfigLoader with the given viper instance and options.
func NewConfigLoader(v *viper.Viper, options ...ConfigLoaderOption) *ConfigLoader {
	loader := &ConfigLoader{v: v}
	for _, opt := range options {
		opt(loader)
	}
	if loader.configDirs == nil {
		loader.configDirs = defaultConfigDirs()
	}
	return loader
}

// Load reads configuration files, applies defaults and environment overrides,
// and returns a validated Config instance.
func (l *ConfigLoader) Load() (*Config, error) {
	envFileUsed, err := l.loadEnvFile()
	if err != nil {
		return nil, err
	}

	l.configureViper()
	l.bindEnvironmentVariables()
	l.setViperDefaultValues()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var def Definition
	if err := l.v.Unmarshal(&def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg, err := l.buildConfig(def)
	if err != nil {
		return nil, fmt.Errorf("failed to build config: %w", err)
	}

	cfg.Paths.ConfigFileUsed = l.v.ConfigFileUsed()
	cfg.Paths.EnvFileUsed = envFileUsed
	cfg.Warnings = l.warnings

	return cfg, nil
}

// buildConfig transforms the Definition into a validated Config structure.
func (l *ConfigLoader) buildConfig(def Definition) (*Config, error) {
	cfg := Config{
		Core: Core{
			Debug:     def.Debug,
			LogFormat: strings.ToLower(def.LogFormat),
			LogFile:   def.LogFile,
		},
		Bus: Bus{
			Type:        BusType(strings.ToLower(def.Bus.Type)),
			Address:     def.Bus.Address,
			Name:        def.Bus.Name,
			Path:        def.Bus.Path,
			CallTimeout: l.parseDuration("bus.call_timeout", def.Bus.CallTimeout, defaultCallTimeout),
		},
		Metrics: Metrics{
			Enabled: def.Metrics.Enabled,
			Host:    def.Metrics.Host,
			Port:    def.Metrics.Port,
		},
		Overseer: Overseer{
			MinGen:           def.Overseer.MinGen,
			Timeout:          l.parseDuration("overseer.timeout", def.Overseer.Timeout, defaultOverseerWait),
			PollInterval:     l.parseDuration("overseer.poll_interval", def.Overseer.PollInterval, defaultPollInterval),
			QuiesceCommand:   def.Overseer.QuiesceCommand,
			UnquiesceCommand: def.Overseer.UnquiesceCommand,
		},
		Watcher: Watcher{
			Tracking:     def.Watcher.Tracking,
			OnGeneration: def.Watcher.OnGeneration,
		},
	}

	// An address alone is enough to select an explicit bus.
	if cfg.Bus.Type == "" {
		cfg.Bus.Type = defaultBusType
		if cfg.Bus.Address != "" {
			cfg.Bus.Type = BusAddress
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parseDuration parses a duration string, falling back to def and adding a
// warning if it is invalid.
func (l *ConfigLoader) parseDuration(fieldName, value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		l.warnings = append(l.warnings, fmt.Sprintf("Invalid %s value: %s (using %s)", fieldName, value, def))
		return def
	}
	return duration
}

// loadEnvFile applies the dotenv file named by the option or by
// SYSGENID_ENV_FILE. It returns the file used, if any.
func (l *ConfigLoader) loadEnvFile() (string, error) {
	envFile := l.envFile
	if envFile == "" {
		envFile = os.Getenv(envPrefix() + "ENV_FILE")
	}
	if envFile == "" {
		return "", nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return "", fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	return envFile, nil
}

func (l *ConfigLoader) setViperDefaultValues() {
	l.v.SetDefault("debug", false)
	l.v.SetDefault("log_format", "text")
	l.v.SetDefault("log_file", "")

	l.v.SetDefault("bus.type", "")
	l.v.SetDefault("bus.address", "")
	l.v.SetDefault("bus.name", defaultBusName)
	l.v.SetDefault("bus.path", defaultBusPath)
	l.v.SetDefault("bus.call_timeout", defaultCallTimeout.String())

	l.v.SetDefault("metrics.enabled", false)
	l.v.SetDefault("metrics.host", defaultMetricsHost)
	l.v.SetDefault("metrics.port", defaultMetricsPort)

	l.v.SetDefault("overseer.min_gen", 0)
	l.v.SetDefault("overseer.timeout", defaultOverseerWait.String())
	l.v.SetDefault("overseer.poll_interval", defaultPollInterval.String())
	l.v.SetDefault("overseer.quiesce_command", "")
	l.v.SetDefault("overseer.unquiesce_command", "")

	l.v.SetDefault("watcher.tracking", true)
	l.v.SetDefault("watcher.on_generation", "")
}

type envBinding struct {
	key string
	env string
}

var envBindings = []envBinding{
	{key: "debug", env: "DEBUG"},
	{key: "log_format", env: "LOG_FORMAT"},
	{key: "log_file", env: "LOG_FILE"},

	// Bus
	{key: "bus.type", env: "BUS_TYPE"},
	{key: "bus.address", env: "BUS_ADDRESS"},
	{key: "bus.name", env: "BUS_NAME"},
	{key: "bus.path", env: "BUS_PATH"},
	{key: "bus.call_timeout", env: "BUS_CALL_TIMEOUT"},

	// Metrics
	{key: "metrics.enabled", env: "METRICS_ENABLED"},
	{key: "metrics.host", env: "METRICS_HOST"},
	{key: "metrics.port", env: "METRICS_PORT"},

	// Overseer
	{key: "overseer.min_gen", env: "OVERSEER_MIN_GEN"},
	{key: "overseer.timeout", env: "OVERSEER_TIMEOUT"},
	{key: "overseer.poll_interval", env: "OVERSEER_POLL_INTERVAL"},
	{key: "overseer.quiesce_command", env: "OVERSEER_QUIESCE_COMMAND"},
	{key: "overseer.unquiesce_command", env: "OVERSEER_UNQUIESCE_COMMAND"},

	// Watcher
	{key: "watcher.tracking", env: "WATCHER_TRACKING"},
	{key: "watcher.on_generation", env: "WATCHER_ON_GENERATION"},
}

func (l *ConfigLoader) bindEnvironmentVariables() {
	prefix := envPrefix()
	for _, b := range envBindings {
		_ = l.v.BindEnv(b.key, prefix+b.env)
	}
}

func (l *ConfigLoader) configureViper() {
	if l.configFile == "" {
		for _, dir := range l.configDirs {
			l.v.AddConfigPath(dir)
		}
		l.v.SetConfigName("config")
	} else {
		l.v.SetConfigFile(l.configFile)
	}
	l.v.SetConfigType("yaml")
	l.v.SetEnvPrefix(strings.ToUpper(build.Slug))
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	l.v.AutomaticEnv()
}

// defaultConfigDirs lists the user config dir first, then the system ones.
func defaultConfigDirs() []string {
	dirs := []string{filepath.Join(xdg.ConfigHome, build.Slug)}
	for _, dir := range xdg.ConfigDirs {
		dirs = append(dirs, filepath.Join(dir, build.Slug))
	}
	return dirs
}

func envPrefix() string {
	return strings.ToUpper(build.Slug) + "_"
}
