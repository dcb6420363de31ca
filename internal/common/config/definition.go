package config

// Definition mirrors the configuration file layout. Every field maps to a key
// in the YAML file and, through the env bindings, to a SYSGENID_ variable.
type Definition struct {
	// Debug enables debug logging with source locations.
	Debug bool `mapstructure:"debug"`

	// LogFormat is "text" or "json".
	LogFormat string `mapstructure:"log_format"`

	// LogFile is an optional file that receives a copy of the logs.
	LogFile string `mapstructure:"log_file"`

	Bus      BusDef      `mapstructure:"bus"`
	Metrics  MetricsDef  `mapstructure:"metrics"`
	Overseer OverseerDef `mapstructure:"overseer"`
	Watcher  WatcherDef  `mapstructure:"watcher"`
}

// BusDef selects the bus and the coordinator's name on it.
type BusDef struct {
	// Type is "session", "system" or "address".
	Type        string `mapstructure:"type"`
	Address     string `mapstructure:"address"`
	Name        string `mapstructure:"name"`
	Path        string `mapstructure:"path"`
	CallTimeout string `mapstructure:"call_timeout"`
}

type MetricsDef struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

type OverseerDef struct {
	MinGen           uint32 `mapstructure:"min_gen"`
	Timeout          string `mapstructure:"timeout"`
	PollInterval     string `mapstructure:"poll_interval"`
	QuiesceCommand   string `mapstructure:"quiesce_command"`
	UnquiesceCommand string `mapstructure:"unquiesce_command"`
}

type WatcherDef struct {
	Tracking     bool   `mapstructure:"tracking"`
	OnGeneration string `mapstructure:"on_generation"`
}
