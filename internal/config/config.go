package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/ad2ctl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultPeerURL      = "ws://127.0.0.1:1880/ws/ad2"
	DefaultRecordDir    = "."
	DefaultDriver       = DriverSim
	DefaultWindowSize   = 8000
	DefaultSamplePeriod = 100 * time.Millisecond
	DefaultAmplitude    = 5.0
	DefaultOffset       = 0.0
	DefaultInputRange   = 50.0
	DefaultSettleDelay  = time.Second
	DefaultLogLevel     = "info"
	DefaultHistoryDB    = "/var/lib/ad2ctl/history.db"
	DefaultDialAttempts = 5
	DefaultDialInterval = 2 * time.Second
	DefaultWriteTimeout = 5 * time.Second

	configEnv      = "AD2CTL_CONFIG"
	envPrefix      = "AD2CTL"
	defaultCfgPath = "/etc/ad2ctl.toml"
)

type Config struct {
	PeerURL      string        `mapstructure:"peer_url"`
	RecordDir    string        `mapstructure:"record_dir"`
	Driver       string        `mapstructure:"driver"`
	WindowSize   int           `mapstructure:"window_size"`
	SamplePeriod time.Duration `mapstructure:"sample_period"`
	Amplitude    float64       `mapstructure:"amplitude"`
	Offset       float64       `mapstructure:"offset"`
	InputRange   float64       `mapstructure:"input_range"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	LogLevel     string        `mapstructure:"log_level"`
	History      bool          `mapstructure:"history"`
	HistoryDB    string        `mapstructure:"history_db"`
	Archive      bool          `mapstructure:"archive"`
	DialAttempts int           `mapstructure:"dial_attempts"`
	DialInterval time.Duration `mapstructure:"dial_interval"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Load reads configuration from defaults, the config file, the environment
// and the process command line, in increasing order of precedence.
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs is Load with an explicit argument list.
func LoadArgs(args []string) (*Config, error) {
	errFactory := errors.New()
	v := viper.New()

	setDefaults(v)

	// Define flags
	flags := pflag.NewFlagSet("ad2ctl", pflag.ContinueOnError)
	flags.String("config", "", "Path to the TOML configuration file")
	flags.String("peer-url", DefaultPeerURL, "Websocket URL of the control peer")
	flags.String("record-dir", DefaultRecordDir, "Directory session logs are written below")
	flags.String("driver", DefaultDriver, "Instrument backend (sim, dwf)")
	flags.Int("window-size", DefaultWindowSize, "Samples per acquisition window")
	flags.Duration("sample-period", DefaultSamplePeriod, "Interval between window polls")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.Bool("history", false, "Record session history in SQLite")
	flags.String("history-db", DefaultHistoryDB, "Path to the session history database")
	flags.Bool("archive", false, "Archive finished session logs as parquet")

	if err := flags.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	// Load configuration from file
	path, _ := flags.GetString("config")
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if err := readConfigFile(v, path); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Override config file values with command line flags
	var bindErr error
	flags.Visit(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, bindErr)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("peer_url", DefaultPeerURL)
	v.SetDefault("record_dir", DefaultRecordDir)
	v.SetDefault("driver", DefaultDriver)
	v.SetDefault("window_size", DefaultWindowSize)
	v.SetDefault("sample_period", DefaultSamplePeriod)
	v.SetDefault("amplitude", DefaultAmplitude)
	v.SetDefault("offset", DefaultOffset)
	v.SetDefault("input_range", DefaultInputRange)
	v.SetDefault("settle_delay", DefaultSettleDelay)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("history", false)
	v.SetDefault("history_db", DefaultHistoryDB)
	v.SetDefault("archive", false)
	v.SetDefault("dial_attempts", DefaultDialAttempts)
	v.SetDefault("dial_interval", DefaultDialInterval)
	v.SetDefault("write_timeout", DefaultWriteTimeout)
}

func readConfigFile(v *viper.Viper, path string) error {
	errFactory := errors.New()

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	if _, err := os.Stat(defaultCfgPath); err != nil {
		return nil
	}
	v.SetConfigFile(defaultCfgPath)
	if err := v.ReadInConfig(); err != nil {
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// Validate checks the configuration for values the acquisition core cannot
// run with.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.PeerURL == "" {
		return errFactory.New(errors.ErrMissingPeerURL)
	}
	if c.WindowSize <= 0 {
		return errFactory.WithData(errors.ErrInvalidWindowSize, c.WindowSize)
	}
	if c.SamplePeriod <= 0 {
		return errFactory.WithData(errors.ErrInvalidPeriod, c.SamplePeriod)
	}
	if c.Driver != DriverSim && c.Driver != DriverDWF {
		return errFactory.WithData(errors.ErrInvalidDriver, c.Driver)
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

// SampleRate returns the input sample rate in Hz implied by the window size
// and sample period.
func (c *Config) SampleRate() float64 {
	return float64(c.WindowSize) / c.SamplePeriod.Seconds()
}
