// Package config loads pulsectl settings from flags, the environment and an
// optional TOML file, in that order of precedence, on top of built-in
// defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/pulsectl/internal/acquisition"
	"codeberg.org/mutker/pulsectl/internal/aggregate"
	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/hrv"
	"codeberg.org/mutker/pulsectl/internal/journal"
	"codeberg.org/mutker/pulsectl/internal/publish"
	"codeberg.org/mutker/pulsectl/internal/sensor"
	"codeberg.org/mutker/pulsectl/internal/session"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel       = LogLevelInfo
	DefaultEnvPrefix      = "PULSECTL"
	DefaultStatusInterval = 10 * time.Second

	configName = "pulsectl"
	configType = "toml"
)

type DeviceConfig struct {
	Kind             string        `mapstructure:"kind"`
	Address          string        `mapstructure:"address"`
	Port             int           `mapstructure:"port"`
	SamplingRate     float64       `mapstructure:"sampling_rate"`
	BoardDriver      string        `mapstructure:"board_driver"`
	BoardBufferSize  int           `mapstructure:"board_buffer_size"`
	OSCListenPort    int           `mapstructure:"osc_listen_port"`
	OSCControlPort   int           `mapstructure:"osc_control_port"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"`
	QueueSize        int           `mapstructure:"queue_size"`
}

type SessionConfig struct {
	AllowFallback bool `mapstructure:"allow_fallback"`
	// BufferCapacity applies to every sensor without an entry in
	// BufferCapacities, which is keyed by sensor name ("ppg", "eda", ...).
	BufferCapacity   int            `mapstructure:"buffer_capacity"`
	BufferCapacities map[string]int `mapstructure:"buffer_capacities"`
	TickInterval     time.Duration  `mapstructure:"tick_interval"`
	MaxFramesPerTick int            `mapstructure:"max_frames_per_tick"`
}

type HRVConfig struct {
	Window           time.Duration `mapstructure:"window"`
	LowCutoff        float64       `mapstructure:"low_cutoff"`
	HighCutoff       float64       `mapstructure:"high_cutoff"`
	FilterOrder      int           `mapstructure:"filter_order"`
	MinPeakDistance  time.Duration `mapstructure:"min_peak_distance"`
	PeakHeightFactor float64       `mapstructure:"peak_height_factor"`
	MinRR            float64       `mapstructure:"min_rr"`
	MaxRR            float64       `mapstructure:"max_rr"`
	MinIntervals     int           `mapstructure:"min_intervals"`
}

type AlertsConfig struct {
	HighStress float64 `mapstructure:"high_stress"`
	LowHRV     float64 `mapstructure:"low_hrv"`
}

type JournalConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	DBPath          string        `mapstructure:"db_path"`
	BatchSize       int           `mapstructure:"batch_size"`
	BatchTimeout    time.Duration `mapstructure:"batch_timeout"`
	BackupOnMigrate bool          `mapstructure:"backup_on_migrate"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	QoS      int    `mapstructure:"qos"`
}

type PublishConfig struct {
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Redis     RedisConfig   `mapstructure:"redis"`
	MQTT      MQTTConfig    `mapstructure:"mqtt"`
}

type MetricsConfig struct {
	// Listen is the address of the Prometheus endpoint. Empty disables it.
	Listen         string        `mapstructure:"listen"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

type Config struct {
	LogLevel      LogLevel      `mapstructure:"log_level"`
	PIDFile       string        `mapstructure:"pid_file"`
	Device        DeviceConfig  `mapstructure:"device"`
	Session       SessionConfig `mapstructure:"session"`
	HRV           HRVConfig     `mapstructure:"hrv"`
	MetricsWindow int           `mapstructure:"metrics_window"`
	Alerts        AlertsConfig  `mapstructure:"alerts"`
	Journal       JournalConfig `mapstructure:"journal"`
	Publish       PublishConfig `mapstructure:"publish"`
	Metrics       MetricsConfig `mapstructure:"metrics"`

	// File is the configuration file that was read, if any.
	File string `mapstructure:"-"`
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":      "log_level",
	"pid-file":       "pid_file",
	"backend":        "device.kind",
	"address":        "device.address",
	"port":           "device.port",
	"sampling-rate":  "device.sampling_rate",
	"board-driver":   "device.board_driver",
	"allow-fallback": "session.allow_fallback",
	"tick-interval":  "session.tick_interval",
	"journal":        "journal.enabled",
	"journal-db":     "journal.db_path",
	"metrics-listen": "metrics.listen",
}

// RegisterFlags adds the pulsectl flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := session.DefaultConfig()

	fs.String("config", "", "Path to the configuration file")
	fs.String("log-level", string(DefaultLogLevel), "Log level (debug, info, warning, error)")
	fs.String("pid-file", "", "Path to the PID file")
	fs.String("backend", string(d.Backend.Kind), "Acquisition backend (board, socket, osc, mock)")
	fs.String("address", "", "Device address; empty means discover or use the local host")
	fs.Int("port", d.Backend.Port, "Device port")
	fs.Float64("sampling-rate", d.Backend.SamplingRate, "Sampling rate in Hz")
	fs.String("board-driver", d.Backend.BoardDriver, "Board driver name")
	fs.Bool("allow-fallback", d.AllowFallback, "Fall back to the synthetic board and mock when the device is unreachable")
	fs.Duration("tick-interval", d.TickInterval, "Interval between metric snapshots")
	fs.Bool("journal", false, "Record session events to the journal database")
	fs.String("journal-db", journal.DefaultConfig().DBPath, "Path to the journal database")
	fs.String("metrics-listen", "", "Address to serve Prometheus metrics on, e.g. :9464")
}

// Load reads configuration from all sources and validates it.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if o.flags != nil {
		if err := bindFlags(v, o.flags); err != nil {
			return nil, err
		}
	}

	path := configPath(o)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath("/etc/pulsectl")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "pulsectl"))
		}
		v.AddConfigPath(".")
	}
	v.SetConfigType(configType)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func configPath(o *options) string {
	if o.configPath != "" {
		return o.configPath
	}
	if o.flags != nil {
		if f := o.flags.Lookup("config"); f != nil && f.Value.String() != "" {
			return f.Value.String()
		}
	}
	return os.Getenv(o.envPrefix + "_CONFIG")
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return errors.New().Wrap(errors.ErrBindFlags, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	s := session.DefaultConfig()
	b := s.Backend
	h := s.HRV
	j := journal.DefaultConfig()
	p := publish.DefaultConfig()

	v.SetDefault("log_level", string(DefaultLogLevel))
	v.SetDefault("pid_file", "")

	v.SetDefault("device.kind", string(b.Kind))
	v.SetDefault("device.address", b.Address)
	v.SetDefault("device.port", b.Port)
	v.SetDefault("device.sampling_rate", b.SamplingRate)
	v.SetDefault("device.board_driver", b.BoardDriver)
	v.SetDefault("device.board_buffer_size", b.BoardBufferSize)
	v.SetDefault("device.osc_listen_port", b.OSCListenPort)
	v.SetDefault("device.osc_control_port", b.OSCControlPort)
	v.SetDefault("device.connect_timeout", b.ConnectTimeout)
	v.SetDefault("device.stop_timeout", b.StopTimeout)
	v.SetDefault("device.discovery_timeout", b.DiscoveryTimeout)
	v.SetDefault("device.queue_size", b.QueueSize)

	v.SetDefault("session.allow_fallback", s.AllowFallback)
	v.SetDefault("session.buffer_capacity", s.BufferCapacity)
	v.SetDefault("session.tick_interval", s.TickInterval)
	v.SetDefault("session.max_frames_per_tick", s.MaxFramesPerTick)

	v.SetDefault("hrv.window", h.Window)
	v.SetDefault("hrv.low_cutoff", h.LowCutoff)
	v.SetDefault("hrv.high_cutoff", h.HighCutoff)
	v.SetDefault("hrv.filter_order", h.FilterOrder)
	v.SetDefault("hrv.min_peak_distance", h.MinPeakDistance)
	v.SetDefault("hrv.peak_height_factor", h.PeakHeightFactor)
	v.SetDefault("hrv.min_rr", h.MinRR)
	v.SetDefault("hrv.max_rr", h.MaxRR)
	v.SetDefault("hrv.min_intervals", h.MinIntervals)

	v.SetDefault("metrics_window", s.Aggregate.MetricsWindow)
	v.SetDefault("alerts.high_stress", s.Aggregate.Alerts.HighStress)
	v.SetDefault("alerts.low_hrv", s.Aggregate.Alerts.LowHRV)

	v.SetDefault("journal.enabled", j.Enabled)
	v.SetDefault("journal.db_path", j.DBPath)
	v.SetDefault("journal.batch_size", j.BatchSize)
	v.SetDefault("journal.batch_timeout", j.BatchTimeout)
	v.SetDefault("journal.backup_on_migrate", j.BackupOnMigrate)

	v.SetDefault("publish.queue_size", p.QueueSize)
	v.SetDefault("publish.timeout", p.Timeout)
	v.SetDefault("publish.redis.enabled", p.Redis.Enabled)
	v.SetDefault("publish.redis.addr", p.Redis.Addr)
	v.SetDefault("publish.redis.password", p.Redis.Password)
	v.SetDefault("publish.redis.db", p.Redis.DB)
	v.SetDefault("publish.redis.stream", p.Redis.Stream)
	v.SetDefault("publish.redis.max_len", p.Redis.MaxLen)
	v.SetDefault("publish.mqtt.enabled", p.MQTT.Enabled)
	v.SetDefault("publish.mqtt.broker", p.MQTT.Broker)
	v.SetDefault("publish.mqtt.client_id", p.MQTT.ClientID)
	v.SetDefault("publish.mqtt.topic", p.MQTT.Topic)
	v.SetDefault("publish.mqtt.username", p.MQTT.Username)
	v.SetDefault("publish.mqtt.password", p.MQTT.Password)
	v.SetDefault("publish.mqtt.qos", int(p.MQTT.QoS))

	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.status_interval", DefaultStatusInterval)
}

// Validate checks the log level and every derived component configuration.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !c.LogLevel.IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, struct {
			LogLevel string
		}{string(c.LogLevel)})
	}
	if c.MetricsWindow <= 0 {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "metrics_window must be positive")
	}
	if c.Metrics.StatusInterval < 0 {
		return errFactory.WithMessage(errors.ErrInvalidInterval, "metrics.status_interval must not be negative")
	}
	if c.Publish.MQTT.QoS < 0 || c.Publish.MQTT.QoS > 2 {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			QoS int
		}{c.Publish.MQTT.QoS})
	}

	sc, err := c.SessionConfig()
	if err != nil {
		return err
	}
	if err := sc.Validate(); err != nil {
		return err
	}
	if err := c.JournalConfig().Validate(); err != nil {
		return err
	}
	return c.PublishConfig().Validate()
}

// SessionConfig converts the loaded settings into a session configuration.
func (c *Config) SessionConfig() (session.Config, error) {
	kind, err := acquisition.ParseKind(c.Device.Kind)
	if err != nil {
		return session.Config{}, err
	}

	var capacities map[sensor.Type]int
	if len(c.Session.BufferCapacities) > 0 {
		capacities = make(map[sensor.Type]int, len(c.Session.BufferCapacities))
		for name, capacity := range c.Session.BufferCapacities {
			typ, ok := sensor.ParseType(name)
			if !ok {
				return session.Config{}, errors.New().WithData(errors.ErrInvalidConfig, struct {
					Sensor string
				}{name})
			}
			capacities[typ] = capacity
		}
	}

	return session.Config{
		Backend: acquisition.Config{
			Kind:             kind,
			Address:          c.Device.Address,
			Port:             c.Device.Port,
			SamplingRate:     c.Device.SamplingRate,
			BoardDriver:      c.Device.BoardDriver,
			BoardBufferSize:  c.Device.BoardBufferSize,
			OSCListenPort:    c.Device.OSCListenPort,
			OSCControlPort:   c.Device.OSCControlPort,
			ConnectTimeout:   c.Device.ConnectTimeout,
			StopTimeout:      c.Device.StopTimeout,
			DiscoveryTimeout: c.Device.DiscoveryTimeout,
			QueueSize:        c.Device.QueueSize,
		},
		AllowFallback:    c.Session.AllowFallback,
		BufferCapacity:   c.Session.BufferCapacity,
		BufferCapacities: capacities,
		TickInterval:     c.Session.TickInterval,
		MaxFramesPerTick: c.Session.MaxFramesPerTick,
		HRV: hrv.Config{
			Window:           c.HRV.Window,
			LowCutoff:        c.HRV.LowCutoff,
			HighCutoff:       c.HRV.HighCutoff,
			FilterOrder:      c.HRV.FilterOrder,
			MinPeakDistance:  c.HRV.MinPeakDistance,
			PeakHeightFactor: c.HRV.PeakHeightFactor,
			MinRR:            c.HRV.MinRR,
			MaxRR:            c.HRV.MaxRR,
			MinIntervals:     c.HRV.MinIntervals,
		},
		Aggregate: aggregate.Config{
			MetricsWindow: c.MetricsWindow,
			Alerts: aggregate.AlertConfig{
				HighStress: c.Alerts.HighStress,
				LowHRV:     c.Alerts.LowHRV,
			},
		},
	}, nil
}

func (c *Config) JournalConfig() journal.Config {
	return journal.Config{
		Enabled:         c.Journal.Enabled,
		DBPath:          c.Journal.DBPath,
		BatchSize:       c.Journal.BatchSize,
		BatchTimeout:    c.Journal.BatchTimeout,
		BackupOnMigrate: c.Journal.BackupOnMigrate,
	}
}

func (c *Config) PublishConfig() publish.Config {
	r, m := c.Publish.Redis, c.Publish.MQTT
	return publish.Config{
		Redis: publish.RedisConfig{
			Enabled:  r.Enabled,
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Stream:   r.Stream,
			MaxLen:   r.MaxLen,
		},
		MQTT: publish.MQTTConfig{
			Enabled:  m.Enabled,
			Broker:   m.Broker,
			ClientID: m.ClientID,
			Topic:    m.Topic,
			Username: m.Username,
			Password: m.Password,
			QoS:      byte(m.QoS),
		},
		QueueSize: c.Publish.QueueSize,
		Timeout:   c.Publish.Timeout,
	}
}
