package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/auto-dns/cf-app-keepalive/internal/domain"
)

// LoggingConfig holds the logging-related configuration.
type LoggingConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig enables an additional rotated log file when Path is set.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// EtcdConfig holds etcd-related configuration.
type EtcdConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Prefix         string        `mapstructure:"prefix"`
}

type BoltConfig struct {
	Path string `mapstructure:"path"`
}

// StoreConfig selects the lock store backend.
type StoreConfig struct {
	Backend string     `mapstructure:"backend"`
	Etcd    EtcdConfig `mapstructure:"etcd"`
	Bolt    BoltConfig `mapstructure:"bolt"`
}

const (
	StoreBackendEtcd   = "etcd"
	StoreBackendBolt   = "bolt"
	StoreBackendMemory = "memory"
)

// LockConfig controls the idempotency lock and the activation log.
type LockConfig struct {
	// Mode is "daily" (one lock per UTC calendar day) or "rolling" (one lock per TTL window).
	Mode             string        `mapstructure:"mode"`
	TTL              time.Duration `mapstructure:"ttl"`
	ActivationLogCap int           `mapstructure:"activation_log_cap"`
	ClaimTTL         time.Duration `mapstructure:"claim_ttl"`
}

const (
	LockModeDaily   = "daily"
	LockModeRolling = "rolling"
)

// PollConfig is the backoff schedule used while waiting for convergence.
type PollConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Attempts     int           `mapstructure:"attempts"`
}

type ReconcileConfig struct {
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	StatePoll    PollConfig    `mapstructure:"state_poll"`
	InstancePoll PollConfig    `mapstructure:"instance_poll"`
}

// ScheduleConfig drives the fleet scheduler. The cron spec fires the trigger,
// the hours/minute_every window decides whether a tick reconciles.
type ScheduleConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Cron        string `mapstructure:"cron"`
	Hours       []int  `mapstructure:"hours"`
	MinuteEvery int    `mapstructure:"minute_every"`
	MaxParallel int    `mapstructure:"max_parallel"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// TargetConfig is one configured application. The json tags match the
// APPS environment variable format.
type TargetConfig struct {
	ID          string `mapstructure:"id" json:"APP_ID"`
	Name        string `mapstructure:"name" json:"APP_NAME"`
	APIURL      string `mapstructure:"api_url" json:"CF_API"`
	IdentityURL string `mapstructure:"identity_url" json:"UAA_URL"`
	Username    string `mapstructure:"username" json:"CF_USERNAME"`
	Password    string `mapstructure:"password" json:"CF_PASSWORD"`
	ResourceID  string `mapstructure:"resource_id" json:"APP_GUID"`
	OrgName     string `mapstructure:"org_name" json:"ORG_NAME"`
	SpaceName   string `mapstructure:"space_name" json:"SPACE_NAME"`
	AppName     string `mapstructure:"app_name" json:"-"`
	PingURL     string `mapstructure:"ping_url" json:"APP_PING_URL"`
}

// Config is the top-level configuration struct.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Lock      LockConfig      `mapstructure:"lock"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Server    ServerConfig    `mapstructure:"server"`
	Targets   []TargetConfig  `mapstructure:"targets"`
	// Apps carries the JSON array form of the target list.
	Apps string `mapstructure:"apps"`

	// Fleet is the validated target list, filled by Load.
	Fleet []domain.Target `mapstructure:"-"`
}

// InitConfig performs the initial configuration: setting defaults, specifying the config file, and reading it.
func InitConfig(cfgFile string) error {
	viper.SetDefault("log.level", "INFO")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file.max_size_mb", 10)
	viper.SetDefault("log.file.max_backups", 3)
	viper.SetDefault("log.file.max_age_days", 7)
	viper.SetDefault("store.backend", StoreBackendEtcd)
	viper.SetDefault("store.etcd.endpoints", []string{"localhost:2379"})
	viper.SetDefault("store.etcd.dial_timeout", 2*time.Second)
	viper.SetDefault("store.etcd.request_timeout", 5*time.Second)
	viper.SetDefault("store.etcd.prefix", "/cf-app-keepalive")
	viper.SetDefault("store.bolt.path", "keepalive.db")
	viper.SetDefault("lock.mode", LockModeDaily)
	viper.SetDefault("lock.ttl", 23*time.Hour)
	viper.SetDefault("lock.activation_log_cap", 7)
	viper.SetDefault("lock.claim_ttl", 15*time.Minute)
	viper.SetDefault("reconcile.http_timeout", 30*time.Second)
	viper.SetDefault("reconcile.state_poll.initial_delay", 2*time.Second)
	viper.SetDefault("reconcile.state_poll.multiplier", 1.6)
	viper.SetDefault("reconcile.state_poll.max_delay", 15*time.Second)
	viper.SetDefault("reconcile.state_poll.attempts", 8)
	viper.SetDefault("reconcile.instance_poll.initial_delay", 2*time.Second)
	viper.SetDefault("reconcile.instance_poll.multiplier", 1.6)
	viper.SetDefault("reconcile.instance_poll.max_delay", 15*time.Second)
	viper.SetDefault("reconcile.instance_poll.attempts", 10)
	viper.SetDefault("schedule.enabled", true)
	viper.SetDefault("schedule.cron", "* * * * *")
	viper.SetDefault("schedule.hours", []int{23, 0, 1})
	viper.SetDefault("schedule.minute_every", 2)
	viper.SetDefault("schedule.max_parallel", 0)
	viper.SetDefault("server.enabled", true)
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("apps", "")

	// Specify the config file details.
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config") // Looks for config.yaml
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	// Read the config file if available.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// If the file is not found, just continue with defaults and env vars.
	}

	// Enable automatic environment variable binding.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return nil
}

// Load unmarshals the configuration into the Config struct and validates it,
// including the full target list. Any violation rejects the whole configuration.
func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	fleet, err := config.ResolveTargets()
	if err != nil {
		return nil, fmt.Errorf("invalid target list: %w", err)
	}
	config.Fleet = fleet
	return &config, nil
}
