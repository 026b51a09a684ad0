package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "NOTEMATE"
	defaultHTTPAddress       = "127.0.0.1:8080"
	defaultDatabasePath      = "notemate.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultSessionID         = "#AF92-K921"
	defaultDocumentName      = "meeting_notes.md"
	defaultStorageKey        = "notemate_doc_content"
	defaultLocalUserID       = "user-vivien"
	defaultMinLatencyMS      = 100
	defaultMaxLatencyMS      = 1500
	defaultPacketLossRate    = 0.01
	defaultSimulatedLagMS    = 150
	defaultStartDelayMS      = 2000
	defaultIntervalMinMS     = 2000
	defaultIntervalMaxMS     = 8000
	defaultRecoveryDelayMS   = 1500
	defaultTypoProbability   = 0.25
	defaultWeightEdit        = 0.4
	defaultWeightCursor      = 0.2
	defaultWeightChat        = 0.3
	defaultWeightIdle        = 0.1
	defaultTypingTimeoutMS   = 2000
	defaultLogDebounceMS     = 4000
	defaultIdleAfterMS       = 60000
	defaultLogCapacity       = 200
	defaultChatCapacity      = 100
	defaultHistoryCapacity   = 50
	defaultExportPrefix      = "notemate-logs"
	defaultExportDirectory   = "."
	maxSimulatedLagMS        = 500
	maxPacketLossProbability = 1.0
)

// ActionWeights holds the relative likelihood of each autonomous actor action.
type ActionWeights struct {
	Edit   float64
	Cursor float64
	Chat   float64
	Idle   float64
}

// AppConfig captures runtime configuration for the collaborative session.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	LogFormat    string

	SessionID    string
	DocumentName string
	StorageKey   string
	LocalUserID  string

	MinLatency     time.Duration
	MaxLatency     time.Duration
	PacketLossRate float64
	SimulatedLagMS int

	StartDelay      time.Duration
	IntervalMin     time.Duration
	IntervalMax     time.Duration
	RecoveryDelay   time.Duration
	TypoProbability float64
	Weights         ActionWeights

	TypingTimeout time.Duration
	LogDebounce   time.Duration
	IdleAfter     time.Duration

	LogCapacity     int
	ChatCapacity    int
	HistoryCapacity int

	ExportPrefix    string
	ExportDirectory string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)

	configViper.SetDefault("session.id", defaultSessionID)
	configViper.SetDefault("document.name", defaultDocumentName)
	configViper.SetDefault("document.storage_key", defaultStorageKey)
	configViper.SetDefault("local.user_id", defaultLocalUserID)

	configViper.SetDefault("network.min_latency_ms", defaultMinLatencyMS)
	configViper.SetDefault("network.max_latency_ms", defaultMaxLatencyMS)
	configViper.SetDefault("network.packet_loss_rate", defaultPacketLossRate)
	configViper.SetDefault("network.simulated_lag_ms", defaultSimulatedLagMS)

	configViper.SetDefault("actors.start_delay_ms", defaultStartDelayMS)
	configViper.SetDefault("actors.interval_min_ms", defaultIntervalMinMS)
	configViper.SetDefault("actors.interval_max_ms", defaultIntervalMaxMS)
	configViper.SetDefault("actors.recovery_delay_ms", defaultRecoveryDelayMS)
	configViper.SetDefault("actors.typo_probability", defaultTypoProbability)
	configViper.SetDefault("actors.weights.edit", defaultWeightEdit)
	configViper.SetDefault("actors.weights.cursor", defaultWeightCursor)
	configViper.SetDefault("actors.weights.chat", defaultWeightChat)
	configViper.SetDefault("actors.weights.idle", defaultWeightIdle)

	configViper.SetDefault("typing.timeout_ms", defaultTypingTimeoutMS)
	configViper.SetDefault("typing.log_debounce_ms", defaultLogDebounceMS)
	configViper.SetDefault("presence.idle_after_ms", defaultIdleAfterMS)

	configViper.SetDefault("limits.logs", defaultLogCapacity)
	configViper.SetDefault("limits.chat", defaultChatCapacity)
	configViper.SetDefault("limits.history", defaultHistoryCapacity)

	configViper.SetDefault("export.prefix", defaultExportPrefix)
	configViper.SetDefault("export.dir", defaultExportDirectory)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),
		LogFormat:    configViper.GetString("log.format"),

		SessionID:    configViper.GetString("session.id"),
		DocumentName: configViper.GetString("document.name"),
		StorageKey:   configViper.GetString("document.storage_key"),
		LocalUserID:  strings.TrimSpace(configViper.GetString("local.user_id")),

		MinLatency:     milliseconds(configViper, "network.min_latency_ms"),
		MaxLatency:     milliseconds(configViper, "network.max_latency_ms"),
		PacketLossRate: configViper.GetFloat64("network.packet_loss_rate"),
		SimulatedLagMS: clampLag(configViper.GetInt("network.simulated_lag_ms")),

		StartDelay:      milliseconds(configViper, "actors.start_delay_ms"),
		IntervalMin:     milliseconds(configViper, "actors.interval_min_ms"),
		IntervalMax:     milliseconds(configViper, "actors.interval_max_ms"),
		RecoveryDelay:   milliseconds(configViper, "actors.recovery_delay_ms"),
		TypoProbability: configViper.GetFloat64("actors.typo_probability"),
		Weights: ActionWeights{
			Edit:   configViper.GetFloat64("actors.weights.edit"),
			Cursor: configViper.GetFloat64("actors.weights.cursor"),
			Chat:   configViper.GetFloat64("actors.weights.chat"),
			Idle:   configViper.GetFloat64("actors.weights.idle"),
		},

		TypingTimeout: milliseconds(configViper, "typing.timeout_ms"),
		LogDebounce:   milliseconds(configViper, "typing.log_debounce_ms"),
		IdleAfter:     milliseconds(configViper, "presence.idle_after_ms"),

		LogCapacity:     configViper.GetInt("limits.logs"),
		ChatCapacity:    configViper.GetInt("limits.chat"),
		HistoryCapacity: configViper.GetInt("limits.history"),

		ExportPrefix:    configViper.GetString("export.prefix"),
		ExportDirectory: configViper.GetString("export.dir"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.LocalUserID == "" {
		return fmt.Errorf("local.user_id is required")
	}
	if strings.TrimSpace(c.StorageKey) == "" {
		return fmt.Errorf("document.storage_key is required")
	}
	if c.MinLatency < 0 || c.MaxLatency < c.MinLatency {
		return fmt.Errorf("network latency range [%s, %s] is invalid", c.MinLatency, c.MaxLatency)
	}
	if c.PacketLossRate < 0 || c.PacketLossRate > maxPacketLossProbability {
		return fmt.Errorf("network.packet_loss_rate must be within [0, 1], got %v", c.PacketLossRate)
	}
	if c.TypoProbability < 0 || c.TypoProbability > 1 {
		return fmt.Errorf("actors.typo_probability must be within [0, 1], got %v", c.TypoProbability)
	}
	if c.IntervalMin <= 0 || c.IntervalMax < c.IntervalMin {
		return fmt.Errorf("actor interval range [%s, %s] is invalid", c.IntervalMin, c.IntervalMax)
	}
	weights := c.Weights
	if weights.Edit < 0 || weights.Cursor < 0 || weights.Chat < 0 || weights.Idle < 0 {
		return fmt.Errorf("actor weights must not be negative")
	}
	if weights.Edit+weights.Cursor+weights.Chat+weights.Idle <= 0 {
		return fmt.Errorf("actor weights must not all be zero")
	}
	if c.LogCapacity <= 0 || c.ChatCapacity <= 0 || c.HistoryCapacity <= 0 {
		return fmt.Errorf("limits.logs, limits.chat and limits.history must be positive")
	}
	if strings.TrimSpace(c.ExportPrefix) == "" {
		return fmt.Errorf("export.prefix is required")
	}
	return nil
}

func milliseconds(configViper *viper.Viper, key string) time.Duration {
	return time.Duration(configViper.GetInt64(key)) * time.Millisecond
}

func clampLag(lagMS int) int {
	if lagMS < 0 {
		return 0
	}
	if lagMS > maxSimulatedLagMS {
		return maxSimulatedLagMS
	}
	return lagMS
}
