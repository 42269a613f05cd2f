package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// ProducerType selects which component feeds order-created events to the dispatcher.
type ProducerType string

const (
	ProducerChangeFeed ProducerType = "changefeed" // Row-insert events from the change feed
	ProducerDirect     ProducerType = "direct"     // Called from the payment flow after commit
)

// OverflowPolicy selects what the pending queue does once a recipient hits capacity.
type OverflowPolicy string

const (
	OverflowUnbounded    OverflowPolicy = "unbounded"     // No capacity, never drops
	OverflowDropOldest   OverflowPolicy = "drop_oldest"   // Evict the oldest pending notification
	OverflowRejectNewest OverflowPolicy = "reject_newest" // Keep the queue, drop the new one with a warning
	OverflowSpill        OverflowPolicy = "spill"         // Move the oldest pending notification to the spill store
)

// ServerConfiguration controls the HTTP listener
type ServerConfiguration struct {
	BindAddress       string `toml:"bind_address"`
	Port              int    `toml:"port"`
	ShutdownTimeoutMS int    `toml:"shutdown_timeout_ms"`
}

// WebSocketConfiguration controls the push transport
type WebSocketConfiguration struct {
	Path                string   `toml:"path"`
	WriteTimeoutMS      int      `toml:"write_timeout_ms"`
	PingIntervalMS      int      `toml:"ping_interval_ms"`
	PongTimeoutMS       int      `toml:"pong_timeout_ms"`
	ReadLimitBytes      int64    `toml:"read_limit_bytes"`
	AllowedOrigins      []string `toml:"allowed_origins"`       // Empty = any origin
	AllowRecipientParam bool     `toml:"allow_recipient_param"` // Honor ?recipient= on connect
}

// NotifyConfiguration controls the notification dispatcher
type NotifyConfiguration struct {
	DefaultRecipient string         `toml:"default_recipient"`
	Producer         ProducerType   `toml:"producer"`
	QueueCapacity    int            `toml:"queue_capacity"` // Per recipient, 0 = unbounded
	OverflowPolicy   OverflowPolicy `toml:"overflow_policy"`
	DedupeWindow     int            `toml:"dedupe_window"` // Recently seen order ids, 0 disables
}

// ChangeFeedConfiguration controls where row-insert events come from
type ChangeFeedConfiguration struct {
	Source          string   `toml:"source"` // "local", "nats" or "kafka"
	Format          string   `toml:"format"` // "realtime" or "debezium"
	Schema          string   `toml:"schema"`
	Table           string   `toml:"table"`
	Event           string   `toml:"event"`
	TopicPrefix     string   `toml:"topic_prefix"`
	NatsURL         string   `toml:"nats_url"`
	Brokers         []string `toml:"brokers"`
	GroupID         string   `toml:"group_id"`
	LocalBufferSize int      `toml:"local_buffer_size"`
}

// StoreConfiguration controls the order database
type StoreConfiguration struct {
	Driver string `toml:"driver"` // "sqlite3" or "mysql"
	DSN    string `toml:"dsn"`
}

// SpillConfiguration controls the overflow store used by the spill policy
type SpillConfiguration struct {
	Dir      string `toml:"dir"`      // Relative paths resolve under data_dir
	Compress bool   `toml:"compress"` // zstd-compress spilled records
}

// AdminConfiguration controls the admin API
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Secret  string `toml:"secret"` // Empty disables authentication
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID uint64 `toml:"instance_id"`
	DataDir    string `toml:"data_dir"`

	Server     ServerConfiguration     `toml:"server"`
	WebSocket  WebSocketConfiguration  `toml:"websocket"`
	Notify     NotifyConfiguration     `toml:"notify"`
	ChangeFeed ChangeFeedConfiguration `toml:"change_feed"`
	Store      StoreConfiguration      `toml:"store"`
	Spill      SpillConfiguration      `toml:"spill"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	InstanceIDFlag = flag.Uint64("instance-id", 0, "Instance ID (overrides config, 0=auto)")
	PortFlag       = flag.Int("port", 0, "HTTP port (overrides config)")
)

// DefaultRecipient is the administrator account that receives order notifications
// when no recipient is configured.
const DefaultRecipient = "2c48bc11-fbfa-418f-8e6f-dbe03fba1e95"

// Default configuration
var Config = Default()

// Default returns a fresh copy of the default configuration.
func Default() *Configuration {
	return &Configuration{
		InstanceID: 0, // Auto-generate
		DataDir:    "./ordernotify-data",

		Server: ServerConfiguration{
			BindAddress:       "0.0.0.0",
			Port:              3000,
			ShutdownTimeoutMS: 10000,
		},

		WebSocket: WebSocketConfiguration{
			Path:           "/ws",
			WriteTimeoutMS: 5000,
			PingIntervalMS: 25000,
			PongTimeoutMS:  60000,
			ReadLimitBytes: 4096,
			AllowedOrigins: []string{},
		},

		Notify: NotifyConfiguration{
			DefaultRecipient: DefaultRecipient,
			Producer:         ProducerChangeFeed,
			QueueCapacity:    0,
			OverflowPolicy:   OverflowUnbounded,
			DedupeWindow:     1024,
		},

		ChangeFeed: ChangeFeedConfiguration{
			Source:          "local",
			Format:          "realtime",
			Schema:          "public",
			Table:           "orders",
			Event:           "INSERT",
			TopicPrefix:     "cdc",
			GroupID:         "ordernotify",
			LocalBufferSize: 256,
		},

		Store: StoreConfiguration{
			Driver: "sqlite3",
			DSN:    "", // Defaults to {data_dir}/shop.db
		},

		Spill: SpillConfiguration{
			Dir: "spill",
		},

		Admin: AdminConfiguration{
			Enabled: true,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *InstanceIDFlag != 0 {
		Config.InstanceID = *InstanceIDFlag
	}
	if *PortFlag != 0 {
		Config.Server.Port = *PortFlag
	}

	if Config.InstanceID == 0 {
		var err error
		Config.InstanceID, err = generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		log.Info().Uint64("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateInstanceID creates a stable instance ID based on the machine ID
func generateInstanceID() (uint64, error) {
	id, err := machineid.ProtectedID("ordernotify")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Server.Port < 1 || Config.Server.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", Config.Server.Port)
	}

	if Config.Server.ShutdownTimeoutMS < 0 {
		return fmt.Errorf("shutdown timeout must be >= 0")
	}

	if Config.WebSocket.Path == "" || Config.WebSocket.Path[0] != '/' {
		return fmt.Errorf("websocket path must start with '/': %q", Config.WebSocket.Path)
	}

	if Config.WebSocket.WriteTimeoutMS < 1 {
		return fmt.Errorf("websocket write timeout must be >= 1ms")
	}

	if Config.WebSocket.PingIntervalMS < 1 {
		return fmt.Errorf("websocket ping interval must be >= 1ms")
	}

	// Pong must be able to arrive after at least one ping
	if Config.WebSocket.PongTimeoutMS <= Config.WebSocket.PingIntervalMS {
		return fmt.Errorf("websocket pong timeout (%dms) must exceed ping interval (%dms)",
			Config.WebSocket.PongTimeoutMS, Config.WebSocket.PingIntervalMS)
	}

	if Config.Notify.DefaultRecipient == "" {
		return fmt.Errorf("notify default recipient is required")
	}

	switch Config.Notify.Producer {
	case ProducerChangeFeed, ProducerDirect:
	default:
		return fmt.Errorf("invalid notify producer: %s", Config.Notify.Producer)
	}

	switch Config.Notify.OverflowPolicy {
	case OverflowUnbounded:
	case OverflowDropOldest, OverflowRejectNewest, OverflowSpill:
		if Config.Notify.QueueCapacity < 1 {
			return fmt.Errorf("overflow policy %s requires queue_capacity >= 1", Config.Notify.OverflowPolicy)
		}
	default:
		return fmt.Errorf("invalid overflow policy: %s", Config.Notify.OverflowPolicy)
	}

	if Config.Notify.QueueCapacity < 0 {
		return fmt.Errorf("queue capacity must be >= 0")
	}

	if Config.Notify.DedupeWindow < 0 {
		return fmt.Errorf("dedupe window must be >= 0")
	}

	if Config.Notify.Producer == ProducerChangeFeed {
		if err := validateChangeFeed(); err != nil {
			return err
		}
	}

	switch Config.Store.Driver {
	case "sqlite3":
	case "mysql":
		if Config.Store.DSN == "" {
			return fmt.Errorf("mysql store requires a dsn")
		}
	default:
		return fmt.Errorf("invalid store driver: %s", Config.Store.Driver)
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	return nil
}

func validateChangeFeed() error {
	feed := Config.ChangeFeed

	if feed.Table == "" {
		return fmt.Errorf("change feed table is required")
	}

	if feed.Event == "" {
		return fmt.Errorf("change feed event is required")
	}

	switch feed.Format {
	case "realtime", "debezium":
	default:
		return fmt.Errorf("invalid change feed format: %s", feed.Format)
	}

	switch feed.Source {
	case "local":
		if feed.LocalBufferSize < 1 {
			return fmt.Errorf("local change feed buffer size must be >= 1")
		}
	case "nats":
		if feed.NatsURL == "" {
			return fmt.Errorf("nats change feed requires nats_url")
		}
	case "kafka":
		if len(feed.Brokers) == 0 {
			return fmt.Errorf("kafka change feed requires at least one broker")
		}
		if feed.GroupID == "" {
			return fmt.Errorf("kafka change feed requires group_id")
		}
	default:
		return fmt.Errorf("invalid change feed source: %s", feed.Source)
	}

	return nil
}

// GetSpillDir returns the absolute or data_dir-relative spill directory
func GetSpillDir() string {
	if filepath.IsAbs(Config.Spill.Dir) {
		return Config.Spill.Dir
	}
	return filepath.Join(Config.DataDir, Config.Spill.Dir)
}

// GetStoreDSN returns the configured DSN, defaulting to a SQLite file under data_dir
func GetStoreDSN() string {
	if Config.Store.DSN != "" {
		return Config.Store.DSN
	}
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.Join(Config.DataDir, "shop.db"))
}

// IsAdminAuthEnabled reports whether admin endpoints require a shared secret
func IsAdminAuthEnabled() bool {
	return Config.Admin.Secret != ""
}
