package config

import "time"

type AppConfig struct {
	DBDriver   string         `yaml:"db_driver" env:"RESETWATCH_DB_DRIVER" env-default:"sqlite"`
	DBURL      string         `yaml:"db_url" env:"RESETWATCH_DB_URL" env-default:"data/resetwatch.db"`
	ListenAddr string         `yaml:"listen_addr" env:"RESETWATCH_LISTEN_ADDR" env-default:"127.0.0.1:8080"`
	AppEnv     string         `yaml:"app_env" env:"RESETWATCH_APP_ENV"`
	Log        LogConfig      `yaml:"log"`
	Upstream   UpstreamConfig `yaml:"upstream"`
	Tracker    TrackerConfig  `yaml:"tracker"`
	API        APIConfig      `yaml:"api"`
	Notify     NotifyConfig   `yaml:"notify"`
	Backup     BackupConfig   `yaml:"backup"`
}

func (c *AppConfig) IsPostgres() bool {
	if c == nil {
		return false
	}
	return c.DBDriver == "postgres"
}

type LogConfig struct {
	Level  string `yaml:"level" env:"RESETWATCH_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"RESETWATCH_LOG_FORMAT" env-default:"console"`
}

type UpstreamConfig struct {
	URL               string        `yaml:"url" env:"RESETWATCH_UPSTREAM_URL" env-default:"https://api.politicsandwar.com/graphql"`
	APIKey            string        `yaml:"api_key" env:"PNW_API_KEY"`
	Timeout           time.Duration `yaml:"timeout" env:"RESETWATCH_UPSTREAM_TIMEOUT" env-default:"30s"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"RESETWATCH_UPSTREAM_RPS" env-default:"2"`
	Burst             int           `yaml:"burst" env:"RESETWATCH_UPSTREAM_BURST" env-default:"2"`
	UserAgent         string        `yaml:"user_agent" env:"RESETWATCH_UPSTREAM_USER_AGENT" env-default:"resetwatch/1.0"`
	PageSize          int           `yaml:"page_size" env:"RESETWATCH_UPSTREAM_PAGE_SIZE" env-default:"100"`
}

type TrackerConfig struct {
	AutoStart        bool          `yaml:"auto_start" env:"RESETWATCH_TRACKER_AUTO_START" env-default:"true"`
	SkipInitialIndex bool          `yaml:"skip_initial_index" env:"RESETWATCH_TRACKER_SKIP_INITIAL_INDEX" env-default:"false"`
	TickInterval     time.Duration `yaml:"tick_interval" env:"RESETWATCH_TRACKER_TICK" env-default:"60s"`
	DiscoverSchedule string        `yaml:"discover_schedule" env:"RESETWATCH_TRACKER_DISCOVER_SCHEDULE" env-default:"@every 1h"`
	CycleSchedule    string        `yaml:"cycle_schedule" env:"RESETWATCH_TRACKER_CYCLE_SCHEDULE" env-default:"@every 2h"`
	CleanupSchedule  string        `yaml:"cleanup_schedule" env:"RESETWATCH_TRACKER_CLEANUP_SCHEDULE" env-default:"@every 24h"`
	BatchSize        int           `yaml:"batch_size" env:"RESETWATCH_TRACKER_BATCH_SIZE" env-default:"100"`
	NewEntityDelay   time.Duration `yaml:"new_entity_delay" env:"RESETWATCH_TRACKER_NEW_ENTITY_DELAY" env-default:"1h"`
	RecheckDelay     time.Duration `yaml:"recheck_delay" env:"RESETWATCH_TRACKER_RECHECK_DELAY" env-default:"6h"`
	PageDelay        time.Duration `yaml:"page_delay" env:"RESETWATCH_TRACKER_PAGE_DELAY" env-default:"1s"`
	EntityDelay      time.Duration `yaml:"entity_delay" env:"RESETWATCH_TRACKER_ENTITY_DELAY" env-default:"500ms"`
	RecentWindow     time.Duration `yaml:"recent_window" env:"RESETWATCH_TRACKER_RECENT_WINDOW" env-default:"24h"`
}

type APIConfig struct {
	Keys           []APIKeyConfig `yaml:"keys"`
	ReportCacheTTL time.Duration  `yaml:"report_cache_ttl" env:"RESETWATCH_API_REPORT_CACHE_TTL" env-default:"1m"`
	ReadTimeout    time.Duration  `yaml:"read_timeout" env:"RESETWATCH_API_READ_TIMEOUT" env-default:"15s"`
	// AllowLocalhost grants loopback clients the operator role when no key is sent.
	AllowLocalhost bool           `yaml:"allow_localhost" env:"RESETWATCH_API_ALLOW_LOCALHOST" env-default:"true"`
}

// APIKeyConfig holds a bcrypt hash, never the plain key.
type APIKeyConfig struct {
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
	Role string `yaml:"role"`
}

type NotifyConfig struct {
	URLs    []string      `yaml:"urls" env:"RESETWATCH_NOTIFY_URLS" env-separator:","`
	Timeout time.Duration `yaml:"timeout" env:"RESETWATCH_NOTIFY_TIMEOUT" env-default:"10s"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker" env:"RESETWATCH_MQTT_BROKER"`
	Topic    string `yaml:"topic" env:"RESETWATCH_MQTT_TOPIC" env-default:"resetwatch/resets"`
	ClientID string `yaml:"client_id" env:"RESETWATCH_MQTT_CLIENT_ID" env-default:"resetwatch"`
	Username string `yaml:"username" env:"RESETWATCH_MQTT_USERNAME"`
	Password string `yaml:"password" env:"RESETWATCH_MQTT_PASSWORD"`
}

// BackupConfig drives SQLite snapshots. A zero interval disables the
// scheduler; the backup command still works.
type BackupConfig struct {
	Dir      string        `yaml:"dir" env:"RESETWATCH_BACKUP_DIR" env-default:"data/backups"`
	Interval time.Duration `yaml:"interval" env:"RESETWATCH_BACKUP_INTERVAL" env-default:"0s"`
	Keep     int           `yaml:"keep" env:"RESETWATCH_BACKUP_KEEP" env-default:"7"`
}

const minTickInterval = time.Second

func (c *TrackerConfig) EffectiveTick() time.Duration {
	if c == nil || c.TickInterval < minTickInterval {
		return time.Minute
	}
	return c.TickInterval
}
