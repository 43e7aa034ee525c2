package config

// Config is the on-disk configuration. JSON and YAML are both accepted; YAML
// is coerced to JSON and decoded strictly (unknown keys are rejected).
type Config struct {
	// Events is the allow-list of watched event types (e.g. "restart", "exit").
	Events []string `json:"events"`

	// Subject and MultipleSubject are text/template strings rendered against
	// the event data (see event.Enriched.Data).
	Subject         string `json:"subject"`
	MultipleSubject string `json:"multiple_subject"`

	// Template is a path to the body template (relative paths resolve against
	// the config file directory). TemplateInline wins when both are set.
	Template       string `json:"template,omitempty"`
	TemplateInline string `json:"template_inline,omitempty"`

	// Polling is the debounce window; MaxPollingTime caps a burst (0 disables
	// the cap). Both accept integer milliseconds or Go duration strings.
	Polling        Millis `json:"polling"`
	MaxPollingTime Millis `json:"max_polling_time"`

	AttachLogs bool `json:"attach_logs"`

	// Hostname overrides os.Hostname() in rendered events.
	Hostname string `json:"hostname,omitempty"`
	// DateFormat is a Go time layout for the human readable event date.
	DateFormat string `json:"date_format,omitempty"`

	SMTP      SMTPConfig      `json:"smtp"`
	Mail      MailConfig      `json:"mail"`
	Transport TransportConfig `json:"transport,omitempty"`
	Source    SourceConfig    `json:"source"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
}

// SMTPConfig configures the smtp transport.
//
// Secrets can be supplied through PROCNOTIFY_SMTP_USERNAME and
// PROCNOTIFY_SMTP_PASSWORD instead of the file.
type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// Secure enables implicit TLS (usually port 465).
	Secure bool `json:"secure,omitempty"`
	// TLSPolicy is one of "opportunistic" (default), "mandatory", "none".
	TLSPolicy  string `json:"tls_policy,omitempty"`
	SkipVerify bool   `json:"skip_verify,omitempty"`
	// Timeout is a Go duration string (default "15s").
	Timeout string `json:"timeout,omitempty"`
}

// MailConfig holds envelope addresses. Client and Tech are comma-separated
// recipient lists; an empty list disables that audience.
type MailConfig struct {
	From   string `json:"from"`
	Client string `json:"client,omitempty"`
	Tech   string `json:"tech,omitempty"`
}

// TransportConfig selects the mail transport.
//
// Driver values:
//   - "smtp" (default): uses the smtp block
//   - "ses": AWS SES v2 (credentials from the default AWS chain)
//   - "resend": Resend API (api_key or PROCNOTIFY_RESEND_API_KEY)
type TransportConfig struct {
	Driver string `json:"driver,omitempty"`
	Region string `json:"region,omitempty"`
	APIKey string `json:"api_key,omitempty"`
}

// SourceConfig selects where process events come from.
//
// Driver values: "systemd" (default), "kafka", "jsonl".
type SourceConfig struct {
	Driver string `json:"driver,omitempty"`
	// ExitOnTerminate flushes pending events and exits when the source ends.
	ExitOnTerminate bool                 `json:"exit_on_terminate,omitempty"`
	Systemd         *SystemdSourceConfig `json:"systemd,omitempty"`
	Kafka           *KafkaSourceConfig   `json:"kafka,omitempty"`
	JSONL           *JSONLSourceConfig   `json:"jsonl,omitempty"`
}

type SystemdSourceConfig struct {
	Units []UnitConfig `json:"units"`
	// PollInterval is a Go duration string (default "5s").
	PollInterval string `json:"poll_interval,omitempty"`
}

// UnitConfig names a watched systemd unit (without the ".service" suffix)
// and optional log files to attach.
type UnitConfig struct {
	Name   string `json:"name"`
	OutLog string `json:"out_log,omitempty"`
	ErrLog string `json:"err_log,omitempty"`
}

type KafkaSourceConfig struct {
	// Brokers is a comma-separated list.
	Brokers string `json:"brokers"`
	Topic   string `json:"topic"`
	GroupID string `json:"group_id"`
}

type JSONLSourceConfig struct {
	// Path is a file or FIFO; "-" or empty reads stdin.
	Path string `json:"path,omitempty"`
}

// NotifierConfig controls the async delivery pipeline.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - rate_per_sec: 2
//   - send_timeout: "30s"
type NotifierConfig struct {
	Workers     int    `json:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// StorageConfig controls the optional delivery audit log.
//
// Example:
//
//	storage: { driver: sqlite, path: ./procnotify.db, retention: 720h }
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	// DSN is used by the postgres driver (or PROCNOTIFY_POSTGRES_DSN).
	DSN string `json:"dsn,omitempty"`
	// Retention is a Go duration string; "0s"/empty keeps records forever.
	Retention string `json:"retention,omitempty"`
	// PruneSchedule is a cron spec (default "@daily").
	PruneSchedule string `json:"prune_schedule,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // sqlite only
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Mail    LoggingMail `json:"mail"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingMail struct {
	Enabled       bool   `json:"enabled"`
	MinLevel      string `json:"min_level,omitempty"`
	RatePerMinute int    `json:"rate_per_minute,omitempty"`
}
