package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr        string
	IngestReadTimeout time.Duration
	IngestMaxPayload  int
	IngestBufferSize  int
	TickInterval      time.Duration

	SnapshotBackend string
	SnapshotPath    string
	SnapshotKey     string
	SnapshotName    string
	RedisAddr       string
	PostgresDSN     string

	SMTPHost    string
	SMTPPort    int
	SMTPTimeout time.Duration

	MailRetryAttempts  int
	MailRetryBaseDelay time.Duration
	MailRetryMaxDelay  time.Duration

	SamplerKind string
	SMIPath     string

	IdleThreshold          int
	LowEfficiencyThreshold int
	NotifyBaseInterval     time.Duration
	NotifyMaxInterval      time.Duration
	NotifyWindowStart      string
	NotifyWindowEnd        string

	StatusAddr string

	LeaseEnabled bool
	LeaseHost    string
	LeaseTTL     time.Duration
	LeasePrefix  string

	LogLevel  string
	LogFormat string
	LogFile   string
}

func Load() Config {
	return Config{
		ListenAddr:        envOrDefault("GPURESERVE_ADDR", "127.0.0.1:7630"),
		IngestReadTimeout: durationOrDefault("GPURESERVE_READ_TIMEOUT", 10*time.Second),
		IngestMaxPayload:  intOrDefault("GPURESERVE_MAX_PAYLOAD_BYTES", 64<<10),
		IngestBufferSize:  intOrDefault("GPURESERVE_INGEST_BUFFER", 1024),
		TickInterval:      durationOrDefault("GPURESERVE_TICK_INTERVAL", time.Second),

		SnapshotBackend: envOrDefault("GPURESERVE_SNAPSHOT_BACKEND", "file"),
		SnapshotPath:    envOrDefault("GPURESERVE_SNAPSHOT_PATH", "info.json"),
		SnapshotKey:     envOrDefault("GPURESERVE_SNAPSHOT_KEY", "gpureserve:snapshot"),
		SnapshotName:    envOrDefault("GPURESERVE_SNAPSHOT_NAME", "default"),
		RedisAddr:       envOrDefault("REDIS_ADDR", ""),
		PostgresDSN:     envOrDefault("POSTGRES_DSN", ""),

		SMTPHost:    envOrDefault("GPURESERVE_SMTP_HOST", "smtp.qq.com"),
		SMTPPort:    intOrDefault("GPURESERVE_SMTP_PORT", 465),
		SMTPTimeout: durationOrDefault("GPURESERVE_SMTP_TIMEOUT", 15*time.Second),

		MailRetryAttempts:  intOrDefault("GPURESERVE_MAIL_RETRY_ATTEMPTS", 5),
		MailRetryBaseDelay: durationOrDefault("GPURESERVE_MAIL_RETRY_BASE_DELAY", 500*time.Millisecond),
		MailRetryMaxDelay:  durationOrDefault("GPURESERVE_MAIL_RETRY_MAX_DELAY", 10*time.Second),

		SamplerKind: envOrDefault("GPURESERVE_SAMPLER", "smi"),
		SMIPath:     envOrDefault("GPURESERVE_NVIDIA_SMI", "nvidia-smi"),

		IdleThreshold:          intOrDefault("GPURESERVE_IDLE_THRESHOLD", 5),
		LowEfficiencyThreshold: intOrDefault("GPURESERVE_LOW_EFFICIENCY_THRESHOLD", 5),
		NotifyBaseInterval:     durationOrDefault("GPURESERVE_NOTIFY_BASE_INTERVAL", 10*time.Second),
		NotifyMaxInterval:      durationOrDefault("GPURESERVE_NOTIFY_MAX_INTERVAL", 60*time.Minute),
		NotifyWindowStart:      envOrDefault("GPURESERVE_NOTIFY_WINDOW_START", "08:00"),
		NotifyWindowEnd:        envOrDefault("GPURESERVE_NOTIFY_WINDOW_END", "21:30"),

		StatusAddr: envOrDefault("GPURESERVE_STATUS_ADDR", "127.0.0.1:7631"),

		LeaseEnabled: boolOrDefault("GPURESERVE_LEASE_ENABLED", false),
		LeaseHost:    envOrDefault("GPURESERVE_LEASE_HOST", hostname()),
		LeaseTTL:     durationOrDefault("GPURESERVE_LEASE_TTL", 30*time.Second),
		LeasePrefix:  envOrDefault("GPURESERVE_LEASE_PREFIX", "gpureserve:lease"),

		LogLevel:  envOrDefault("GPURESERVE_LOG_LEVEL", "info"),
		LogFormat: envOrDefault("GPURESERVE_LOG_FORMAT", "console"),
		LogFile:   envOrDefault("GPURESERVE_LOG_FILE", ""),
	}
}

// StatusURL is the base URL clients use to reach the status API.
func (c Config) StatusURL() string {
	addr := strings.TrimSpace(c.StatusAddr)
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || strings.TrimSpace(name) == "" {
		return "localhost"
	}
	return name
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func boolOrDefault(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if value == "" {
		return fallback
	}
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
