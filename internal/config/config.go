package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/peterhellberg/duration"
	"k8s.io/apimachinery/pkg/util/wait"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string

	DBDriver string // sqlite|postgres
	DBDSN    string

	BlobBasePath string // question images

	AuthHMACSecret string
	TokenTTL       time.Duration

	AdminEmail    string
	AdminPassHash string // bcrypt

	CORSOrigins []string
	RequestLog  bool

	SweepInterval   time.Duration
	PollInterval    time.Duration
	FetchRetries    int
	FetchBackoff    time.Duration
	ShutdownTimeout time.Duration
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	corsDef := "http://localhost:3000,http://localhost:9002"
	if mode == ModeOnline {
		corsDef = ""
	}
	return Config{
		Mode:            mode,
		HTTPAddr:        envOr("HTTP_ADDR", ":8080"),
		DBDriver:        envOr("DB_DRIVER", "sqlite"),
		DBDSN:           envOr("DB_DSN", ""),
		BlobBasePath:    envOr("BLOB_BASE_PATH", "./data"),
		AuthHMACSecret:  envOr("AUTH_HMAC_SECRET", "dev-secret-change-me"),
		TokenTTL:        envDuration("TOKEN_TTL", 8*time.Hour),
		AdminEmail:      envOr("ADMIN_EMAIL", "admin@nmt.local"),
		AdminPassHash:   os.Getenv("ADMIN_PASS_HASH"),
		CORSOrigins:     csvOr("CORS_ORIGINS", corsDef),
		RequestLog:      envBool("REQUEST_LOG", true),
		SweepInterval:   envDuration("SWEEP_INTERVAL", time.Second),
		PollInterval:    envDuration("POLL_INTERVAL", 5*time.Second),
		FetchRetries:    envInt("FETCH_RETRIES", 3),
		FetchBackoff:    envDuration("FETCH_BACKOFF", 200*time.Millisecond),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// Backoff is the retry policy for storage reads.
func (c Config) Backoff() wait.Backoff {
	steps := c.FetchRetries
	if steps < 1 {
		steps = 1
	}
	return wait.Backoff{Steps: steps, Duration: c.FetchBackoff, Factor: 2.0, Jitter: 0.1}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		glog.Warningf("config: %s=%q is not an integer, using %d", k, v, def)
		return def
	}
	return n
}

// envDuration accepts Go durations ("90s") and ISO 8601 ones ("PT90S").
func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if d, err := duration.Parse(v); err == nil {
		return d
	}
	glog.Warningf("config: %s=%q is not a duration, using %s", k, v, def)
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
