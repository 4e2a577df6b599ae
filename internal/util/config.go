package util

import (
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

//nolint:gochecknoglobals // here its ok
var once sync.Once

func init() {
	once.Do(func() {
		if err := godotenv.Load(".env"); err != nil {
			log.Printf("Warning: could not load .env file: %v", err)
		}
	})
}

const (
	defaultServerAddr      = "localhost:3000"
	defaultWriteTimeout    = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultGracefulTimeout = 5 * time.Second

	defaultAPIBaseURL = "http://localhost:8000"
	defaultAPITimeout = 10 * time.Second

	defaultSessionBackend   = BackendBolt
	defaultSessionNamespace = "auth-storage"
	defaultBoltPath         = "authsession.db"

	defaultMirrorCookie  = "auth-token"
	defaultMirrorTTL     = 7 * 24 * time.Hour
	defaultLoginPath     = "/login"
	defaultLandingPath   = "/dashboard"
	defaultHydrationWait = 2 * time.Second
)

//nolint:gochecknoglobals // defaults for route lists
var (
	defaultProtectedRoutes = []string{"/dashboard", "/profile"}
	defaultAuthOnlyRoutes  = []string{"/login", "/register"}
)

const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type ServerConfig struct {
	ServerAddr      string
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	GracefulTimeout time.Duration
}

func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerAddr:      stringOrDefault("SERVER_ADDRESS", defaultServerAddr),
		WriteTimeout:    parseDurationOrDefault("WRITE_TIMEOUT", defaultWriteTimeout),
		ReadTimeout:     parseDurationOrDefault("READ_TIMEOUT", defaultReadTimeout),
		IdleTimeout:     parseDurationOrDefault("IDLE_TIMEOUT", defaultIdleTimeout),
		GracefulTimeout: parseDurationOrDefault("GRACEFUL_TIMEOUT", defaultGracefulTimeout),
	}
}

// ClientConfig describes the upstream API the pipeline talks to.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

func NewClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: strings.TrimRight(stringOrDefault("API_BASE_URL", defaultAPIBaseURL), "/"),
		Timeout: parseDurationOrDefault("API_TIMEOUT", defaultAPITimeout),
	}
}

type StorageConfig struct {
	Backend   string
	Namespace string
	BoltPath  string
}

func NewStorageConfig() *StorageConfig {
	backend := strings.ToLower(stringOrDefault("SESSION_BACKEND", defaultSessionBackend))
	switch backend {
	case BackendMemory, BackendBolt, BackendRedis, BackendPostgres:
	default:
		log.Printf("Invalid SESSION_BACKEND: %s, using default %s", backend, defaultSessionBackend)
		backend = defaultSessionBackend
	}

	return &StorageConfig{
		Backend:   backend,
		Namespace: stringOrDefault("SESSION_NAMESPACE", defaultSessionNamespace),
		BoltPath:  stringOrDefault("BOLT_PATH", defaultBoltPath),
	}
}

type GuardConfig struct {
	MirrorCookie    string
	MirrorTTL       time.Duration
	MirrorRedis     bool
	ProtectedRoutes []string
	AuthOnlyRoutes  []string
	LoginPath       string
	LandingPath     string
	HydrationWait   time.Duration
}

func NewGuardConfig() *GuardConfig {
	return &GuardConfig{
		MirrorCookie:    stringOrDefault("MIRROR_COOKIE", defaultMirrorCookie),
		MirrorTTL:       parseDurationOrDefault("MIRROR_TTL", defaultMirrorTTL),
		MirrorRedis:     parseBoolOrDefault("MIRROR_REDIS", false),
		ProtectedRoutes: parseListOrDefault("PROTECTED_ROUTES", defaultProtectedRoutes),
		AuthOnlyRoutes:  parseListOrDefault("AUTH_ONLY_ROUTES", defaultAuthOnlyRoutes),
		LoginPath:       stringOrDefault("LOGIN_PATH", defaultLoginPath),
		LandingPath:     stringOrDefault("LANDING_PATH", defaultLandingPath),
		HydrationWait:   parseDurationOrDefault("HYDRATION_WAIT", defaultHydrationWait),
	}
}

func GetWebhookURL() string {
	return os.Getenv("SESSION_WEBHOOK_URL")
}

func GetLogLevel() string {
	return os.Getenv("LOG_LEVEL")
}

func stringOrDefault(varName, def string) string {
	if v := strings.TrimSpace(os.Getenv(varName)); v != "" {
		return v
	}
	return def
}

func parseDurationOrDefault(varName string, def time.Duration) time.Duration {
	if v := os.Getenv(varName); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid duration in %s: %s, using default %s", varName, v, def)
	}
	return def
}

func parseBoolOrDefault(varName string, def bool) bool {
	if v := os.Getenv(varName); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("Invalid bool in %s: %s, using default %t", varName, v, def)
	}
	return def
}

func parseListOrDefault(varName string, def []string) []string {
	v := os.Getenv(varName)
	if v == "" {
		return append([]string(nil), def...)
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		log.Printf("Empty list in %s, using default %v", varName, def)
		return append([]string(nil), def...)
	}
	return out
}
