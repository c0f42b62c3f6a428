package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chatrelay/internal/logger"
)

// loadEnv reads .env outside production only (in containers config comes from
// the environment). Walks up to five directories looking for the file.
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		f, err := os.Open(path)
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		idx := strings.LastIndex(parent, "/")
		if idx <= 0 {
			return
		}
		dir = parent[:idx]
		if dir == "" {
			dir = "/"
		}
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// MongoConfig holds the document store connection settings. The GridFS
// bucket for attachments lives in the same database.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// RedisConfig holds Redis settings (sessions, push subscriptions, the
// cross-instance event channel).
type RedisConfig struct {
	URL string `yaml:"url"`
}

// Config holds the application settings.
// Priority: environment variables > YAML file > defaults.
type Config struct {
	ServerAddr   string        `yaml:"server_addr"`
	ReadTimeout  time.Duration `yaml:"-"`
	WriteTimeout time.Duration `yaml:"-"`
	IdleTimeout  time.Duration `yaml:"-"`

	Mongo MongoConfig `yaml:"-"`
	Redis RedisConfig `yaml:"-"`

	// PublicBaseURL is prepended to attachment file ids to build the URL a
	// client fetches them from (e.g. https://chat.example.com).
	PublicBaseURL string `yaml:"public_base_url"`

	// Uploads
	MaxUploadSize  int64 `yaml:"-"` // bytes, per request
	MaxAttachments int   `yaml:"max_attachments"`

	// DedupWindow bounds duplicate-message suppression: a retry with the
	// same sender, chat, content and file ids inside this window returns
	// the original message. Business-tunable, not a constant.
	DedupWindow time.Duration `yaml:"-"`

	// WebSocket
	MaxWSConnections int `yaml:"max_ws_connections"`
	WSSendBufferSize int `yaml:"ws_send_buffer_size"`

	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
	LogLevel           string `yaml:"log_level"`

	// PushSubscriber is the contact (mailto:) claim for VAPID web push.
	// Empty disables push.
	PushSubscriber string `yaml:"-"`
}

// yamlConfig is the intermediate parse target for the app YAML.
type yamlConfig struct {
	ServerAddr         string `yaml:"server_addr"`
	ReadTimeout        int    `yaml:"read_timeout"`
	WriteTimeout       int    `yaml:"write_timeout"`
	IdleTimeout        int    `yaml:"idle_timeout"`
	PublicBaseURL      string `yaml:"public_base_url"`
	MaxUploadSizeMB    int    `yaml:"max_upload_size_mb"`
	MaxAttachments     int    `yaml:"max_attachments"`
	DedupWindowMinutes int    `yaml:"dedup_window_minutes"`
	MaxWSConnections   int    `yaml:"max_ws_connections"`
	WSSendBufferSize   int    `yaml:"ws_send_buffer_size"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
	LogLevel           string `yaml:"log_level"`
	MongoURI           string `yaml:"mongo_uri"`
	MongoDatabase      string `yaml:"mongo_database"`
}

// Load builds the configuration. .env first (if present), then YAML, then
// environment variables (highest priority).
func Load() *Config {
	loadEnv()
	yc := yamlConfig{
		ServerAddr:         ":8080",
		ReadTimeout:        15,
		// Generous write timeout: attachment uploads stream through this
		// handler and must fail eventually rather than hang forever.
		WriteTimeout:       300,
		IdleTimeout:        60,
		PublicBaseURL:      "http://localhost:8080",
		MaxUploadSizeMB:    20,
		MaxAttachments:     5,
		DedupWindowMinutes: 5,
		MaxWSConnections:   10000,
		WSSendBufferSize:   256,
		CORSAllowedOrigins: "*",
		LogLevel:           "info",
		MongoURI:           "mongodb://localhost:27017",
		MongoDatabase:      "chatrelay",
	}

	paths := []string{os.Getenv("CONFIG_PATH"), "config/api.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: parse %s: %v (falling back to defaults)", path, err)
		} else {
			logger.Infof("config: loaded %s", path)
		}
		break
	}

	cfg := &Config{
		ServerAddr:   envStr("SERVER_ADDR", yc.ServerAddr),
		ReadTimeout:  time.Duration(envInt("READ_TIMEOUT", yc.ReadTimeout)) * time.Second,
		WriteTimeout: time.Duration(envInt("WRITE_TIMEOUT", yc.WriteTimeout)) * time.Second,
		IdleTimeout:  time.Duration(envInt("IDLE_TIMEOUT", yc.IdleTimeout)) * time.Second,
		Mongo: MongoConfig{
			URI:      envStr("MONGO_URI", yc.MongoURI),
			Database: envStr("MONGO_DATABASE", yc.MongoDatabase),
		},
		Redis:              RedisConfig{URL: envStr("REDIS_URL", "redis://localhost:6379")},
		PublicBaseURL:      strings.TrimSuffix(envStr("PUBLIC_BASE_URL", yc.PublicBaseURL), "/"),
		MaxUploadSize:      int64(envInt("MAX_UPLOAD_SIZE_MB", yc.MaxUploadSizeMB)) << 20,
		MaxAttachments:     envInt("MAX_ATTACHMENTS", yc.MaxAttachments),
		DedupWindow:        time.Duration(envInt("DEDUP_WINDOW_MINUTES", yc.DedupWindowMinutes)) * time.Minute,
		MaxWSConnections:   envInt("MAX_WS_CONNECTIONS", yc.MaxWSConnections),
		WSSendBufferSize:   envInt("WS_SEND_BUFFER_SIZE", yc.WSSendBufferSize),
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
		PushSubscriber:     envStr("PUSH_SUBSCRIBER", ""),
	}
	if cfg.MaxAttachments <= 0 {
		cfg.MaxAttachments = 5
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Minute
	}

	if os.Getenv("APP_ENV") == "production" {
		if cfg.CORSAllowedOrigins == "" || cfg.CORSAllowedOrigins == "*" {
			logger.Errorf("config: set CORS_ALLOWED_ORIGINS to an explicit origin list in production")
		}
		if strings.Contains(cfg.Mongo.URI, "localhost") {
			logger.Errorf("config: set MONGO_URI in production (development default in use)")
			os.Exit(1)
		}
	}

	return cfg
}

// envStr returns the environment value or fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the numeric environment value or fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
