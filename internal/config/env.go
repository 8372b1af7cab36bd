package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom log forwarding configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// CacheConfig defines the artifact cache location and key derivation.
type CacheConfig struct {
	Dir        string
	PathPrefix string // stripped from reference paths when deriving keys
}

// ExtractorConfig points at the external card-detection service.
type ExtractorConfig struct {
	Endpoint    string
	Timeout     time.Duration
	BGRPayloads bool // service emits BGR-ordered pixels
}

// RedisConfig defines connectivity for the choice and status stores.
type RedisConfig struct {
	URL string
}

// AssemblyConfig controls document layout and optional S3 upload of results.
type AssemblyConfig struct {
	OutputDir    string
	GridRows     int
	GridCols     int
	PageDPI      int
	JPEGQuality  int
	FontPaths    []string
	UploadBucket string
	UploadPrefix string
}

// ServerConfig defines the HTTP surface.
type ServerConfig struct {
	Port      string
	UploadDir string
}

// Config is the top-level configuration.
type Config struct {
	Logging   LoggingConfig
	Axiom     AxiomConfig
	Cache     CacheConfig
	Extractor ExtractorConfig
	Redis     RedisConfig
	Assembly  AssemblyConfig
	Server    ServerConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/cardbatch.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_cardbatch",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Cache = CacheConfig{
		Dir:        getEnv("CACHE_DIR", "cache"),
		PathPrefix: getEnv("CACHE_PATH_PREFIX", "/file/"),
	}

	cfg.Extractor = ExtractorConfig{
		Endpoint:    getEnv("EXTRACTOR_ENDPOINT", "http://localhost:9100/detect"),
		Timeout:     parseDuration(getEnv("EXTRACTOR_TIMEOUT", "60s"), 60*time.Second),
		BGRPayloads: parseBool(getEnv("EXTRACTOR_BGR_PAYLOADS", "true")),
	}

	cfg.Redis = RedisConfig{
		URL: getEnv("REDIS_URL", "redis://localhost:6379"),
	}

	cfg.Assembly = AssemblyConfig{
		OutputDir:    getEnv("OUTPUT_DIR", "output"),
		GridRows:     parseInt(getEnv("GRID_ROWS", "4"), 4),
		GridCols:     parseInt(getEnv("GRID_COLS", "2"), 2),
		PageDPI:      parseInt(getEnv("PAGE_DPI", "144"), 144),
		JPEGQuality:  parseInt(getEnv("PAGE_JPEG_QUALITY", "85"), 85),
		FontPaths:    parseList(getEnv("CAPTION_FONT_PATHS", defaultFontPaths)),
		UploadBucket: getEnv("RESULT_S3_BUCKET", ""),
		UploadPrefix: getEnv("RESULT_S3_PREFIX", "cardbatch/results"),
	}

	cfg.Server = ServerConfig{
		Port:      getEnv("PORT", "8080"),
		UploadDir: getEnv("UPLOAD_DIR", "uploads"),
	}

	return cfg
}

// defaultFontPaths lists common caption font locations; the first readable
// TTF wins, otherwise a built-in bitmap face is used.
const defaultFontPaths = "/usr/share/fonts/truetype/wqy/wqy-microhei.ttc," +
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf," +
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf"

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func parseList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
