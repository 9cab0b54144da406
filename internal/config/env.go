package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL  string
	SslCertPath  string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	AwsEndpoint  string
	BucketName   string
	AIAPIKey     string
	EmbedModel   string
	GenModel     string
	Port         string
	LogLevel     string
	LogFormat    string
	JWTSecret    string
	CORSOrigins  []string

	NatsURL   string
	RedisAddr string
	RedisPass string
	RedisDB   int

	IndexBackend string // pgvector | chromem | qdrant
	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantTLS    bool
	ChromemPath  string

	OCRBackend          string
	ChunkMaxTokens      int
	ChunkOverlapPercent int
	EmbedBatchSize      int
	EmbedRPS            float64
	OCRRPS              float64
	MaxRetries          int
	Workers             int
	KeyCardinalityCap   int
	ProcessTimeout      time.Duration

	SlicesConfig string
	Slices       []SliceConfig
}

// LoadConfig reads .env (when present) and the process environment, then the
// retrieval slice definitions.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		AwsEndpoint:  getEnv("AWS_ENDPOINT", ""),
		BucketName:   getEnv("BUCKET_NAME", "lumina-docs"),
		AIAPIKey:     getEnv("GEMINI_API_KEY", ""),
		EmbedModel:   getEnv("EMBED_MODEL", "text-embedding-004"),
		GenModel:     getEnv("GEN_MODEL", "gemini-1.5-flash"),
		Port:         getEnv("PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "http://localhost:5173")),

		NatsURL:   getEnv("NATS_URL", ""),
		RedisAddr: getEnv("REDIS_ADDR", ""),
		RedisPass: getEnv("REDIS_PASSWORD", ""),

		IndexBackend: strings.ToLower(getEnv("INDEX_BACKEND", "pgvector")),
		QdrantHost:   getEnv("QDRANT_HOST", "localhost"),
		QdrantAPIKey: getEnv("QDRANT_API_KEY", ""),
		ChromemPath:  getEnv("CHROMEM_PATH", ""),

		OCRBackend:   getEnv("OCR_BACKEND", "tesseract"),
		SlicesConfig: getEnv("SLICES_CONFIG", ""),
	}

	cfg.RedisDB = getEnvInt("REDIS_DB", 0, &errs)
	cfg.QdrantPort = getEnvInt("QDRANT_PORT", 6334, &errs)
	cfg.QdrantTLS = getEnvBool("QDRANT_TLS", false, &errs)
	cfg.ChunkMaxTokens = getEnvInt("CHUNK_MAX_TOKENS", 300, &errs)
	cfg.ChunkOverlapPercent = getEnvInt("CHUNK_OVERLAP_PERCENT", 15, &errs)
	cfg.EmbedBatchSize = getEnvInt("EMBED_BATCH_SIZE", 16, &errs)
	cfg.EmbedRPS = getEnvFloat("EMBED_RPS", 5, &errs)
	cfg.OCRRPS = getEnvFloat("OCR_RPS", 1, &errs)
	cfg.MaxRetries = getEnvInt("MAX_RETRIES", 3, &errs)
	cfg.Workers = getEnvInt("WORKERS", 4, &errs)
	cfg.KeyCardinalityCap = getEnvInt("KEY_CARDINALITY_CAP", 256, &errs)
	cfg.ProcessTimeout = getEnvDuration("PROCESS_TIMEOUT", 10*time.Minute, &errs)

	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	slices, err := LoadSlices(cfg.SlicesConfig)
	if err != nil {
		return nil, err
	}
	cfg.Slices = slices
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.IndexBackend {
	case "pgvector":
		if c.DatabaseURL == "" {
			return fmt.Errorf("INDEX_BACKEND=pgvector requires DATABASE_URL")
		}
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("INDEX_BACKEND %q: want pgvector, chromem or qdrant", c.IndexBackend)
	}
	if c.ChunkMaxTokens <= 0 {
		return fmt.Errorf("CHUNK_MAX_TOKENS must be positive")
	}
	if c.ChunkOverlapPercent < 0 || c.ChunkOverlapPercent > 100 {
		return fmt.Errorf("CHUNK_OVERLAP_PERCENT must be within 0..100")
	}
	return nil
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int, errs *[]error) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q is not an int", key, v))
		return def
	}
	return n
}

func getEnvFloat(key string, def float64, errs *[]error) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q is not a number", key, v))
		return def
	}
	return f
}

func getEnvBool(key string, def bool, errs *[]error) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q is not a bool", key, v))
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q is not a duration", key, v))
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
