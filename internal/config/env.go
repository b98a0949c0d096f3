package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr  string
	Environment string
	LogLevel    string
	LogFormat   string

	EmbeddingsProvider string
	MetadataProvider   string
	QAProvider         string

	OpenAIAPIKey string
	OpenAIModel  string
	GeminiAPIKey string
	GeminiModel  string
	EmbedModel   string
	EmbedDim     int

	VectorStoreBackend    string
	VectorStoreURL        string
	VectorStoreAPIKey     string
	VectorStoreCollection string
	DatabaseURL           string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	RateLimitRPM          int
	ChunkSize             int
	ChunkOverlap          int
	DefaultStrategy       string
	EnableMetadataDefault bool
	PipelineConcurrency   int
	UpsertBatchSize       int
	ProgressTTLSeconds    int
	HTTPTimeoutSeconds    int
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:  getEnv("LISTEN_ADDR", ":8000"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),

		EmbeddingsProvider: getEnv("EMBEDDINGS_PROVIDER", "gemini"),
		MetadataProvider:   getEnv("METADATA_PROVIDER", "gemini"),
		QAProvider:         getEnv("QA_PROVIDER", "openai"),

		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o"),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		EmbedModel:   getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		EmbedDim:     getEnvInt("EMBEDDING_DIMENSIONS", 768),

		VectorStoreBackend:    getEnv("VECTOR_STORE_BACKEND", "qdrant"),
		VectorStoreURL:        getEnv("VECTOR_STORE_URL", "http://localhost:6333"),
		VectorStoreAPIKey:     getEnv("VECTOR_STORE_API_KEY", ""),
		VectorStoreCollection: getEnv("VECTOR_STORE_COLLECTION", "rag_documents"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", ""),

		RateLimitRPM:          getEnvInt("RATE_LIMIT_RPM", 10),
		ChunkSize:             getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:          getEnvInt("CHUNK_OVERLAP", 200),
		DefaultStrategy:       getEnv("DEFAULT_CHUNKING_STRATEGY", "recursive"),
		EnableMetadataDefault: getEnvBool("ENABLE_METADATA_DEFAULT", true),
		PipelineConcurrency:   getEnvInt("PIPELINE_CONCURRENCY", 8),
		UpsertBatchSize:       getEnvInt("UPSERT_BATCH_SIZE", 100),
		ProgressTTLSeconds:    getEnvInt("PROGRESS_TTL_SECONDS", 300),
		HTTPTimeoutSeconds:    getEnvInt("HTTP_TIMEOUT_SECONDS", 30),
	}

	if cfg.ChunkOverlap >= cfg.ChunkSize {
		log.Printf("WARN: CHUNK_OVERLAP %d >= CHUNK_SIZE %d, using %d", cfg.ChunkOverlap, cfg.ChunkSize, cfg.ChunkSize/4)
		cfg.ChunkOverlap = cfg.ChunkSize / 4
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}
