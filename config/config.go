package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
)

// Metric names mirror retrieval.MetricDot and retrieval.MetricCosine; retrieval
// depends on this package through embeddings, so they are restated here.
const (
	MetricDot    = "dot"
	MetricCosine = "cosine"
)

const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendNeo4j    = "neo4j"
	BackendSQLite   = "sqlite"
)

type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
	// Tokenizer is only used by the local provider: "words" or a tiktoken encoding name.
	Tokenizer string `yaml:"tokenizer"`
}

// LoopConfig bounds the retrieve/judge/refine loop.
type LoopConfig struct {
	MaxRounds        int           `yaml:"max_rounds"`
	TopK             int           `yaml:"top_k"`
	BlockLength      int           `yaml:"block_length"`
	Metric           string        `yaml:"metric"`
	JudgeTimeout     time.Duration `yaml:"judge_timeout"`
	DecomposeTimeout time.Duration `yaml:"decompose_timeout"`
}

type CacheConfig struct {
	Backend string `yaml:"backend"`
}

type TraceConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
}

type Config struct {
	LLM        LLMConfig       `yaml:"llm"`
	Embeddings EmbeddingConfig `yaml:"embeddings"`
	Loop       LoopConfig      `yaml:"loop"`
	Cache      CacheConfig     `yaml:"cache"`
	Trace      TraceConfig     `yaml:"trace"`

	OllamaHost    string `yaml:"ollama_host"`
	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	PostgresDSN string `yaml:"postgres_dsn"`
	Neo4jURI    string `yaml:"neo4j_uri"`
	Neo4jUser   string `yaml:"neo4j_user"`
	Neo4jPass   string `yaml:"-"`

	DataDir    string `yaml:"data_dir"`
	ListenAddr string `yaml:"listen_addr"`
}

func Load() Config {
	return Config{
		LLM: LLMConfig{
			Provider: getEnv("LLM_PROVIDER", ProviderOllama),
			Model:    getEnv("LLM_MODEL", "llama2:13b"),
		},
		Embeddings: EmbeddingConfig{
			Provider:  getEnv("EMBEDDINGS_PROVIDER", ProviderLocal),
			Model:     getEnv("EMBEDDINGS_MODEL", "nomic-embed-text"),
			Dimension: getEnvInt("EMBEDDINGS_DIMENSION", 768),
			BatchSize: getEnvInt("EMBEDDINGS_BATCH_SIZE", 8),
			Tokenizer: getEnv("EMBEDDINGS_TOKENIZER", "words"),
		},
		Loop: LoopConfig{
			MaxRounds:        getEnvInt("LOOP_MAX_ROUNDS", 3),
			TopK:             getEnvInt("LOOP_TOP_K", 5),
			BlockLength:      getEnvInt("LOOP_BLOCK_LENGTH", 64),
			Metric:           getEnv("LOOP_METRIC", MetricDot),
			JudgeTimeout:     getEnvDuration("LOOP_JUDGE_TIMEOUT", 200*time.Second),
			DecomposeTimeout: getEnvDuration("LOOP_DECOMPOSE_TIMEOUT", 80*time.Second),
		},
		Cache: CacheConfig{
			Backend: getEnv("CACHE_BACKEND", BackendNone),
		},
		Trace: TraceConfig{
			Backend:    getEnv("TRACE_BACKEND", BackendNone),
			SQLitePath: getEnv("TRACE_SQLITE_PATH", "traces.db"),
		},
		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		PostgresDSN:   getEnv("POSTGRES_DSN", "postgres://localhost:5432/iterative-rag?sslmode=disable"),
		Neo4jURI:      getEnv("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUser:     getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPass:     getEnv("NEO4J_PASSWORD", "password"),
		DataDir:       getEnv("DATA_DIR", "./data"),
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
	}
}

// LoadFile returns the environment configuration overlaid with the YAML file at path.
// Fields absent from the file keep their environment or default values.
func LoadFile(path string) (Config, error) {
	cfg := Load()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLM.Provider)
	}
	switch c.Embeddings.Provider {
	case ProviderOllama, ProviderOpenAI, ProviderLocal:
	default:
		return fmt.Errorf("unknown embedding provider: %s", c.Embeddings.Provider)
	}
	switch c.Loop.Metric {
	case MetricDot, MetricCosine:
	default:
		return fmt.Errorf("unknown similarity metric: %s", c.Loop.Metric)
	}
	if c.Loop.MaxRounds <= 0 {
		return fmt.Errorf("loop max rounds must be positive")
	}
	if c.Loop.TopK <= 0 {
		return fmt.Errorf("loop top k must be positive")
	}
	if c.Loop.BlockLength <= 0 {
		return fmt.Errorf("loop block length must be positive")
	}
	switch c.Cache.Backend {
	case BackendNone, BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("unknown cache backend: %s", c.Cache.Backend)
	}
	switch c.Trace.Backend {
	case BackendNone, BackendNeo4j, BackendSQLite:
	default:
		return fmt.Errorf("unknown trace backend: %s", c.Trace.Backend)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
