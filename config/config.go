package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type DiscordConfig struct {
	BotToken         string
	AppID            string
	PublicKey        string
	FetchConcurrency int
}

// IsConfigured returns true if all required Discord configuration is present
func (c DiscordConfig) IsConfigured() bool {
	return c.BotToken != "" && c.AppID != ""
	// Note: PublicKey is only needed for HTTP interaction endpoints
}

type GeminiConfig struct {
	APIKeys        []string
	ChatModel      string
	EmbeddingModel string
	EmbeddingDim   int
}

// IsConfigured returns true if at least one Gemini API key is present
func (c GeminiConfig) IsConfigured() bool {
	return len(c.APIKeys) > 0
}

type RerankConfig struct {
	Provider     string // "none" or "cohere"
	Model        string
	TopK         int
	CohereAPIKey string
}

// IsConfigured returns true if reranking is enabled and usable
func (c RerankConfig) IsConfigured() bool {
	return c.Provider == "cohere" && c.CohereAPIKey != ""
}

type ChunkingConfig struct {
	MaxTokensPerWindow int
	SoftGapMinutes     float64
	OverlapMessages    int
}

type TokenizerConfig struct {
	MaxInputTokens    int
	TokenSafetyMargin int
}

type AppConfig struct {
	// Core configuration (always required)
	DatabaseURL    string
	DatabaseSchema string
	Port           string // Optional with default "8080"
	Environment    string

	// Supabase project coordinates, recorded for operators; the backend talks
	// to Postgres directly via DatabaseURL.
	SupabaseURL     string
	SupabaseAnonKey string

	AlertWebhookURL    string
	TopCandidatesLimit int

	DiscordConfig   DiscordConfig
	GeminiConfig    GeminiConfig
	RerankConfig    RerankConfig
	ChunkingConfig  ChunkingConfig
	TokenizerConfig TokenizerConfig
}

func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("⚠️ Could not load .env file, continuing with system env vars")
	}

	databaseURL, err := getEnvRequired("DATABASE_URL")
	if err != nil {
		return nil, err
	}

	config := &AppConfig{
		DatabaseURL:    databaseURL,
		DatabaseSchema: getEnvWithDefault("DB_SCHEMA", "public"),
		Port:           getEnvWithDefault("PORT", "8080"),
		Environment:    getEnvWithDefault("ENVIRONMENT", "dev"),

		SupabaseURL:     os.Getenv("SUPABASE_URL"),
		SupabaseAnonKey: os.Getenv("SUPABASE_ANON_KEY"),

		AlertWebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
		TopCandidatesLimit: getEnvIntWithDefault("TOP_CANDIDATES_LIMIT", 50),

		DiscordConfig: DiscordConfig{
			BotToken:         os.Getenv("DISCORD_TOKEN"),
			AppID:            os.Getenv("DISCORD_APP_ID"),
			PublicKey:        os.Getenv("DISCORD_PUBLIC_KEY"),
			FetchConcurrency: getEnvIntWithDefault("DISCORD_FETCH_CONCURRENCY", 15),
		},

		GeminiConfig: GeminiConfig{
			APIKeys:        loadGeminiKeys(),
			ChatModel:      getEnvWithDefault("CHAT_MODEL", "gemini-2.5-flash-lite"),
			EmbeddingModel: getEnvWithDefault("EMBEDDING_MODEL", "gemini-embedding-001"),
			EmbeddingDim:   getEnvIntWithDefault("EMBEDDING_DIM", 3072),
		},

		RerankConfig: RerankConfig{
			Provider:     getEnvWithDefault("RERANK_PROVIDER", "none"),
			Model:        getEnvWithDefault("RERANK_MODEL", "rerank-v3.5"),
			TopK:         getEnvIntWithDefault("RERANK_TOPK", 5),
			CohereAPIKey: os.Getenv("COHERE_API_KEY"),
		},

		ChunkingConfig: ChunkingConfig{
			MaxTokensPerWindow: getEnvIntWithDefault("MAX_TOKENS_PER_WINDOW", 1200),
			SoftGapMinutes:     float64(getEnvIntWithDefault("SOFT_GAP_MINUTES", 5)),
			OverlapMessages:    getEnvIntWithDefault("OVERLAP_MESSAGES", 0),
		},

		TokenizerConfig: TokenizerConfig{
			MaxInputTokens:    getEnvIntWithDefault("MAX_INPUT_TOKENS", 2048),
			TokenSafetyMargin: getEnvIntWithDefault("LLM_TOKEN_SAFETY_MARGIN", 128),
		},
	}

	if !config.DiscordConfig.IsConfigured() {
		return nil, fmt.Errorf("DISCORD_TOKEN and DISCORD_APP_ID must be set")
	}
	if !config.GeminiConfig.IsConfigured() {
		return nil, fmt.Errorf("at least GEMINI_API_KEY must be set")
	}
	log.Printf("✅ Loaded configuration with %d Gemini API keys", len(config.GeminiConfig.APIKeys))

	if config.RerankConfig.Provider != "none" && !config.RerankConfig.IsConfigured() {
		log.Printf("⚠️ RERANK_PROVIDER=%s but no usable credentials - reranking disabled", config.RerankConfig.Provider)
		config.RerankConfig.Provider = "none"
	}

	return config, nil
}

// loadGeminiKeys collects the key pool: GEMINI_API_KEY plus GEMINI_API_KEY2
// through GEMINI_API_KEY20. Gaps are skipped.
func loadGeminiKeys() []string {
	var keys []string
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		keys = append(keys, key)
	}
	for i := 2; i <= 20; i++ {
		if key := os.Getenv(fmt.Sprintf("GEMINI_API_KEY%d", i)); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func getEnvRequired(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%s is not set", key)
	}
	return value, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("⚠️ Invalid value for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
