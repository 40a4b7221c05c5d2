package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for a ragchat client.
//
// It includes settings for:
//   - Completion provider (for generating replies)
//   - Embedding provider (for vector generation)
//   - Vector store (for retrieval memory)
//   - Conversation store (for conversation persistence)
//   - Memory (namespace and chunking)
//
// Example:
//
//	config := &core.Config{
//	    Completion: core.CompletionConfig{
//	        Provider: "deepseek",
//	        APIKey:   "sk-...",
//	        Model:    "deepseek-chat",
//	    },
//	    Embedder: core.EmbedderConfig{
//	        APIKey:     "sk-...",
//	        Dimensions: 1536,
//	    },
//	    VectorStore: core.VectorStoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./ragchat.db",
//	        },
//	    },
//	    ConversationStore: core.ConversationStoreConfig{
//	        Provider: "sqlite",
//	        Config: map[string]interface{}{
//	            "db_path": "./conversations.db",
//	        },
//	    },
//	}
type Config struct {
	// Completion contains completion provider configuration.
	Completion CompletionConfig `json:"completion"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// VectorStore contains vector store configuration.
	VectorStore VectorStoreConfig `json:"vector_store"`

	// ConversationStore contains conversation store configuration.
	ConversationStore ConversationStoreConfig `json:"conversation_store"`

	// Memory contains memory service configuration (optional).
	Memory MemoryConfig `json:"memory,omitempty"`

	// NodeID distinguishes server instances for id generation (0-1023).
	// Instances sharing a conversation store must use distinct node ids.
	// Defaults to 1.
	NodeID int64 `json:"node_id,omitempty"`
}

// CompletionConfig contains configuration for the completion provider.
//
// Supported providers: openai, deepseek
type CompletionConfig struct {
	// Provider is the completion provider name (openai, deepseek).
	Provider string `json:"provider"`

	// APIKey is the API key for the completion provider.
	APIKey string `json:"api_key"`

	// Model is the model name to use (e.g., "deepseek-chat", "gpt-4").
	Model string `json:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// The provider is always OpenAI-compatible; an empty APIKey runs the
// deterministic hash fallback permanently (offline mode).
type EmbedderConfig struct {
	// APIKey is the API key for the embedding provider. Empty enables
	// permanent fallback mode.
	APIKey string `json:"api_key"`

	// BaseURL is the base URL for the API (optional).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors. Defaults to 1536.
	Dimensions int `json:"dimensions,omitempty"`
}

// VectorStoreConfig contains configuration for the vector store.
//
// Supported providers: sqlite, postgres, chromem
type VectorStoreConfig struct {
	// Provider is the vector store provider name (sqlite, postgres, chromem).
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path
	// For PostgreSQL: host, port, user, password, db_name, ssl_mode, embedding_model_dims
	// For chromem: none (in-memory)
	Config map[string]interface{} `json:"config"`
}

// ConversationStoreConfig contains configuration for the conversation store.
//
// Supported providers: sqlite, mysql
type ConversationStoreConfig struct {
	// Provider is the conversation store provider name (sqlite, mysql).
	Provider string `json:"provider"`

	// Config contains provider-specific configuration.
	// For SQLite: db_path
	// For MySQL: host, port, user, password, db_name
	Config map[string]interface{} `json:"config"`
}

// MemoryConfig contains configuration for the memory service.
type MemoryConfig struct {
	// Namespace is the vector index namespace. Defaults to "conversations".
	Namespace string `json:"namespace,omitempty"`

	// MaxChunkSize is the chunk size budget in characters. Defaults to 500.
	MaxChunkSize int `json:"max_chunk_size,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - COMPLETION_PROVIDER (openai, deepseek), COMPLETION_API_KEY,
//     COMPLETION_MODEL, COMPLETION_BASE_URL
//   - EMBEDDING_API_KEY, EMBEDDING_BASE_URL, EMBEDDING_DIMENSIONS
//   - VECTOR_PROVIDER (sqlite, postgres, chromem) plus SQLITE_PATH,
//     POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - CONVERSATION_PROVIDER (sqlite, mysql) plus CONVERSATION_SQLITE_PATH,
//     MYSQL_HOST, MYSQL_PORT, MYSQL_USER, MYSQL_PASSWORD, MYSQL_DATABASE
//   - MEMORY_NAMESPACE, MEMORY_MAX_CHUNK_SIZE
//   - NODE_ID (0-1023, per server instance)
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnv() (*Config, error) {
	// Use FindEnvFile to locate .env file (supports upward search)
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		// If not found, try loading from current directory (godotenv default behavior)
		_ = godotenv.Load()
	}

	vectorProvider := getEnvOrDefault("VECTOR_PROVIDER", "sqlite")
	vectorConfig := make(map[string]interface{})

	switch vectorProvider {
	case "sqlite":
		vectorConfig = map[string]interface{}{
			"db_path": getEnvOrDefault("SQLITE_PATH", "./ragchat.db"),
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		dims, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_EMBEDDING_MODEL_DIMS", "1536"))

		vectorConfig = map[string]interface{}{
			"host":                 getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":                 port,
			"user":                 getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password":             os.Getenv("POSTGRES_PASSWORD"),
			"db_name":              getEnvOrDefault("POSTGRES_DATABASE", "ragchat"),
			"embedding_model_dims": dims,
			"ssl_mode":             getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "chromem":
		// In-memory index, no configuration needed
	}

	conversationProvider := getEnvOrDefault("CONVERSATION_PROVIDER", "sqlite")
	conversationConfig := make(map[string]interface{})

	switch conversationProvider {
	case "sqlite":
		conversationConfig = map[string]interface{}{
			"db_path": getEnvOrDefault("CONVERSATION_SQLITE_PATH", "./conversations.db"),
		}
	case "mysql":
		port, _ := strconv.Atoi(getEnvOrDefault("MYSQL_PORT", "3306"))

		conversationConfig = map[string]interface{}{
			"host":     getEnvOrDefault("MYSQL_HOST", "127.0.0.1"),
			"port":     port,
			"user":     getEnvOrDefault("MYSQL_USER", "root"),
			"password": os.Getenv("MYSQL_PASSWORD"),
			"db_name":  getEnvOrDefault("MYSQL_DATABASE", "ragchat"),
		}
	}

	completionProvider := getEnvOrDefault("COMPLETION_PROVIDER", "deepseek")
	var completionBaseURL string
	var defaultModel string

	switch completionProvider {
	case "deepseek":
		completionBaseURL = os.Getenv("DEEPSEEK_BASE_URL")
		if completionBaseURL == "" {
			completionBaseURL = "https://api.deepseek.com"
		}
		defaultModel = "deepseek-chat"
	default:
		completionBaseURL = os.Getenv("COMPLETION_BASE_URL")
		defaultModel = "gpt-4"
	}

	dims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMENSIONS", "1536"))
	chunkSize, _ := strconv.Atoi(getEnvOrDefault("MEMORY_MAX_CHUNK_SIZE", "500"))
	nodeID, _ := strconv.ParseInt(getEnvOrDefault("NODE_ID", "1"), 10, 64)

	config := &Config{
		Completion: CompletionConfig{
			Provider: completionProvider,
			APIKey:   os.Getenv("COMPLETION_API_KEY"),
			Model:    getEnvOrDefault("COMPLETION_MODEL", defaultModel),
			BaseURL:  completionBaseURL,
		},
		Embedder: EmbedderConfig{
			APIKey:     os.Getenv("EMBEDDING_API_KEY"),
			BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
			Dimensions: dims,
		},
		VectorStore: VectorStoreConfig{
			Provider: vectorProvider,
			Config:   vectorConfig,
		},
		ConversationStore: ConversationStoreConfig{
			Provider: conversationProvider,
			Config:   conversationConfig,
		},
		Memory: MemoryConfig{
			Namespace:    getEnvOrDefault("MEMORY_NAMESPACE", "conversations"),
			MaxChunkSize: chunkSize,
		},
		NodeID: nodeID,
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
//
// Parameters:
//   - path: Path to the JSON configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewChatError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewChatError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// Validate validates the configuration.
//
// Checks that all required fields are set:
//   - Completion provider must be specified
//   - Vector store provider must be specified
//   - Conversation store provider must be specified
//
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.Completion.Provider == "" {
		return NewChatError("Validate", ErrInvalidConfig)
	}
	if c.VectorStore.Provider == "" {
		return NewChatError("Validate", ErrInvalidConfig)
	}
	if c.ConversationStore.Provider == "" {
		return NewChatError("Validate", ErrInvalidConfig)
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	// First check the current directory
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	// Check project root directory (search upward)
	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
