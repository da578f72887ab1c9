// Package config loads CodeClaw configuration from YAML with environment
// variable expansion, plus optional TOML worker-spec overlays.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config holds all CodeClaw configuration.
type Config struct {
	// LLM runtime endpoint
	LLM LLMConfig `yaml:"llm"`

	// Model role assignments
	Models ModelsConfig `yaml:"models"`

	// Default generation parameters
	Defaults DefaultsConfig `yaml:"defaults"`

	// Concurrency and timeout regulation
	Regulators RegulatorsConfig `yaml:"regulators"`

	// Long-term memory
	Memory MemoryConfig `yaml:"memory"`

	// Documentation cache
	DocsRag DocsRagConfig `yaml:"docsRag"`

	// Tool execution backend
	Tools ToolsConfig `yaml:"tools"`

	// Web research
	Research ResearchConfig `yaml:"research"`

	// Remote-mode server
	Server ServerConfig `yaml:"server"`

	// Background maintenance jobs
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

type LLMConfig struct {
	APIURL         string `yaml:"apiUrl"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// ModelsConfig assigns a model to each role. Lite variants are used when a
// task classifies as simple.
type ModelsConfig struct {
	Planning        string `yaml:"planning"`
	Orchestration   string `yaml:"orchestration"`
	Research        string `yaml:"research"`
	Execution       string `yaml:"execution"`
	ExecutionLite   string `yaml:"execution_lite"`
	Exploration     string `yaml:"exploration"`
	ExplorationLite string `yaml:"exploration_lite"`
}

type DefaultsConfig struct {
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"maxTokens"`
	ContextWindow int     `yaml:"contextWindow"`
}

type RegulatorsConfig struct {
	MaxConcurrentAgents int `yaml:"maxConcurrentAgents"`
	AgentTimeoutSeconds int `yaml:"agentTimeoutSeconds"`
	MaxToolParallel     int `yaml:"maxToolParallel"`
}

type MemoryConfig struct {
	Enabled        bool              `yaml:"enabled"`
	VectorStore    string            `yaml:"vectorStore"` // sqlite | chroma | qdrant | pgvector
	EmbeddingModel string            `yaml:"embeddingModel"`
	Stores         MemoryStoreConfig `yaml:"stores"`
}

type MemoryStoreConfig struct {
	SQLite   SQLiteStoreConfig   `yaml:"sqlite"`
	Chroma   ChromaStoreConfig   `yaml:"chroma"`
	Qdrant   QdrantStoreConfig   `yaml:"qdrant"`
	PGVector PGVectorStoreConfig `yaml:"pgvector"`
}

type SQLiteStoreConfig struct {
	Path string `yaml:"path"`
}

type ChromaStoreConfig struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
}

type QdrantStoreConfig struct {
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
}

type PGVectorStoreConfig struct {
	ConnectionString string `yaml:"connectionString"`
	Table            string `yaml:"table"`
}

type DocsRagConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CacheDir           string `yaml:"cacheDir"`
	MaxPagesPerLibrary int    `yaml:"maxPagesPerLibrary"`
	MaxLibraries       int    `yaml:"maxLibrariesToIndex"`
	CacheMaxAgeDays    int    `yaml:"cacheMaxAgeDays"`
	MaxChunksPerQuery  int    `yaml:"maxChunksPerQuery"`
}

// ToolsConfig selects where tools execute: on this machine or over SSH on a
// trusted remote workstation.
type ToolsConfig struct {
	Backend string         `yaml:"backend"` // local | ssh
	SSH     SSHToolsConfig `yaml:"ssh"`
}

type SSHToolsConfig struct {
	Host    string `yaml:"host"`
	User    string `yaml:"user"`
	KeyPath string `yaml:"keyPath"`
}

type ResearchConfig struct {
	Engine     string            `yaml:"engine"` // duckduckgo | searxng
	MaxResults int               `yaml:"maxResults"`
	Engines    EngineConfig      `yaml:"engines"`
	Headers    map[string]string `yaml:"headers,omitempty"`
}

type EngineConfig struct {
	DuckDuckGo DuckDuckGoConfig `yaml:"duckduckgo"`
	SearXNG    SearXNGConfig    `yaml:"searxng"`
}

type DuckDuckGoConfig struct {
	Region string `yaml:"region"`
}

type SearXNGConfig struct {
	URL string `yaml:"url"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"apiKey"`
	AuthEnabled bool   `yaml:"authEnabled"`
	LogLevel    string `yaml:"logLevel"`
	DataDir     string `yaml:"dataDir"`
}

type MaintenanceConfig struct {
	Enabled              bool   `yaml:"enabled"`
	SessionSweepSchedule string `yaml:"sessionSweepSchedule"`
	SessionIdleMinutes   int    `yaml:"sessionIdleMinutes"`
	DocsCleanupSchedule  string `yaml:"docsCleanupSchedule"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			APIURL:         "http://localhost:11434",
			TimeoutSeconds: 120,
		},
		Models: ModelsConfig{
			Planning:        "deepseek-coder:6.7b",
			Orchestration:   "llama3.2:3b",
			Research:        "llama3.2:3b",
			Execution:       "qwen2.5-coder:7b",
			ExecutionLite:   "qwen2.5-coder:1.5b",
			Exploration:     "llama3.2:3b",
			ExplorationLite: "llama3.2:1b",
		},
		Defaults: DefaultsConfig{
			Temperature:   0.7,
			MaxTokens:     4096,
			ContextWindow: 8192,
		},
		Regulators: RegulatorsConfig{
			MaxConcurrentAgents: 5,
			AgentTimeoutSeconds: 300,
			MaxToolParallel:     5,
		},
		Memory: MemoryConfig{
			Enabled:        true,
			VectorStore:    "sqlite",
			EmbeddingModel: "nomic-embed-text",
			Stores: MemoryStoreConfig{
				SQLite: SQLiteStoreConfig{Path: "./.codeclaw/memory.db"},
				Chroma: ChromaStoreConfig{Path: "./.codeclaw/memory", Collection: "codeclaw_memory"},
				Qdrant: QdrantStoreConfig{URL: "http://localhost:6333", Collection: "codeclaw_memory"},
			},
		},
		DocsRag: DocsRagConfig{
			Enabled:            true,
			CacheDir:           "./.codeclaw/docs",
			MaxPagesPerLibrary: 50,
			MaxLibraries:       20,
			CacheMaxAgeDays:    7,
			MaxChunksPerQuery:  5,
		},
		Tools: ToolsConfig{
			Backend: "local",
		},
		Research: ResearchConfig{
			Engine:     "duckduckgo",
			MaxResults: 5,
			Engines: EngineConfig{
				DuckDuckGo: DuckDuckGoConfig{Region: "wt-wt"},
				SearXNG:    SearXNGConfig{URL: "https://searx.be"},
			},
		},
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8420,
			LogLevel: "info",
			DataDir:  "./.codeclaw",
		},
		Maintenance: MaintenanceConfig{
			Enabled:              true,
			SessionSweepSchedule: "@every 10m",
			SessionIdleMinutes:   60,
			DocsCleanupSchedule:  "@daily",
		},
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with environment values. Unset
// variables expand to the empty string.
func expandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}

// Load reads a YAML config file, expands ${VAR} references, and merges the
// result over DefaultConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file, creating parent directories.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

func (c *Config) validate() error {
	if c.LLM.APIURL == "" {
		return fmt.Errorf("config: llm.apiUrl is required")
	}
	if c.Regulators.MaxConcurrentAgents < 1 {
		return fmt.Errorf("config: regulators.maxConcurrentAgents must be >= 1")
	}
	if c.Defaults.ContextWindow < 1024 {
		return fmt.Errorf("config: defaults.contextWindow must be >= 1024")
	}
	switch c.Memory.VectorStore {
	case "", "sqlite", "chroma", "qdrant", "pgvector":
	default:
		return fmt.Errorf("config: unknown memory.vectorStore %q", c.Memory.VectorStore)
	}
	switch c.Tools.Backend {
	case "", "local":
	case "ssh":
		if c.Tools.SSH.Host == "" || c.Tools.SSH.KeyPath == "" {
			return fmt.Errorf("config: tools.backend=ssh requires tools.ssh.host and tools.ssh.keyPath")
		}
	default:
		return fmt.Errorf("config: unknown tools.backend %q", c.Tools.Backend)
	}
	return nil
}

// AgentTimeoutSeconds returns the per-worker deadline in seconds, defaulting
// to 300 when unset.
func (c *Config) AgentTimeoutSeconds() int {
	if c.Regulators.AgentTimeoutSeconds <= 0 {
		return 300
	}
	return c.Regulators.AgentTimeoutSeconds
}
