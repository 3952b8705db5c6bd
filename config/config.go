// Package config 提供 ai-knowledgehub 的统一配置加载。
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（前缀 KNOWLEDGEHUB_）。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 运行模式。生产模式下配置校验与向量集合维度校验均为快速失败。
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Config 是完整配置结构。
type Config struct {
	// Mode 运行模式: development / production
	Mode string `yaml:"mode"`

	Server     ServerConfig     `yaml:"server"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	Redis      RedisConfig      `yaml:"redis"`
	Cache      CacheConfig      `yaml:"cache"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Search     SearchConfig     `yaml:"search"`
	Generation GenerationConfig `yaml:"generation"`
	Retry      RetryConfig      `yaml:"retry"`
	Accounting AccountingConfig `yaml:"accounting"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RateLimitRPS 按客户端 IP 限流；0 表示不限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	// CORSAllowedOrigins 允许的跨域来源；为空时拒绝跨域请求
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// OpenAIConfig OpenAI 兼容 API 配置（生成与嵌入共用凭证）
type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`

	// Model 问答模型
	Model string `yaml:"model"`
	// KeywordModel 关键词提取模型（低成本小模型）
	KeywordModel string `yaml:"keyword_model"`
	// EmbeddingModel 嵌入模型；决定向量维度
	EmbeddingModel string `yaml:"embedding_model"`
}

// QdrantConfig Qdrant 向量库配置
type QdrantConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
	// MaxDeletePoints 单次按来源删除时扫描的最大点数
	MaxDeletePoints int `yaml:"max_delete_points"`
}

// RedisConfig Redis 缓存后端配置；Addr 为空时使用进程内缓存
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// CacheConfig 缓存 TTL 与容量配置
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// EmbeddingTTL 嵌入缓存时间；相同文本的嵌入稳定，允许长缓存
	EmbeddingTTL time.Duration `yaml:"embedding_ttl"`
	// SearchTTL 检索结果缓存时间
	SearchTTL time.Duration `yaml:"search_ttl"`
	// MaxMemoryEntries 进程内缓存容量上限，超出时淘汰创建最早的条目
	MaxMemoryEntries int `yaml:"max_memory_entries"`
}

// ChunkingConfig 文本切块配置
type ChunkingConfig struct {
	// Size 每块大小（rune 数）
	Size int `yaml:"size"`
	// Overlap 相邻块重叠（rune 数）
	Overlap int `yaml:"overlap"`
	// NewlineThreshold 换行切点需落在窗口的该比例之后
	NewlineThreshold float64 `yaml:"newline_threshold"`
	// PunctuationThreshold 结构化标点（冒号/分号）切点比例
	PunctuationThreshold float64 `yaml:"punctuation_threshold"`
	// SentenceThreshold 句末标点切点比例
	SentenceThreshold float64 `yaml:"sentence_threshold"`
	// MinSplitRatio 切点至少越过窗口的该比例，否则硬切，防止碎块
	MinSplitRatio float64 `yaml:"min_split_ratio"`
}

// SearchConfig 检索策略配置。短问题被视为歧义查询，使用更大的候选池
// 和更低的相似度阈值以扩大召回。
type SearchConfig struct {
	// ShortQueryMaxChars 短查询判定阈值（rune 数）
	ShortQueryMaxChars int     `yaml:"short_query_max_chars"`
	ShortPoolSize      int     `yaml:"short_pool_size"`
	ShortThreshold     float64 `yaml:"short_threshold"`
	ShortMinDocs       int     `yaml:"short_min_docs"`

	NormalPoolSize  int     `yaml:"normal_pool_size"`
	NormalThreshold float64 `yaml:"normal_threshold"`
	NormalMinDocs   int     `yaml:"normal_min_docs"`

	// 降级检索：主检索结果不足 min_docs 时，用更大的池和更低的阈值重检
	FallbackPoolSize  int     `yaml:"fallback_pool_size"`
	FallbackThreshold float64 `yaml:"fallback_threshold"`

	// ExpandedMultiplier 提供问题文本做关键词重排时，候选池放大的倍数
	ExpandedMultiplier int `yaml:"expanded_multiplier"`
	// MaxChunksPerSource 单一来源文档最多贡献的块数
	MaxChunksPerSource int `yaml:"max_chunks_per_source"`
	// MaxContextDocs 答案来源列表的上限
	MaxContextDocs int `yaml:"max_context_docs"`
	// FingerprintLength 去重指纹取归一化内容的前 N 个 rune
	FingerprintLength int `yaml:"fingerprint_length"`
}

// GenerationConfig 生成参数配置
type GenerationConfig struct {
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	KeywordTemperature float32 `yaml:"keyword_temperature"`
	KeywordMaxTokens   int     `yaml:"keyword_max_tokens"`
	MaxKeywords        int     `yaml:"max_keywords"`
}

// RetryProfile 单个重试档位
type RetryProfile struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MinWait     time.Duration `yaml:"min_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
}

// RetryConfig 各外部依赖独立的重试档位，互不影响
type RetryConfig struct {
	// Provider OpenAI 调用档位
	Provider RetryProfile `yaml:"provider"`
	// StoreConnect 向量库建连档位（次数多、等待长）
	StoreConnect RetryProfile `yaml:"store_connect"`
	// StoreOperation 向量库单次操作档位
	StoreOperation RetryProfile `yaml:"store_operation"`
}

// AccountingConfig token 用量记录存储配置
type AccountingConfig struct {
	// Path SQLite 数据库文件路径；":memory:" 为内存库
	Path string `yaml:"path"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level: debug / info / warn / error
	Level string `yaml:"level"`
	// Format: json / console
	Format string `yaml:"format"`
}

// Default 返回带生产级默认值的配置。
func Default() *Config {
	return &Config{
		Mode: ModeDevelopment,
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
		},
		OpenAI: OpenAIConfig{
			BaseURL:        "https://api.openai.com/v1",
			Timeout:        60 * time.Second,
			Model:          "gpt-4o-mini",
			KeywordModel:   "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
		},
		Qdrant: QdrantConfig{
			BaseURL:         "http://localhost:6333",
			Collection:      "knowledgehub",
			Timeout:         30 * time.Second,
			MaxDeletePoints: 10000,
		},
		Redis: RedisConfig{
			PoolSize: 10,
		},
		Cache: CacheConfig{
			Enabled:          true,
			EmbeddingTTL:     24 * time.Hour,
			SearchTTL:        time.Hour,
			MaxMemoryEntries: 1000,
		},
		Chunking: ChunkingConfig{
			Size:                 1000,
			Overlap:              200,
			NewlineThreshold:     0.7,
			PunctuationThreshold: 0.8,
			SentenceThreshold:    0.7,
			MinSplitRatio:        0.5,
		},
		Search: SearchConfig{
			ShortQueryMaxChars: 6,
			ShortPoolSize:      20,
			ShortThreshold:     0.3,
			ShortMinDocs:       5,
			NormalPoolSize:     10,
			NormalThreshold:    0.5,
			NormalMinDocs:      3,
			FallbackPoolSize:   20,
			FallbackThreshold:  0.2,
			ExpandedMultiplier: 3,
			MaxChunksPerSource: 5,
			MaxContextDocs:     5,
			FingerprintLength:  100,
		},
		Generation: GenerationConfig{
			Temperature:        0.7,
			MaxTokens:          1000,
			KeywordTemperature: 0.3,
			KeywordMaxTokens:   50,
			MaxKeywords:        3,
		},
		Retry: RetryConfig{
			Provider:       RetryProfile{MaxAttempts: 3, MinWait: 2 * time.Second, MaxWait: 60 * time.Second},
			StoreConnect:   RetryProfile{MaxAttempts: 5, MinWait: time.Second, MaxWait: 30 * time.Second},
			StoreOperation: RetryProfile{MaxAttempts: 3, MinWait: time.Second, MaxWait: 20 * time.Second},
		},
		Accounting: AccountingConfig{
			Path: "knowledgehub.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load 加载配置：默认值 → YAML 文件（path 为空则跳过）→ 环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 用环境变量覆盖关键配置项。敏感凭证（API Key）通常只经由
// 环境变量注入，不落 YAML。
func (c *Config) applyEnv() {
	envString(&c.Mode, "MODE")

	envString(&c.Server.Addr, "SERVER_ADDR")

	envString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	envString(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	envString(&c.OpenAI.Model, "OPENAI_MODEL")
	envString(&c.OpenAI.EmbeddingModel, "OPENAI_EMBEDDING_MODEL")

	envString(&c.Qdrant.BaseURL, "QDRANT_URL")
	envString(&c.Qdrant.APIKey, "QDRANT_API_KEY")
	envString(&c.Qdrant.Collection, "QDRANT_COLLECTION")

	envString(&c.Redis.Addr, "REDIS_ADDR")
	envString(&c.Redis.Password, "REDIS_PASSWORD")
	envInt(&c.Redis.DB, "REDIS_DB")

	envBool(&c.Cache.Enabled, "CACHE_ENABLED")

	envString(&c.Accounting.Path, "ACCOUNTING_PATH")

	envString(&c.Log.Level, "LOG_LEVEL")
	envString(&c.Log.Format, "LOG_FORMAT")
}

// Validate 校验配置一致性。开发模式允许缺失凭证（降级运行），
// 生产模式快速失败。
func (c *Config) Validate() error {
	if c.Mode != ModeDevelopment && c.Mode != ModeProduction {
		return fmt.Errorf("invalid mode %q: must be %s or %s", c.Mode, ModeDevelopment, ModeProduction)
	}
	if c.Mode == ModeProduction {
		if strings.TrimSpace(c.OpenAI.APIKey) == "" {
			return fmt.Errorf("openai.api_key is required in production mode")
		}
		if strings.TrimSpace(c.Qdrant.BaseURL) == "" {
			return fmt.Errorf("qdrant.base_url is required in production mode")
		}
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap (%d) must be smaller than chunking.size (%d)", c.Chunking.Overlap, c.Chunking.Size)
	}
	if c.Search.ExpandedMultiplier < 1 {
		return fmt.Errorf("search.expanded_multiplier must be >= 1")
	}
	for name, p := range map[string]RetryProfile{
		"provider":        c.Retry.Provider,
		"store_connect":   c.Retry.StoreConnect,
		"store_operation": c.Retry.StoreOperation,
	} {
		if p.MaxAttempts < 1 {
			return fmt.Errorf("retry.%s.max_attempts must be >= 1", name)
		}
		if p.MinWait > p.MaxWait {
			return fmt.Errorf("retry.%s: min_wait must not exceed max_wait", name)
		}
	}
	return nil
}

// IsProduction 返回是否处于生产模式。
func (c *Config) IsProduction() bool { return c.Mode == ModeProduction }

const envPrefix = "KNOWLEDGEHUB_"

func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
