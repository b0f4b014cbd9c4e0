package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Engine  EngineConfig
	Storage StorageConfig
	AI      AIConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	engine, err := loadEngineConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Engine:  engine,
		Storage: loadStorageConfig(),
		AI:      ai,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// EngineConfig 描述聚合引擎的可调参数。
type EngineConfig struct {
	Window           int           // 参与度评分窗口（事件数）
	AlertLow         float64       // 低级预警阈值
	AlertHigh        float64       // 高级预警阈值
	Staleness        time.Duration // 参与者活跃判定窗口
	TimelineLimit    int           // 内存时间线上限，0 不截断
	BucketInterval   time.Duration // 报表时间片宽度
	AnomalyThreshold float64       // 置信度异常 z-score 阈值
}

func loadEngineConfig() (EngineConfig, error) {
	cfg := EngineConfig{
		Window:           10,
		AlertLow:         35,
		AlertHigh:        60,
		Staleness:        30 * time.Second,
		BucketInterval:   5 * time.Minute,
		AnomalyThreshold: 2.0,
	}

	if window, err := parseOptionalIntEnv("ENGAGE_WINDOW"); err != nil {
		return EngineConfig{}, err
	} else if window != nil {
		if *window < 1 {
			return EngineConfig{}, fmt.Errorf("ENGAGE_WINDOW must be at least 1, got %d", *window)
		}
		cfg.Window = *window
	}

	if low, err := parseOptionalFloatEnv("ALERT_LOW_THRESHOLD"); err != nil {
		return EngineConfig{}, err
	} else if low != nil {
		cfg.AlertLow = *low
	}

	if high, err := parseOptionalFloatEnv("ALERT_HIGH_THRESHOLD"); err != nil {
		return EngineConfig{}, err
	} else if high != nil {
		cfg.AlertHigh = *high
	}

	if cfg.AlertLow > cfg.AlertHigh {
		return EngineConfig{}, fmt.Errorf("alert thresholds inverted: low %.1f > high %.1f", cfg.AlertLow, cfg.AlertHigh)
	}

	if stale, err := parseOptionalIntEnv("PARTICIPANT_STALE_SECONDS"); err != nil {
		return EngineConfig{}, err
	} else if stale != nil {
		cfg.Staleness = time.Duration(*stale) * time.Second
	}

	if limit, err := parseOptionalIntEnv("TIMELINE_LIMIT"); err != nil {
		return EngineConfig{}, err
	} else if limit != nil && *limit > 0 {
		cfg.TimelineLimit = *limit
	}

	if bucket, err := parseOptionalIntEnv("REPORT_BUCKET_MINUTES"); err != nil {
		return EngineConfig{}, err
	} else if bucket != nil && *bucket > 0 {
		cfg.BucketInterval = time.Duration(*bucket) * time.Minute
	}

	if threshold, err := parseOptionalFloatEnv("ANOMALY_Z_THRESHOLD"); err != nil {
		return EngineConfig{}, err
	} else if threshold != nil && *threshold > 0 {
		cfg.AnomalyThreshold = *threshold
	}

	return cfg, nil
}

// StorageConfig 描述持久化配置，DSN 为空时退化为纯内存模式。
type StorageConfig struct {
	DSN string
}

// Enabled 表示是否配置了数据库。
func (c StorageConfig) Enabled() bool {
	return c.DSN != ""
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		DSN: strings.TrimSpace(os.Getenv("DATABASE_URL")),
	}
}

// AIConfig 描述多模态分类模型相关配置。
type AIConfig struct {
	APIKey            string
	AccessKey         string
	SecretKey         string
	Model             string
	BaseURL           string
	Region            string
	Temperature       *float64
	MaxTokens         *int
	ClassifierEnabled bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	classifierEnabled, err := parseBoolEnv("FRAME_CLASSIFIER_ENABLED", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:            strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:         strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:         strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:             strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:           getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:            getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:       temperature,
		MaxTokens:         maxTokens,
		ClassifierEnabled: classifierEnabled,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
