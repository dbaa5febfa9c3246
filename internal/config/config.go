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
	Server   ServerConfig
	Realtime RealtimeConfig
	User     UserConfig
	Session  SessionConfig
	AI       AIConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	realtime, err := loadRealtimeConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Realtime: realtime,
		User:     loadUserConfig(),
		Session:  session,
		AI:       ai,
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

// RealtimeConfig 描述会议聊天连接配置。
type RealtimeConfig struct {
	ServerURL      string
	ConnectTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	LocalDelay     time.Duration
	ForceLocal     bool
}

func loadRealtimeConfig() (RealtimeConfig, error) {
	connectTimeout, err := parseDurationEnv("CHAT_CONNECT_TIMEOUT", 5*time.Second)
	if err != nil {
		return RealtimeConfig{}, err
	}

	retryDelay, err := parseDurationEnv("CHAT_RETRY_DELAY", time.Second)
	if err != nil {
		return RealtimeConfig{}, err
	}

	localDelay, err := parseDurationEnv("CHAT_LOCAL_DELAY", 100*time.Millisecond)
	if err != nil {
		return RealtimeConfig{}, err
	}
	if localDelay <= 0 {
		return RealtimeConfig{}, fmt.Errorf("invalid CHAT_LOCAL_DELAY value %q: must be positive", os.Getenv("CHAT_LOCAL_DELAY"))
	}

	forceLocal, err := parseBoolEnv("CHAT_FORCE_LOCAL", false)
	if err != nil {
		return RealtimeConfig{}, err
	}

	maxRetries := 3
	if override, err := parseOptionalIntEnv("CHAT_MAX_RETRIES"); err != nil {
		return RealtimeConfig{}, err
	} else if override != nil {
		if *override < 1 {
			maxRetries = 1
		} else {
			maxRetries = *override
		}
	}

	return RealtimeConfig{
		ServerURL:      strings.TrimSpace(os.Getenv("CHAT_SERVER_URL")),
		ConnectTimeout: connectTimeout,
		MaxRetries:     maxRetries,
		RetryDelay:     retryDelay,
		LocalDelay:     localDelay,
		ForceLocal:     forceLocal,
	}, nil
}

// UserConfig 描述本服务加入会议时使用的用户身份。
type UserConfig struct {
	ID   string
	Name string
}

func loadUserConfig() UserConfig {
	return UserConfig{
		ID:   getEnvOrDefault("COLLAB_USER_ID", "local-user"),
		Name: getEnvOrDefault("COLLAB_USER_NAME", "Host"),
	}
}

// SessionConfig 描述会话存储配置。RedisURL 为空时使用内存存储。
type SessionConfig struct {
	RedisURL  string
	KeyPrefix string
	TTL       time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	ttl, err := parseDurationEnv("SESSION_TTL", 12*time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		RedisURL:  strings.TrimSpace(os.Getenv("REDIS_URL")),
		KeyPrefix: getEnvOrDefault("SESSION_KEY_PREFIX", "collab-copilot:"),
		TTL:       ttl,
	}, nil
}

// DefaultSummaryPrompt 未设置 SUMMARY_PROMPT 时使用的摘要提示词。
const DefaultSummaryPrompt = `You are a meeting assistant. Given a meeting chat transcript, produce a concise summary in markdown with these sections:

## Summary
A brief 2-3 sentence overview of the meeting.

## Decisions
Bullet points of decisions that were made.

## Action Items
Bullet points of tasks, with the responsible person when identifiable.

Omit any section that has no content.`

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey        string
	AccessKey     string
	SecretKey     string
	Model         string
	BaseURL       string
	Region        string
	Temperature   *float64
	MaxTokens     *int
	SummaryPrompt string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark credentials or model missing: set ARK_API_KEY + Model or an AK/SK pair")
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

	return AIConfig{
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:         strings.TrimSpace(os.Getenv("Model")),
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:   temperature,
		MaxTokens:     maxTokens,
		SummaryPrompt: getEnvOrDefault("SUMMARY_PROMPT", DefaultSummaryPrompt),
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

// parseDurationEnv 支持 Go 时长格式（"750ms"），纯整数按毫秒解析。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if ms, err := strconv.Atoi(raw); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
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
