package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/samber/lo"
)

const (
	// devSessionSecret is only used when SESSION_SECRET is unset.
	devSessionSecret = "tavern-room-dev-secret"
	// defaultAllowedOrigins covers the usual local frontend dev servers.
	defaultAllowedOrigins = "http://localhost:5173,http://localhost:3000"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Chat    ChatConfig
	Storage StorageConfig
	Auth    AuthConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	var chatCfg ChatConfig
	if _, err := env.UnmarshalFromEnviron(&chatCfg); err != nil {
		return nil, fmt.Errorf("invalid chat configuration: %w", err)
	}
	if err := chatCfg.validate(); err != nil {
		return nil, err
	}

	var storage StorageConfig
	if _, err := env.UnmarshalFromEnviron(&storage); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}
	if err := storage.validate(); err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Chat: chatCfg, Storage: storage, Auth: auth}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// AllowedOrigins 可以携带会话 cookie 跨域访问的浏览器来源，"*" 表示任意来源。
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := parseListEnv("CORS_ALLOWED_ORIGINS", defaultAllowedOrigins)
	if lo.Contains(origins, "*") {
		log.Println("warning: CORS_ALLOWED_ORIGINS allows any origin, use only for local development")
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// ChatConfig covers the room engine. The default room replaces the
// hardcoded shared room of earlier deployments.
type ChatConfig struct {
	DefaultRoom      string        `env:"CHAT_DEFAULT_ROOM,default=global-room"`
	ResponderName    string        `env:"CHAT_RESPONDER_NAME,default=GPT"`
	ResponderTimeout time.Duration `env:"CHAT_RESPONDER_TIMEOUT,default=30s"`
	StoreTimeout     time.Duration `env:"CHAT_STORE_TIMEOUT,default=3s"`
	ConnectionBuffer int           `env:"CHAT_CONNECTION_BUFFER,default=128"`
	HistoryLimit     int           `env:"CHAT_HISTORY_LIMIT,default=10"`
}

func (c ChatConfig) validate() error {
	if strings.TrimSpace(c.DefaultRoom) == "" {
		return fmt.Errorf("CHAT_DEFAULT_ROOM must not be empty")
	}
	if strings.TrimSpace(c.ResponderName) == "" {
		return fmt.Errorf("CHAT_RESPONDER_NAME must not be empty")
	}
	if c.ResponderTimeout <= 0 || c.StoreTimeout <= 0 {
		return fmt.Errorf("chat timeouts must be positive")
	}
	if c.ConnectionBuffer < 1 {
		return fmt.Errorf("CHAT_CONNECTION_BUFFER must be at least 1, got %d", c.ConnectionBuffer)
	}
	return nil
}

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverDynamoDB = "dynamodb"
)

// StorageConfig selects where sessions and messages live.
type StorageConfig struct {
	Driver        string `env:"STORAGE_DRIVER,default=memory"`
	BadgerPath    string `env:"BADGER_PATH,default=./data/badger"`
	HistoryDriver string `env:"HISTORY_DRIVER"`
	DynamoDBTable string `env:"DYNAMODB_TABLE"`
}

func (c StorageConfig) validate() error {
	switch c.Driver {
	case DriverMemory, DriverBadger:
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q: want %s or %s", c.Driver, DriverMemory, DriverBadger)
	}
	switch c.HistoryDriver {
	case "", c.Driver:
	case DriverDynamoDB:
		if strings.TrimSpace(c.DynamoDBTable) == "" {
			return fmt.Errorf("DYNAMODB_TABLE is required when HISTORY_DRIVER=%s", DriverDynamoDB)
		}
	default:
		return fmt.Errorf("invalid HISTORY_DRIVER %q", c.HistoryDriver)
	}
	return nil
}

// AuthConfig 描述浏览器会话令牌配置。
type AuthConfig struct {
	SessionSecret string
	SessionTTL    time.Duration
	CookieName    string
	SecureCookie  bool
}

func loadAuthConfig() (AuthConfig, error) {
	secret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	if secret == "" {
		log.Println("warning: SESSION_SECRET not set, using development secret")
		secret = devSessionSecret
	}

	ttl := 24 * time.Hour
	if raw := strings.TrimSpace(os.Getenv("SESSION_TTL")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return AuthConfig{}, fmt.Errorf("invalid SESSION_TTL value %q", raw)
		}
		ttl = parsed
	}

	secure, err := parseBoolEnv("SESSION_COOKIE_SECURE", false)
	if err != nil {
		return AuthConfig{}, err
	}

	return AuthConfig{
		SessionSecret: secret,
		SessionTTL:    ttl,
		CookieName:    getEnvOrDefault("SESSION_COOKIE", "tavern_session"),
		SecureCookie:  secure,
	}, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	SystemPrompt string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY + Model or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
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
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        strings.TrimSpace(os.Getenv("Model")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		SystemPrompt: strings.TrimSpace(os.Getenv("AI_SYSTEM_PROMPT")),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// parseListEnv 解析逗号分隔的列表；变量存在但为空时返回空列表。
func parseListEnv(key, defaultValue string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok {
		raw = defaultValue
	}
	items := lo.Map(strings.Split(raw, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	})
	return lo.Compact(items)
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
