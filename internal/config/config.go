package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Provider backends understood by the chat client.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// Speech engines understood by the synthesis adapter.
const (
	EngineKokoro     = "kokoro"
	EngineVolcengine = "volcengine"
	EngineNone       = "none"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Speech   SpeechConfig
	Session  SessionConfig
	Database DatabaseConfig
	Log      LogConfig
	Metrics  MetricsConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	provider, err := loadProviderConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	metrics, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Provider: provider,
		Speech:   speech,
		Session:  session,
		Database: DatabaseConfig{Path: getEnvOrDefault("DATABASE_PATH", "personas.db")},
		Log:      logCfg,
		Metrics:  MetricsConfig{Enabled: metrics},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// ProviderConfig 描述文本生成服务的配置。
type ProviderConfig struct {
	Kind    string
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration

	// Ark 专用
	AccessKey   string
	SecretKey   string
	Region      string
	Temperature *float64
	MaxTokens   *int
}

// NewArkChatModel 使用配置创建一个 Ark 模型实例。
func (c ProviderConfig) NewArkChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.Model == "" || (c.APIKey == "" && (c.AccessKey == "" || c.SecretKey == "")) {
		return nil, fmt.Errorf("ark provider requires PROVIDER_MODEL and PROVIDER_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	timeout := c.Timeout
	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		Timeout:     &timeout,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadProviderConfig() (ProviderConfig, error) {
	kind := strings.ToLower(getEnvOrDefault("PROVIDER", ProviderOllama))
	switch kind {
	case ProviderOllama, ProviderOpenAI, ProviderArk:
	default:
		return ProviderConfig{}, fmt.Errorf("invalid PROVIDER value %q", kind)
	}

	timeout, err := parseDurationEnv("PROVIDER_TIMEOUT", 60*time.Second)
	if err != nil {
		return ProviderConfig{}, err
	}

	temperature, err := parseOptionalFloatEnv("PROVIDER_TEMPERATURE")
	if err != nil {
		return ProviderConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("PROVIDER_MAX_TOKENS")
	if err != nil {
		return ProviderConfig{}, err
	}

	return ProviderConfig{
		Kind:        kind,
		BaseURL:     getEnvOrDefault("PROVIDER_BASE_URL", defaultBaseURL(kind)),
		Model:       getEnvOrDefault("PROVIDER_MODEL", "gemma3:4b"),
		APIKey:      strings.TrimSpace(os.Getenv("PROVIDER_API_KEY")),
		Timeout:     timeout,
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}, nil
}

func defaultBaseURL(kind string) string {
	switch kind {
	case ProviderOpenAI:
		return "https://api.openai.com/v1"
	case ProviderArk:
		return "https://ark.cn-beijing.volces.com/api/v3"
	default:
		return "http://localhost:11434"
	}
}

// SpeechConfig 描述语音合成相关配置
type SpeechConfig struct {
	Engine     string
	Endpoint   string
	Voice      string
	VoicesFile string
	Language   string
	SampleRate int
	Channels   int
	BitDepth   int
	Encoding   string
	Workers    int
	QueueSize  int
	Timeout    time.Duration

	// Volcengine 凭证
	AppID       string
	AccessToken string
	ResourceID  string
}

// Enabled 表示是否配置了语音引擎。
func (c SpeechConfig) Enabled() bool {
	return c.Engine != EngineNone
}

func loadSpeechConfig() (SpeechConfig, error) {
	engine := strings.ToLower(getEnvOrDefault("SPEECH_ENGINE", EngineKokoro))
	switch engine {
	case EngineKokoro, EngineVolcengine, EngineNone:
	default:
		return SpeechConfig{}, fmt.Errorf("invalid SPEECH_ENGINE value %q", engine)
	}

	sampleRate, err := parseIntEnv("SPEECH_SAMPLE_RATE", 24000)
	if err != nil {
		return SpeechConfig{}, err
	}
	if sampleRate <= 0 {
		return SpeechConfig{}, fmt.Errorf("invalid SPEECH_SAMPLE_RATE value %d", sampleRate)
	}

	encoding := strings.ToLower(getEnvOrDefault("SPEECH_ENCODING", "pcm"))
	if encoding != "pcm" && encoding != "mulaw" {
		return SpeechConfig{}, fmt.Errorf("invalid SPEECH_ENCODING value %q", encoding)
	}

	workers, err := parseIntEnv("SPEECH_WORKERS", 2)
	if err != nil {
		return SpeechConfig{}, err
	}
	if workers < 1 {
		workers = 1
	}

	queue, err := parseIntEnv("SPEECH_QUEUE_SIZE", 16)
	if err != nil {
		return SpeechConfig{}, err
	}
	if queue < 0 {
		queue = 0
	}

	timeout, err := parseDurationEnv("SPEECH_TIMEOUT", 45*time.Second)
	if err != nil {
		return SpeechConfig{}, err
	}

	return SpeechConfig{
		Engine:      engine,
		Endpoint:    getEnvOrDefault("SPEECH_ENDPOINT", defaultSpeechEndpoint(engine)),
		Voice:       strings.TrimSpace(os.Getenv("SPEECH_TTS_VOICE")),
		VoicesFile:  strings.TrimSpace(os.Getenv("SPEECH_VOICES_FILE")),
		Language:    getEnvOrDefault("SPEECH_LANGUAGE", "pt-BR"),
		SampleRate:  sampleRate,
		Channels:    1,
		BitDepth:    16,
		Encoding:    encoding,
		Workers:     workers,
		QueueSize:   queue,
		Timeout:     timeout,
		AppID:       strings.TrimSpace(os.Getenv("SPEECH_APP_ID")),
		AccessToken: strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN")),
		ResourceID:  getEnvOrDefault("SPEECH_RESOURCE_ID", "seed-tts-1.0"),
	}, nil
}

func defaultSpeechEndpoint(engine string) string {
	if engine == EngineVolcengine {
		return "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"
	}
	return "http://localhost:8880"
}

// SessionConfig 控制会话注册表的闲置回收。
type SessionConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	ttl, err := parseDurationEnv("SESSION_IDLE_TTL", 2*time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}
	interval, err := parseDurationEnv("SESSION_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}
	return SessionConfig{IdleTTL: ttl, SweepInterval: interval}, nil
}

// DatabaseConfig points at the persona SQLite file.
type DatabaseConfig struct {
	Path string
}

// LogConfig 日志配置
type LogConfig struct {
	Level slog.Level
}

func loadLogConfig() (LogConfig, error) {
	raw := getEnvOrDefault("LOG_LEVEL", "info")
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return LogConfig{}, fmt.Errorf("invalid LOG_LEVEL value %q: %w", raw, err)
	}
	return LogConfig{Level: level}, nil
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

// parseDurationEnv accepts Go durations ("90s") or bare seconds ("90").
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
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
