package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// Server settings
	ServerPort   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Debug        bool
	Environment  string

	// Logging
	LogDir    string
	LogLevel  string
	LogFormat string

	Version         string
	ShutdownTimeout time.Duration

	Middleware    MiddlewareConfig
	CORS          CORSConfig
	RateLimit     RateLimitConfig
	Files         FilesConfig
	Timeouts      TimeoutConfig
	Monitoring    MonitoringConfig
	Resolver      ResolverConfig
	Storage       StorageConfig
	Transcription TranscriptionConfig
	Analysis      AnalysisConfig
	History       HistoryConfig
}

type MiddlewareConfig struct {
	EnableRecover   bool
	EnableRequestID bool
	EnableLogger    bool
	EnableCORS      bool
	EnableRateLimit bool
	EnableDebugMode bool
}

type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	BurstSize         int
}

type FilesConfig struct {
	TempDir     string
	MaxFileSize int64
	// MaxJSONBody bounds the size of a link request body.
	MaxJSONBody int64
}

// TimeoutConfig holds the per-call bound for every external dependency.
type TimeoutConfig struct {
	LinkResolution time.Duration
	StorageUpload  time.Duration
	Transcription  time.Duration
	Analysis       time.Duration
}

type MonitoringConfig struct {
	SlowRequest       time.Duration
	SlowTranscription time.Duration
	SlowAnalysis      time.Duration
}

type ResolverConfig struct {
	UserAgent   string
	PageBaseURL string
}

type StorageConfig struct {
	AccessKeyID     string
	AccessKeySecret string
	Endpoint        string
	Region          string
	Bucket          string
	KeyPrefix       string
	PublicBaseURL   string
	// PathStyle addresses objects as endpoint/bucket/key instead of a
	// bucket subdomain.
	PathStyle bool
}

type TranscriptionConfig struct {
	Backend      string
	PollInterval time.Duration
	DashScope    DashScopeConfig
	FileTrans    FileTransConfig
}

type DashScopeConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	LanguageHints []string
	// TechVocabularyID is sent only for tech-mode requests.
	TechVocabularyID string
}

type FileTransConfig struct {
	AccessKeyID     string
	AccessKeySecret string
	AppKey          string
	Region          string
	Endpoint        string
	// TechVocabularyID is the hot-word list sent only for tech-mode requests.
	TechVocabularyID string
}

type AnalysisConfig struct {
	Primary     string
	Temperature float64
	MaxTokens   int
	DeepSeek    ProviderConfig
	Kimi        ProviderConfig
}

type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type HistoryConfig struct {
	Path           string
	MaxConnections int
}

// Enabled reports whether the request history store is configured.
func (h HistoryConfig) Enabled() bool {
	return h.Path != ""
}

const (
	BackendDashScope = "dashscope"
	BackendFileTrans = "filetrans"

	ProviderDeepSeek = "deepseek"
	ProviderKimi     = "kimi"
)

// Default configurations
func defaultDevConfig() MiddlewareConfig {
	return MiddlewareConfig{
		EnableRecover:   true,
		EnableRequestID: true,
		EnableLogger:    true,
		EnableCORS:      true,
		EnableRateLimit: false, // Disabled for local testing
		EnableDebugMode: true,
	}
}

func defaultProdConfig() MiddlewareConfig {
	return MiddlewareConfig{
		EnableRecover:   true,
		EnableRequestID: true,
		EnableLogger:    true,
		EnableCORS:      true,
		EnableRateLimit: true,
		EnableDebugMode: false,
	}
}

// Load reads configuration from the environment, falling back to the TOML
// file named by CONFIG_FILE and then to defaults.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_FILE"))
}

// LoadFile is Load with an explicit overlay file. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	l := &loader{}
	if path != "" {
		values, err := readFile(path)
		if err != nil {
			return nil, err
		}
		l.file = values
	}

	cfg := l.build()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *loader) build() *Config {
	env := l.getEnv("ENV", "development")

	cfg := &Config{
		// Server settings
		ServerPort:   l.getEnv("SERVER_PORT", "8000"),
		ReadTimeout:  l.getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: l.getEnvAsDuration("WRITE_TIMEOUT", 5*time.Minute),
		IdleTimeout:  l.getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
		Debug:        l.getEnvAsBool("DEBUG", false),
		Environment:  env,

		LogDir:    l.getEnv("LOG_DIR", ""),
		LogLevel:  l.getEnv("LOG_LEVEL", "info"),
		LogFormat: l.getEnv("LOG_FORMAT", "auto"),

		Version:         l.getEnv("VERSION", "1.0.0"),
		ShutdownTimeout: l.getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		CORS: CORSConfig{
			Enabled:          l.getEnvAsBool("CORS_ENABLED", true),
			AllowedOrigins:   l.getEnvAsStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods:   l.getEnvAsStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   l.getEnvAsStringSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "X-Request-ID"}),
			ExposedHeaders:   l.getEnvAsStringSlice("CORS_EXPOSED_HEADERS", []string{"X-Request-ID"}),
			AllowCredentials: l.getEnvAsBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           l.getEnvAsInt("CORS_MAX_AGE", 86400),
		},

		RateLimit: RateLimitConfig{
			Enabled:           l.getEnvAsBool("RATE_LIMIT_ENABLED", true),
			RequestsPerMinute: l.getEnvAsInt("RATE_LIMIT_RPM", 30),
			BurstSize:         l.getEnvAsInt("RATE_LIMIT_BURST", 5),
		},

		Files: FilesConfig{
			TempDir:     l.getEnv("TEMP_DIR", "/tmp/scriptparser"),
			MaxFileSize: l.getEnvAsInt64("MAX_FILE_SIZE", 100*1024*1024), // 100MB
			MaxJSONBody: l.getEnvAsInt64("MAX_JSON_BODY", 64*1024),
		},

		Timeouts: TimeoutConfig{
			LinkResolution: l.getEnvAsDuration("URL_PARSER_TIMEOUT", 10*time.Second),
			StorageUpload:  l.getEnvAsDuration("OSS_UPLOAD_TIMEOUT", 60*time.Second),
			Transcription:  l.getEnvAsDuration("ASR_TIMEOUT", 120*time.Second),
			Analysis:       l.getEnvAsDuration("LLM_TIMEOUT", 30*time.Second),
		},

		Monitoring: MonitoringConfig{
			SlowRequest:       l.getEnvAsDuration("SLOW_REQUEST_THRESHOLD", 30*time.Second),
			SlowTranscription: l.getEnvAsDuration("ASR_SLOW_THRESHOLD", 90*time.Second),
			SlowAnalysis:      l.getEnvAsDuration("LLM_SLOW_THRESHOLD", 20*time.Second),
		},

		Resolver: ResolverConfig{
			UserAgent: l.getEnv("RESOLVER_USER_AGENT",
				"Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1"),
			PageBaseURL: l.getEnv("RESOLVER_PAGE_BASE_URL", "https://www.iesdouyin.com"),
		},

		Storage: StorageConfig{
			AccessKeyID:     l.getEnv("ALIBABA_CLOUD_ACCESS_KEY_ID", ""),
			AccessKeySecret: l.getEnv("ALIBABA_CLOUD_ACCESS_KEY_SECRET", ""),
			Endpoint:        l.getEnv("OSS_ENDPOINT", "https://oss-cn-beijing.aliyuncs.com"),
			Region:          l.getEnv("OSS_REGION", "cn-beijing"),
			Bucket:          l.getEnv("OSS_BUCKET_NAME", "scriptparser-audio"),
			KeyPrefix:       l.getEnv("OSS_KEY_PREFIX", "audio"),
			PublicBaseURL:   l.getEnv("OSS_PUBLIC_BASE_URL", ""),
			PathStyle:       l.getEnvAsBool("OSS_PATH_STYLE", false),
		},

		Transcription: TranscriptionConfig{
			Backend:      strings.ToLower(strings.TrimSpace(l.getEnv("ASR_BACKEND", BackendDashScope))),
			PollInterval: l.getEnvAsDuration("ASR_POLL_INTERVAL", 3*time.Second),
			DashScope: DashScopeConfig{
				APIKey:           l.getEnv("DASHSCOPE_API_KEY", l.getEnv("ALIYUN_ASR_API_KEY", "")),
				BaseURL:          l.getEnv("DASHSCOPE_BASE_URL", "https://dashscope.aliyuncs.com"),
				Model:            l.getEnv("DASHSCOPE_MODEL", "paraformer-v2"),
				LanguageHints:    l.getEnvAsStringSlice("DASHSCOPE_LANGUAGE_HINTS", []string{"zh", "en"}),
				TechVocabularyID: l.getEnv("DASHSCOPE_TECH_VOCABULARY_ID", ""),
			},
			FileTrans: FileTransConfig{
				AccessKeyID:      l.getEnv("ALIYUN_ACCESS_KEY_ID", ""),
				AccessKeySecret:  l.getEnv("ALIYUN_ACCESS_KEY_SECRET", ""),
				AppKey:           l.getEnv("ALIYUN_NLS_APPKEY", ""),
				Region:           l.getEnv("ALIYUN_NLS_REGION", "cn-shanghai"),
				Endpoint:         l.getEnv("ALIYUN_NLS_ENDPOINT", ""),
				TechVocabularyID: l.getEnv("ALIYUN_TECH_HOTWORD_ID", ""),
			},
		},

		Analysis: AnalysisConfig{
			Primary:     strings.ToLower(strings.TrimSpace(l.getEnv("LLM_PRIMARY", ProviderDeepSeek))),
			Temperature: l.getEnvAsFloat("LLM_TEMPERATURE", 0.7),
			MaxTokens:   l.getEnvAsInt("LLM_MAX_TOKENS", 2000),
			DeepSeek: ProviderConfig{
				APIKey:  l.getEnv("DEEPSEEK_API_KEY", ""),
				BaseURL: l.getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1"),
				Model:   l.getEnv("DEEPSEEK_MODEL", "deepseek-chat"),
			},
			Kimi: ProviderConfig{
				APIKey:  l.getEnv("KIMI_API_KEY", ""),
				BaseURL: l.getEnv("KIMI_BASE_URL", "https://api.moonshot.cn/v1"),
				Model:   l.getEnv("KIMI_MODEL", "moonshot-v1-8k"),
			},
		},

		History: HistoryConfig{
			Path:           l.getEnv("HISTORY_DB_PATH", ""),
			MaxConnections: l.getEnvAsInt("HISTORY_DB_MAX_CONNECTIONS", 4),
		},

		Middleware: defaultDevConfig(),
	}

	if env == "production" {
		cfg.Middleware = defaultProdConfig()
	}

	return cfg
}

func (c *Config) Validate() error {
	if err := validatePaths(c); err != nil {
		return err
	}
	if err := validateTimeouts(c); err != nil {
		return err
	}
	if err := validateServices(c); err != nil {
		return err
	}
	return nil
}

func validatePaths(c *Config) error {
	if c.LogDir != "" {
		if err := os.MkdirAll(c.LogDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create log directory")
		}
	}
	if c.Files.TempDir == "" {
		return errors.New("temp directory is required")
	}
	// Uploaded media never needs to be readable by other users.
	if err := os.MkdirAll(c.Files.TempDir, 0700); err != nil {
		return errors.Wrap(err, "failed to create temp directory")
	}
	if c.History.Enabled() {
		if err := os.MkdirAll(filepath.Dir(c.History.Path), 0755); err != nil {
			return errors.Wrap(err, "failed to create history directory")
		}
	}
	return nil
}

func validateTimeouts(c *Config) error {
	if c.ReadTimeout <= 0 {
		return errors.New("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return errors.New("write timeout must be positive")
	}
	timeouts := []struct {
		value time.Duration
		name  string
	}{
		{c.Timeouts.LinkResolution, "link resolution timeout"},
		{c.Timeouts.StorageUpload, "storage upload timeout"},
		{c.Timeouts.Transcription, "transcription timeout"},
		{c.Timeouts.Analysis, "analysis timeout"},
		{c.Transcription.PollInterval, "transcription poll interval"},
	}
	for _, t := range timeouts {
		if t.value <= 0 {
			return errors.Errorf("%s must be positive", t.name)
		}
	}
	return nil
}

func validateServices(c *Config) error {
	if c.ServerPort == "" {
		return errors.New("server port is required")
	}
	if c.Files.MaxFileSize <= 0 {
		return errors.New("max file size must be positive")
	}
	switch c.Analysis.Primary {
	case ProviderDeepSeek, ProviderKimi:
	default:
		return errors.Errorf("unsupported primary analysis provider %q (supported: %s, %s)",
			c.Analysis.Primary, ProviderDeepSeek, ProviderKimi)
	}
	switch c.Transcription.Backend {
	case BackendDashScope, BackendFileTrans:
	default:
		return errors.Errorf("unsupported transcription backend %q (supported: %s, %s)",
			c.Transcription.Backend, BackendDashScope, BackendFileTrans)
	}
	return nil
}

// loader resolves a key from the process environment first and the overlay
// file second.
type loader struct {
	file map[string]string
}

func (l *loader) lookup(key string) (string, bool) {
	if value, exists := os.LookupEnv(key); exists {
		return value, true
	}
	value, exists := l.file[key]
	return value, exists
}

func (l *loader) getEnv(key, defaultValue string) string {
	if value, exists := l.lookup(key); exists {
		return value
	}
	return defaultValue
}

func (l *loader) getEnvAsInt(key string, defaultValue int) int {
	if value, exists := l.lookup(key); exists {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
		warnInvalid(key, value, defaultValue, "Invalid integer, using default")
	}
	return defaultValue
}

func (l *loader) getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := l.lookup(key); exists {
		if intVal, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intVal
		}
		warnInvalid(key, value, defaultValue, "Invalid integer, using default")
	}
	return defaultValue
}

func (l *loader) getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := l.lookup(key); exists {
		if floatVal, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return floatVal
		}
		warnInvalid(key, value, defaultValue, "Invalid number, using default")
	}
	return defaultValue
}

func (l *loader) getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := l.lookup(key); exists {
		if boolVal, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolVal
		}
		warnInvalid(key, value, defaultValue, "Invalid boolean, using default")
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") and bare seconds ("90").
func (l *loader) getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := l.lookup(key); exists {
		value = strings.TrimSpace(value)
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if seconds, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(seconds * float64(time.Second))
		}
		warnInvalid(key, value, defaultValue, "Invalid duration, using default")
	}
	return defaultValue
}

func (l *loader) getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value, exists := l.lookup(key); exists {
		if value = strings.TrimSpace(value); value != "" {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts
		}
	}
	return defaultValue
}

func warnInvalid(key, value string, defaultValue interface{}, msg string) {
	logrus.WithFields(logrus.Fields{
		"key":          key,
		"value":        value,
		"defaultValue": defaultValue,
	}).Warn(msg)
}

// readFile decodes a TOML file and flattens it into env-style keys:
// [llm] primary = "kimi" becomes LLM_PRIMARY=kimi.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}

	var tree map[string]interface{}
	if err := toml.Unmarshal(data, &tree); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}

	values := make(map[string]string)
	flatten("", tree, values)
	return values, nil
}

func flatten(prefix string, tree map[string]interface{}, out map[string]string) {
	for key, value := range tree {
		name := strings.ToUpper(key)
		if prefix != "" {
			name = prefix + "_" + name
		}
		switch v := value.(type) {
		case map[string]interface{}:
			flatten(name, v, out)
		case []interface{}:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			out[name] = strings.Join(parts, ",")
		default:
			out[name] = fmt.Sprint(v)
		}
	}
}
