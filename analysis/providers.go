package analysis

import (
	"net/http"
	"time"

	"github.com/nijaru/scriptparser/config"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	deepSeekName = "DeepSeek"
	kimiName     = "Kimi"
)

func NewDeepSeek(provider config.ProviderConfig, shared config.AnalysisConfig, opts ...Option) (*Client, error) {
	return NewClient(clientConfig(deepSeekName, provider, shared), opts...)
}

func NewKimi(provider config.ProviderConfig, shared config.AnalysisConfig, opts ...Option) (*Client, error) {
	return NewClient(clientConfig(kimiName, provider, shared), opts...)
}

func clientConfig(name string, provider config.ProviderConfig, shared config.AnalysisConfig) Config {
	return Config{
		Name:        name,
		APIKey:      provider.APIKey,
		BaseURL:     provider.BaseURL,
		Model:       provider.Model,
		Temperature: shared.Temperature,
		MaxTokens:   shared.MaxTokens,
	}
}

// NewFromConfig builds a router per analysis mode, each with both providers
// ordered by cfg.Primary. Both providers must be fully configured.
func NewFromConfig(cfg config.AnalysisConfig, client *http.Client, logger *logrus.Logger, timeout time.Duration) (*Modes, error) {
	general, err := newRouter(cfg, SystemPrompt, client, logger, timeout)
	if err != nil {
		return nil, err
	}
	tech, err := newRouter(cfg, TechSystemPrompt, client, logger, timeout)
	if err != nil {
		return nil, err
	}
	return NewModes(general, tech), nil
}

func newRouter(cfg config.AnalysisConfig, prompt string, client *http.Client, logger *logrus.Logger, timeout time.Duration) (*Router, error) {
	opts := []Option{WithHTTPClient(client), WithSystemPrompt(prompt)}
	deepSeek, err := NewDeepSeek(cfg.DeepSeek, cfg, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "init DeepSeek provider")
	}
	kimi, err := NewKimi(cfg.Kimi, cfg, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "init Kimi provider")
	}

	primary := Named{Name: deepSeek.Name(), Provider: deepSeek}
	backup := Named{Name: kimi.Name(), Provider: kimi}
	switch cfg.Primary {
	case config.ProviderDeepSeek, "":
	case config.ProviderKimi:
		primary, backup = backup, primary
	default:
		return nil, errors.Errorf("unsupported primary analysis provider %q", cfg.Primary)
	}

	return NewRouter(primary, backup, WithLogger(logger), WithTimeout(timeout)), nil
}
