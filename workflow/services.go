package workflow

import (
	"context"
	"net/http"

	"github.com/nijaru/scriptparser/analysis"
	"github.com/nijaru/scriptparser/config"
	"github.com/nijaru/scriptparser/resolver"
	"github.com/nijaru/scriptparser/storage"
	"github.com/nijaru/scriptparser/tempfile"
	"github.com/nijaru/scriptparser/transcription"
	"github.com/sirupsen/logrus"
)

// NewFromConfig wires the production services behind an orchestrator.
// Nothing is dialled until the first request needs it.
func NewFromConfig(cfg *config.Config, log *logrus.Logger) *Orchestrator {
	client := &http.Client{}

	builders := Builders{
		Resolver: func(ctx context.Context) (Resolver, error) {
			return resolver.New(client, cfg.Resolver, resolver.WithLogger(log)), nil
		},
		Uploader: func(ctx context.Context) (Uploader, error) {
			return storage.NewClient(ctx, cfg.Storage, storage.WithLogger(log))
		},
		Transcriber: func(ctx context.Context) (Transcriber, error) {
			return transcription.New(cfg.Transcription, transcription.Options{
				HTTPClient:   client,
				Logger:       log,
				PollInterval: cfg.Transcription.PollInterval,
				MaxWait:      cfg.Timeouts.Transcription,
			})
		},
		Analyzer: func(ctx context.Context) (Analyzer, error) {
			return analysis.NewFromConfig(cfg.Analysis, client, log, cfg.Timeouts.Analysis)
		},
	}

	temp := tempfile.NewManager(cfg.Files.TempDir, cfg.Files.MaxFileSize, log)
	return New(cfg.Timeouts, cfg.Monitoring, temp, builders, WithLogger(log))
}
