package transcription

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nijaru/scriptparser/config"
	"github.com/nijaru/scriptparser/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Transcriber turns a publicly fetchable media URL into text. The analysis
// mode selects the hot-word vocabulary where a backend supports one.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaURL string, mode models.AnalysisMode) (string, error)
}

var (
	_ Transcriber = (*DashScope)(nil)
	_ Transcriber = (*FileTrans)(nil)
)

// errPending tells the poller the task has not reached a terminal state.
var errPending = errors.New("task still running")

// Options shared by every backend.
type Options struct {
	HTTPClient   *http.Client
	Logger       *logrus.Logger
	PollInterval time.Duration
	// MaxWait bounds the whole polling loop. Zero leaves it to the context.
	MaxWait time.Duration
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	return o
}

// New builds the backend selected by cfg.Backend.
func New(cfg config.TranscriptionConfig, opts Options) (Transcriber, error) {
	switch cfg.Backend {
	case config.BackendDashScope, "":
		return NewDashScope(cfg.DashScope, opts)
	case config.BackendFileTrans:
		return NewFileTrans(cfg.FileTrans, opts)
	default:
		return nil, errors.Errorf("unsupported transcription backend %q", cfg.Backend)
	}
}

// vocabularyFor returns the hot-word list to send for mode. Only tech mode
// uses one.
func vocabularyFor(mode models.AnalysisMode, techVocabularyID string) string {
	if mode == models.ModeTech {
		return techVocabularyID
	}
	return ""
}

// poll calls check until it reports done or the context ends. Only errPending
// schedules another status check; any other error ends the loop at once.
func poll(ctx context.Context, opts Options, check func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.PollInterval
	b.RandomizationFactor = 0.1
	b.Multiplier = 1.5
	b.MaxInterval = 4 * opts.PollInterval
	b.MaxElapsedTime = opts.MaxWait

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := check(ctx)
		if err == nil || errors.Is(err, errPending) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		if errors.Is(err, errPending) {
			return errors.Errorf("transcription did not finish after %d status checks", attempts)
		}
		return errors.Wrapf(err, "status check %d", attempts)
	}
	return nil
}
