package analysis

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/nijaru/scriptparser/errors"
	"github.com/nijaru/scriptparser/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Provider is the capability every analysis backend offers.
type Provider interface {
	Analyze(ctx context.Context, text string) (*models.StructuredAnalysis, error)
}

// Named pairs a provider with the name used in logs and diagnostics.
type Named struct {
	Name     string
	Provider Provider
}

// FailoverError carries both causes when every provider failed.
type FailoverError struct {
	Primary    string
	PrimaryErr error
	Backup     string
	BackupErr  error
}

func (e *FailoverError) Error() string {
	return fmt.Sprintf("All analysis providers failed.\nPrimary (%s) error: %v\nBackup (%s) error: %v",
		e.Primary, e.PrimaryErr, e.Backup, e.BackupErr)
}

func (e *FailoverError) Unwrap() []error {
	return []error{e.PrimaryErr, e.BackupErr}
}

// Router tries the primary provider and falls back to the backup once. It
// keeps no state between calls, so every request starts at the primary.
type Router struct {
	primary Named
	backup  Named
	timeout time.Duration
	logger  *logrus.Logger
}

type RouterOption func(*Router)

// WithTimeout bounds each provider call separately.
func WithTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		r.timeout = d
	}
}

func WithLogger(logger *logrus.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func NewRouter(primary, backup Named, opts ...RouterOption) *Router {
	r := &Router{
		primary: primary,
		backup:  backup,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Analyze(ctx context.Context, text string) (*models.StructuredAnalysis, error) {
	const op = "Router.Analyze"

	result, primaryErr := r.call(ctx, r.primary, text)
	if primaryErr == nil {
		return result, nil
	}
	r.logger.WithError(primaryErr).WithField("provider", r.primary.Name).Warn("Primary analysis provider failed, trying backup")

	result, backupErr := r.call(ctx, r.backup, text)
	if backupErr == nil {
		r.logger.WithField("provider", r.backup.Name).Info("Backup analysis provider succeeded")
		return result, nil
	}
	r.logger.WithError(backupErr).WithField("provider", r.backup.Name).Error("Backup analysis provider failed")

	return nil, apperrors.Analysis(op, &FailoverError{
		Primary:    r.primary.Name,
		PrimaryErr: primaryErr,
		Backup:     r.backup.Name,
		BackupErr:  backupErr,
	}, "all analysis providers failed")
}

func (r *Router) call(ctx context.Context, p Named, text string) (*models.StructuredAnalysis, error) {
	if p.Provider == nil {
		return nil, errors.Errorf("%s: provider not configured", p.Name)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := p.Provider.Analyze(ctx, text)
	if err == nil && !result.Complete() {
		err = errors.Wrapf(ErrIncomplete, "%s", p.Name)
	}
	r.logger.WithFields(logrus.Fields{
		"provider": p.Name,
		"duration": time.Since(start),
		"ok":       err == nil,
	}).Debug("Analysis provider call finished")
	if err != nil {
		return nil, err
	}
	return result, nil
}
