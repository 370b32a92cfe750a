// Package workflow runs one parse request end to end: link resolution or
// upload, transcription, analysis and response assembly. Every exit path
// removes the request's temporary file and yields exactly one envelope.
package workflow

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"time"

	"github.com/nijaru/scriptparser/config"
	apperrors "github.com/nijaru/scriptparser/errors"
	"github.com/nijaru/scriptparser/logger"
	"github.com/nijaru/scriptparser/models"
	"github.com/nijaru/scriptparser/tempfile"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var errNotConfigured = errors.New("service not configured")

type Resolver interface {
	Resolve(ctx context.Context, text string) (*models.VideoDescriptor, error)
}

type Uploader interface {
	Upload(ctx context.Context, path, name string) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, mediaURL string, mode models.AnalysisMode) (string, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, text string, mode models.AnalysisMode) (*models.StructuredAnalysis, error)
}

// TempStore owns request-scoped files on local disk.
type TempStore interface {
	Store(r io.Reader, originalName string) (*tempfile.Handle, error)
	Cleanup(h *tempfile.Handle)
}

// Builders construct the service handles on first use.
type Builders struct {
	Resolver    func(ctx context.Context) (Resolver, error)
	Uploader    func(ctx context.Context) (Uploader, error)
	Transcriber func(ctx context.Context) (Transcriber, error)
	Analyzer    func(ctx context.Context) (Analyzer, error)
}

// FileUpload is an uploaded file as received from the client.
type FileUpload struct {
	Name   string
	Size   int64
	Reader io.Reader
}

// Input carries either a share text with a link or an uploaded file. The file
// wins when both are set. An empty Mode means general.
type Input struct {
	URL  string
	File *FileUpload
	Mode models.AnalysisMode
}

type Orchestrator struct {
	timeouts   config.TimeoutConfig
	monitoring config.MonitoringConfig
	temp       TempStore
	logger     *logrus.Logger

	resolver    *lazy[Resolver]
	uploader    *lazy[Uploader]
	transcriber *lazy[Transcriber]
	analyzer    *lazy[Analyzer]
}

type Option func(*Orchestrator)

func WithLogger(l *logrus.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func New(timeouts config.TimeoutConfig, monitoring config.MonitoringConfig, temp TempStore, b Builders, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		timeouts:    timeouts,
		monitoring:  monitoring,
		temp:        temp,
		logger:      logrus.StandardLogger(),
		resolver:    newLazy(b.Resolver),
		uploader:    newLazy(b.Uploader),
		transcriber: newLazy(b.Transcriber),
		analyzer:    newLazy(b.Analyzer),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs the pipeline for in and returns the envelope with its HTTP
// status. It never panics and never leaves a temporary file behind.
func (o *Orchestrator) Process(ctx context.Context, in Input) (result models.WorkflowResult, status int) {
	started := time.Now()
	log := logger.FromContext(ctx, o.logger)
	var handle *tempfile.Handle

	defer func() {
		if rec := recover(); rec != nil {
			log.WithFields(logrus.Fields{
				"panic": rec,
				"stack": string(debug.Stack()),
			}).Error("Workflow panicked")
			result, status = Fail(apperrors.E(apperrors.KindUnknown, "Orchestrator.Process", fmt.Errorf("panic: %v", rec), "unexpected panic"), started)
		}
		if handle != nil {
			o.temp.Cleanup(handle)
		}

		d := time.Since(started)
		fields := logrus.Fields{"code": result.Code, "duration": d}
		if o.monitoring.SlowRequest > 0 && d > o.monitoring.SlowRequest {
			log.WithFields(fields).Warn("Slow parse request")
		} else {
			log.WithFields(fields).Info("Parse request finished")
		}
	}()

	data, err := o.run(ctx, log, in, &handle)
	if err != nil {
		log.WithFields(logrus.Fields{
			"kind": apperrors.KindOf(err).String(),
			"op":   apperrors.OpOf(err),
		}).WithError(err).Error("Parse request failed")
		return Fail(err, started)
	}
	return succeed(data, started)
}

func (o *Orchestrator) run(ctx context.Context, log *logrus.Entry, in Input, handle **tempfile.Handle) (*models.ResultData, error) {
	const op = "Orchestrator.run"

	mode := in.Mode
	if mode == "" {
		mode = models.ModeGeneral
	}
	log = log.WithField("mode", mode)

	switch {
	case in.File != nil:
		if strings.TrimSpace(in.URL) != "" {
			log.Info("Both url and file provided, using the file")
		}
		return o.processFile(ctx, log, in.File, mode, handle)
	case strings.TrimSpace(in.URL) != "":
		return o.processLink(ctx, log, in.URL, mode)
	default:
		return nil, apperrors.MissingInput(op, nil, "neither url nor file provided")
	}
}

func (o *Orchestrator) processLink(ctx context.Context, log *logrus.Entry, text string, mode models.AnalysisMode) (*models.ResultData, error) {
	const op = "Orchestrator.processLink"

	resolver, err := o.resolver.get(ctx)
	if err != nil {
		return nil, apperrors.ServiceInitialization(op, err, "link resolver unavailable")
	}

	stageCtx, cancel := withTimeout(ctx, o.timeouts.LinkResolution)
	start := time.Now()
	desc, err := resolver.Resolve(stageCtx, text)
	cancel()
	if err != nil {
		return nil, stageError(apperrors.KindLinkResolutionFailed, op, err, "link resolution failed")
	}
	log.WithFields(logrus.Fields{
		"platform": desc.Platform,
		"video_id": desc.VideoID,
		"duration": time.Since(start),
	}).Info("Resolved video link")

	transcript, analysis, err := o.transcribeAndAnalyze(ctx, log, desc.MediaURL, mode)
	if err != nil {
		return nil, err
	}
	return &models.ResultData{
		Transcript: transcript,
		Analysis:   *analysis,
		SourceInfo: models.SourceInfo{Kind: models.SourceVideo, Video: desc},
	}, nil
}

func (o *Orchestrator) processFile(ctx context.Context, log *logrus.Entry, upload *FileUpload, mode models.AnalysisMode, handle **tempfile.Handle) (*models.ResultData, error) {
	const op = "Orchestrator.processFile"

	if upload.Reader == nil {
		return nil, apperrors.MissingInput(op, nil, "file has no content")
	}

	h, err := o.temp.Store(upload.Reader, upload.Name)
	if err != nil {
		return nil, stageError(apperrors.KindFileHandlingFailed, op, err, "failed to store upload")
	}
	*handle = h

	uploader, err := o.uploader.get(ctx)
	if err != nil {
		return nil, apperrors.ServiceInitialization(op, err, "storage client unavailable")
	}

	stageCtx, cancel := withTimeout(ctx, o.timeouts.StorageUpload)
	start := time.Now()
	remoteURL, err := uploader.Upload(stageCtx, h.Path, h.OriginalName)
	cancel()
	if err != nil {
		return nil, stageError(apperrors.KindStorageUploadFailed, op, err, "upload failed")
	}
	log.WithFields(logrus.Fields{
		"size":     h.Size,
		"duration": time.Since(start),
	}).Info("Uploaded file for transcription")

	transcript, analysis, err := o.transcribeAndAnalyze(ctx, log, remoteURL, mode)
	if err != nil {
		return nil, err
	}
	return &models.ResultData{
		Transcript: transcript,
		Analysis:   *analysis,
		SourceInfo: models.SourceInfo{
			Kind: models.SourceFile,
			File: &models.FileInfo{
				OriginalName: upload.Name,
				SizeBytes:    h.Size,
				RemoteURL:    remoteURL,
			},
		},
	}, nil
}

func (o *Orchestrator) transcribeAndAnalyze(ctx context.Context, log *logrus.Entry, mediaURL string, mode models.AnalysisMode) (string, *models.StructuredAnalysis, error) {
	const op = "Orchestrator.transcribeAndAnalyze"

	transcriber, err := o.transcriber.get(ctx)
	if err != nil {
		return "", nil, apperrors.ServiceInitialization(op, err, "transcription client unavailable")
	}
	analyzer, err := o.analyzer.get(ctx)
	if err != nil {
		return "", nil, apperrors.ServiceInitialization(op, err, "analysis router unavailable")
	}

	stageCtx, cancel := withTimeout(ctx, o.timeouts.Transcription)
	start := time.Now()
	transcript, err := transcriber.Transcribe(stageCtx, mediaURL, mode)
	cancel()
	if err == nil && strings.TrimSpace(transcript) == "" {
		err = errors.New("empty transcript")
	}
	if err != nil {
		return "", nil, stageError(apperrors.KindTranscriptionFailed, op, err, "transcription failed")
	}
	o.logStage(log, "transcription", time.Since(start), o.monitoring.SlowTranscription,
		logrus.Fields{"chars": len([]rune(transcript))})

	// The router bounds each provider call by the analysis timeout, so the
	// stage allows for the primary and the backup.
	stageCtx, cancel = withTimeout(ctx, 2*o.timeouts.Analysis)
	start = time.Now()
	analysis, err := analyzer.Analyze(stageCtx, transcript, mode)
	cancel()
	if err == nil && !analysis.Complete() {
		err = errors.New("incomplete analysis")
	}
	if err != nil {
		return "", nil, stageError(apperrors.KindAnalysisFailed, op, err, "analysis failed")
	}
	o.logStage(log, "analysis", time.Since(start), o.monitoring.SlowAnalysis, nil)

	return transcript, analysis, nil
}

func (o *Orchestrator) logStage(log *logrus.Entry, stage string, d, slow time.Duration, fields logrus.Fields) {
	entry := log.WithFields(fields).WithFields(logrus.Fields{"stage": stage, "duration": d})
	if slow > 0 && d > slow {
		entry.WithField("threshold", slow).Warn("Slow stage")
		return
	}
	entry.Info("Stage finished")
}

// stageError keeps the kind of an error that already carries one and assigns
// the stage's kind otherwise. Timeouts are reported as the stage's failure.
func stageError(kind apperrors.Kind, op string, err error, message string) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		message += " (timed out)"
	}
	return apperrors.E(kind, op, err, message)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
