package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nijaru/scriptparser/db"
	apperrors "github.com/nijaru/scriptparser/errors"
	"github.com/nijaru/scriptparser/middleware"
	"github.com/nijaru/scriptparser/models"
	"github.com/nijaru/scriptparser/utils"
	"github.com/nijaru/scriptparser/validation"
	"github.com/nijaru/scriptparser/workflow"
	"github.com/sirupsen/logrus"
)

const (
	msgInvalidJSON = "Invalid JSON format in request body"
	msgFormURL     = "URL should be sent as JSON, not form data"
	msgTooLarge    = "File exceeds the maximum allowed size"

	// multipart parts beyond this stay on disk until RemoveAll.
	multipartMemory = 8 << 20

	historyTimeout = 2 * time.Second
)

type ParseHandler struct {
	processor Processor
	validator *validation.Validator
	history   HistoryStore
	logger    *logrus.Logger
}

func NewParseHandler(processor Processor, validator *validation.Validator, history HistoryStore, logger *logrus.Logger) *ParseHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ParseHandler{
		processor: processor,
		validator: validator,
		history:   history,
		logger:    logger,
	}
}

// HandleParse handles POST /parse. The body is either JSON {"url": "..."}
// or multipart form data carrying a "file" part. Both may name an
// analysis_mode.
func (h *ParseHandler) HandleParse(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	log := middleware.GetLogger(r.Context())

	if err := h.validator.ValidateRequest(r, validation.RequestValidationOpts{
		MaxContentLength: h.validator.MaxRequestBody(),
		AllowedMethods:   []string{http.MethodPost},
	}); err != nil {
		h.reject(w, r, log, err, started)
		return
	}

	in, cleanup, err := h.readInput(w, r)
	defer cleanup()
	if err != nil {
		h.reject(w, r, log, err, started)
		return
	}

	if in.File == nil && in.URL != "" {
		if err := h.validator.ValidateURL(in.URL); err != nil {
			h.reject(w, r, log, err, started)
			return
		}
	}

	result, status := h.processor.Process(r.Context(), in)
	h.record(r, log, sourceOf(in), result, started)
	utils.WriteJSON(w, status, result)
}

func (h *ParseHandler) reject(w http.ResponseWriter, r *http.Request, log *logrus.Entry, err error, started time.Time) {
	log.WithFields(logrus.Fields{
		"kind": apperrors.KindOf(err).String(),
		"op":   apperrors.OpOf(err),
	}).WithError(err).Warn("Rejected parse request")

	result, status := workflow.Fail(err, started)
	h.record(r, log, "none", result, started)
	utils.WriteJSON(w, status, result)
}

func (h *ParseHandler) record(r *http.Request, log *logrus.Entry, source string, result models.WorkflowResult, started time.Time) {
	if h.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), historyTimeout)
	defer cancel()

	err := h.history.Record(ctx, db.Entry{
		RequestID: middleware.GetRequestID(r.Context()),
		Source:    source,
		Code:      result.Code,
		Success:   result.Success,
		Duration:  time.Since(started),
	})
	if err != nil {
		log.WithError(err).Warn("Failed to record request history")
	}
}

func sourceOf(in workflow.Input) string {
	switch {
	case in.File != nil:
		return string(models.SourceFile)
	case strings.TrimSpace(in.URL) != "":
		return string(models.SourceVideo)
	default:
		return "none"
	}
}

// readInput decodes the request body by content type. Anything other than
// JSON, multipart or urlencoded yields an empty input.
func (h *ParseHandler) readInput(w http.ResponseWriter, r *http.Request) (workflow.Input, func(), error) {
	const op = "ParseHandler.readInput"
	noop := func() {}

	switch validation.MediaType(r) {
	case validation.ContentTypeJSON:
		in, err := h.readJSON(w, r)
		return in, noop, err

	case validation.ContentTypeMultipart:
		return h.readMultipart(w, r)

	case validation.ContentTypeForm:
		r.Body = http.MaxBytesReader(w, r.Body, h.validator.MaxJSONBody())
		if err := r.ParseForm(); err != nil {
			return workflow.Input{}, noop, apperrors.ValidationFailed(op, err, "Invalid form body")
		}
		if r.PostForm.Has("url") {
			return workflow.Input{}, noop, apperrors.ValidationFailed(op, nil, msgFormURL)
		}
		return workflow.Input{}, noop, nil

	default:
		return workflow.Input{}, noop, nil
	}
}

func (h *ParseHandler) readJSON(w http.ResponseWriter, r *http.Request) (workflow.Input, error) {
	const op = "ParseHandler.readJSON"

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.validator.MaxJSONBody()))
	if err != nil {
		var maxErr *http.MaxBytesError
		if stderrors.As(err, &maxErr) {
			return workflow.Input{}, apperrors.ValidationFailed(op, err, "Request body is too large")
		}
		return workflow.Input{}, apperrors.ValidationFailed(op, err, "Failed to read request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return workflow.Input{}, nil
	}

	var req models.ParseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if stderrors.As(err, &typeErr) && (typeErr.Field == "url" || typeErr.Field == "analysis_mode") {
			return workflow.Input{}, apperrors.ValidationFailed(op, err, fmt.Sprintf("Field '%s' must be a string", typeErr.Field))
		}
		return workflow.Input{}, apperrors.ValidationFailed(op, err, msgInvalidJSON)
	}

	mode, err := validation.ParseMode(req.AnalysisMode)
	if err != nil {
		return workflow.Input{}, err
	}
	return workflow.Input{URL: strings.TrimSpace(req.URL), Mode: mode}, nil
}

func (h *ParseHandler) readMultipart(w http.ResponseWriter, r *http.Request) (workflow.Input, func(), error) {
	const op = "ParseHandler.readMultipart"
	noop := func() {}

	r.Body = http.MaxBytesReader(w, r.Body, h.validator.MaxRequestBody())
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case stderrors.As(err, &maxErr):
			return workflow.Input{}, noop, apperrors.ValidationFailed(op, err, msgTooLarge)
		case stderrors.Is(err, io.EOF):
			// An empty multipart body carries no input at all.
			return workflow.Input{}, noop, nil
		default:
			return workflow.Input{}, noop, apperrors.ValidationFailed(op, err, "Invalid multipart form body")
		}
	}
	cleanup := func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.WithError(err).Warn("Failed to remove multipart temp files")
		}
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		if _, ok := r.MultipartForm.Value["url"]; ok {
			return workflow.Input{}, cleanup, apperrors.ValidationFailed(op, nil, msgFormURL)
		}
		return workflow.Input{}, cleanup, nil
	}

	var rawMode string
	if values := r.MultipartForm.Value["analysis_mode"]; len(values) > 0 {
		rawMode = values[0]
	}
	mode, err := validation.ParseMode(rawMode)
	if err != nil {
		return workflow.Input{}, cleanup, err
	}

	header := files[0]
	if err := h.validator.ValidateUpload(header); err != nil {
		return workflow.Input{}, cleanup, err
	}

	f, err := header.Open()
	if err != nil {
		return workflow.Input{}, cleanup, apperrors.FileHandling(op, err, "failed to open uploaded file")
	}
	closeAll := func() {
		f.Close()
		cleanup()
	}

	in := workflow.Input{
		Mode: mode,
		File: &workflow.FileUpload{
			Name:   header.Filename,
			Size:   header.Size,
			Reader: f,
		},
	}
	if values := r.MultipartForm.Value["url"]; len(values) > 0 {
		in.URL = strings.TrimSpace(values[0])
	}
	return in, closeAll, nil
}
