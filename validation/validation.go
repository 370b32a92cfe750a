package validation

import (
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/nijaru/scriptparser/config"
	apperrors "github.com/nijaru/scriptparser/errors"
	"github.com/nijaru/scriptparser/models"
)

const maxShareTextLength = 4096

const (
	ContentTypeJSON      = "application/json"
	ContentTypeMultipart = "multipart/form-data"
	ContentTypeForm      = "application/x-www-form-urlencoded"
)

type Validator struct {
	maxFileSize int64
	maxJSONBody int64
}

func NewValidator(cfg config.FilesConfig) *Validator {
	return &Validator{maxFileSize: cfg.MaxFileSize, maxJSONBody: cfg.MaxJSONBody}
}

// RequestValidationOpts holds options for request validation
type RequestValidationOpts struct {
	MaxContentLength int64
	AllowedMethods   []string
}

// ValidateRequest checks the method and declared length of r.
func (v *Validator) ValidateRequest(r *http.Request, opts RequestValidationOpts) error {
	const op = "Validator.ValidateRequest"

	if len(opts.AllowedMethods) > 0 {
		allowed := false
		for _, method := range opts.AllowedMethods {
			if r.Method == method {
				allowed = true
				break
			}
		}
		if !allowed {
			return apperrors.ValidationFailed(op, nil, fmt.Sprintf("Method %s not allowed", r.Method))
		}
	}

	if opts.MaxContentLength > 0 && r.ContentLength > opts.MaxContentLength {
		return apperrors.ValidationFailed(op, nil, "Request body too large")
	}

	return nil
}

// MaxRequestBody is the largest body a parse request may carry: one file at
// the size limit plus room for multipart framing.
func (v *Validator) MaxRequestBody() int64 {
	return v.maxFileSize + 1<<20
}

func (v *Validator) MaxJSONBody() int64 {
	return v.maxJSONBody
}

func (v *Validator) MaxFileSize() int64 {
	return v.maxFileSize
}

// ValidateURL checks the share text sent as "url". Finding and recognising
// the link inside it is left to link resolution.
func (v *Validator) ValidateURL(text string) error {
	const op = "Validator.ValidateURL"

	text = strings.TrimSpace(text)
	if text == "" {
		return apperrors.MissingInput(op, nil, "url is empty")
	}
	if !utf8.ValidString(text) {
		return apperrors.ValidationFailed(op, nil, "URL must be valid UTF-8 text")
	}
	if len(text) > maxShareTextLength {
		return apperrors.ValidationFailed(op, nil, "URL text is too long")
	}
	return nil
}

// ParseMode maps the optional analysis_mode field to a mode. Blank means
// general.
func ParseMode(raw string) (models.AnalysisMode, error) {
	const op = "validation.ParseMode"

	switch mode := models.AnalysisMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return models.ModeGeneral, nil
	case models.ModeGeneral, models.ModeTech:
		return mode, nil
	default:
		return "", apperrors.ValidationFailed(op, nil, "analysis_mode must be 'general' or 'tech'")
	}
}

// ValidateUpload checks an uploaded file's header before it is read.
func (v *Validator) ValidateUpload(header *multipart.FileHeader) error {
	const op = "Validator.ValidateUpload"

	if header == nil {
		return apperrors.MissingInput(op, nil, "no file part")
	}
	if strings.TrimSpace(header.Filename) == "" {
		return apperrors.ValidationFailed(op, nil, "Uploaded file must have a filename")
	}
	if header.Size == 0 {
		return apperrors.ValidationFailed(op, nil, "Uploaded file is empty")
	}
	if v.maxFileSize > 0 && header.Size > v.maxFileSize {
		return apperrors.ValidationFailed(op, nil, "File exceeds the maximum allowed size")
	}
	return nil
}

// MediaType returns the lower-cased media type of r without parameters.
func MediaType(r *http.Request) string {
	raw := r.Header.Get("Content-Type")
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(raw, ";", 2)[0]))
	}
	return mediaType
}
