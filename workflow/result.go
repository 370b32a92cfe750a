package workflow

import (
	stderrors "errors"
	"math"
	"net/http"
	"time"

	apperrors "github.com/nijaru/scriptparser/errors"
	"github.com/nijaru/scriptparser/models"
)

const (
	CodeSuccess               = 0
	CodeMissingInput          = 4000
	CodeLinkResolution        = 4001
	CodeValidation            = 4002
	CodeUnsupportedPlatform   = 4003
	CodeTranscription         = 5001
	CodeAnalysis              = 5002
	CodeFileHandling          = 5003
	CodeStorageUpload         = 5004
	CodeServiceInitialization = 5005
	CodeUnknown               = 9999

	// CodeRateLimited is set by the rate limiter before a request reaches
	// the workflow. It mirrors the HTTP status.
	CodeRateLimited = 429

	MessageSuccess     = "Processing completed successfully"
	MessageRateLimited = "Rate limit exceeded"
)

// Response is the external triple a failure kind maps to.
type Response struct {
	Status  int
	Code    int
	Message string
}

// Classify maps err to its response. It is the only place where failure kinds
// become HTTP statuses, business codes and public messages.
func Classify(err error) Response {
	switch apperrors.KindOf(err) {
	case apperrors.KindMissingInput:
		return Response{http.StatusBadRequest, CodeMissingInput, "Either URL or file must be provided"}
	case apperrors.KindValidationFailed:
		return Response{http.StatusUnprocessableEntity, CodeValidation, validationMessage(err)}
	case apperrors.KindLinkResolutionFailed:
		return Response{http.StatusBadRequest, CodeLinkResolution, "Failed to parse video URL"}
	case apperrors.KindUnsupportedPlatform:
		return Response{http.StatusNotImplemented, CodeUnsupportedPlatform, "Video platform is not supported yet"}
	case apperrors.KindFileHandlingFailed:
		return Response{http.StatusInternalServerError, CodeFileHandling, "File processing error"}
	case apperrors.KindStorageUploadFailed:
		return Response{http.StatusServiceUnavailable, CodeStorageUpload, "OSS service is temporarily unavailable"}
	case apperrors.KindTranscriptionFailed:
		return Response{http.StatusServiceUnavailable, CodeTranscription, "ASR service is temporarily unavailable"}
	case apperrors.KindAnalysisFailed:
		return Response{http.StatusBadGateway, CodeAnalysis, "LLM service error occurred"}
	case apperrors.KindServiceInitializationFailed:
		return Response{http.StatusInternalServerError, CodeServiceInitialization, "Service initialization failed"}
	case apperrors.KindUnknown:
		fallthrough
	default:
		return Response{http.StatusInternalServerError, CodeUnknown, "An internal server error occurred"}
	}
}

// Validation messages describe the client's own input, so they are safe to
// return verbatim.
func validationMessage(err error) string {
	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "Request validation failed"
}

// Fail builds the failure envelope for err.
func Fail(err error, started time.Time) (models.WorkflowResult, int) {
	resp := Classify(err)
	return models.WorkflowResult{
		Code:           resp.Code,
		Success:        false,
		Data:           nil,
		Message:        resp.Message,
		ProcessingTime: elapsed(started),
	}, resp.Status
}

func succeed(data *models.ResultData, started time.Time) (models.WorkflowResult, int) {
	return models.WorkflowResult{
		Code:           CodeSuccess,
		Success:        true,
		Data:           data,
		Message:        MessageSuccess,
		ProcessingTime: elapsed(started),
	}, http.StatusOK
}

func elapsed(started time.Time) float64 {
	return math.Round(time.Since(started).Seconds()*1000) / 1000
}
