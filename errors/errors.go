package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a failure. The set is closed: every failure that leaves a
// component carries exactly one of these.
type Kind int

const (
	KindUnknown Kind = iota
	KindMissingInput
	KindValidationFailed
	KindLinkResolutionFailed
	KindUnsupportedPlatform
	KindFileHandlingFailed
	KindStorageUploadFailed
	KindTranscriptionFailed
	KindAnalysisFailed
	KindServiceInitializationFailed
)

func (k Kind) String() string {
	switch k {
	case KindMissingInput:
		return "missing_input"
	case KindValidationFailed:
		return "validation_failed"
	case KindLinkResolutionFailed:
		return "link_resolution_failed"
	case KindUnsupportedPlatform:
		return "unsupported_platform"
	case KindFileHandlingFailed:
		return "file_handling_failed"
	case KindStorageUploadFailed:
		return "storage_upload_failed"
	case KindTranscriptionFailed:
		return "transcription_failed"
	case KindAnalysisFailed:
		return "analysis_failed"
	case KindServiceInitializationFailed:
		return "service_initialization_failed"
	default:
		return "unknown"
	}
}

// AppError is the failure record passed between components. Message is a
// diagnostic detail; it is logged, never sent to clients.
type AppError struct {
	Kind    Kind
	Message string
	Op      string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func E(kind Kind, op string, err error, message string) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Op:      op,
		Err:     err,
	}
}

func MissingInput(op string, err error, message string) *AppError {
	return E(KindMissingInput, op, err, message)
}

func ValidationFailed(op string, err error, message string) *AppError {
	return E(KindValidationFailed, op, err, message)
}

func LinkResolution(op string, err error, message string) *AppError {
	return E(KindLinkResolutionFailed, op, err, message)
}

func UnsupportedPlatform(op string, err error, message string) *AppError {
	return E(KindUnsupportedPlatform, op, err, message)
}

func FileHandling(op string, err error, message string) *AppError {
	return E(KindFileHandlingFailed, op, err, message)
}

func StorageUpload(op string, err error, message string) *AppError {
	return E(KindStorageUploadFailed, op, err, message)
}

func Transcription(op string, err error, message string) *AppError {
	return E(KindTranscriptionFailed, op, err, message)
}

func Analysis(op string, err error, message string) *AppError {
	return E(KindAnalysisFailed, op, err, message)
}

func ServiceInitialization(op string, err error, message string) *AppError {
	return E(KindServiceInitializationFailed, op, err, message)
}

// KindOf reports the kind of the outermost AppError in err's chain.
func KindOf(err error) Kind {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// OpOf returns the operation recorded on the outermost AppError, if any.
func OpOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Op
	}
	return ""
}
