package tempfile

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	apperrors "github.com/nijaru/scriptparser/errors"
	"github.com/sirupsen/logrus"
)

// Handle is a request-scoped uploaded file on local disk.
type Handle struct {
	Path         string
	OriginalName string
	Size         int64
}

// Manager owns the temporary upload directory.
type Manager struct {
	dir     string
	maxSize int64
	logger  *logrus.Logger
}

var extPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,8}$`)

func NewManager(dir string, maxSize int64, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{dir: dir, maxSize: maxSize, logger: logger}
}

// Store copies r into a new file under a random name. The caller's filename
// only contributes its extension.
func (m *Manager) Store(r io.Reader, originalName string) (*Handle, error) {
	const op = "tempfile.Store"

	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return nil, apperrors.FileHandling(op, err, "failed to create temp directory")
	}

	path := filepath.Join(m.dir, uuid.New().String()+safeExt(originalName))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, apperrors.FileHandling(op, err, "failed to create temp file")
	}

	src := r
	if m.maxSize > 0 {
		src = io.LimitReader(r, m.maxSize+1)
	}
	n, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	handle := &Handle{Path: path, OriginalName: originalName, Size: n}
	switch {
	case copyErr != nil:
		m.Cleanup(handle)
		return nil, apperrors.FileHandling(op, copyErr, "failed to write temp file")
	case closeErr != nil:
		m.Cleanup(handle)
		return nil, apperrors.FileHandling(op, closeErr, "failed to close temp file")
	case m.maxSize > 0 && n > m.maxSize:
		m.Cleanup(handle)
		return nil, apperrors.ValidationFailed(op, nil, "File exceeds the maximum allowed size")
	case n == 0:
		m.Cleanup(handle)
		return nil, apperrors.ValidationFailed(op, nil, "Uploaded file is empty")
	}

	m.logger.WithFields(logrus.Fields{
		"path":          path,
		"original_name": originalName,
		"size":          n,
	}).Debug("Stored temp file")

	return handle, nil
}

// Cleanup deletes the file behind h. It never fails: a missing file is
// ignored and other errors are only logged.
func (m *Manager) Cleanup(h *Handle) {
	if h == nil || h.Path == "" {
		return
	}
	if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
		m.logger.WithError(err).WithField("path", h.Path).Warn("Failed to remove temp file")
		return
	}
	m.logger.WithField("path", h.Path).Debug("Removed temp file")
}

func safeExt(name string) string {
	ext := filepath.Ext(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if !extPattern.MatchString(ext) {
		return ""
	}
	return strings.ToLower(ext)
}
