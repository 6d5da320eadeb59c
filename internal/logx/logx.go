package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"pyvm/internal/paths"
)

// New creates a logger that writes to a timestamped file inside the layout's
// logs directory. The returned closer should be closed when logging is no
// longer needed.
func New(l paths.Layout) (*log.Logger, io.Closer, error) {
	if err := os.MkdirAll(l.LogsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("ensure logs directory: %w", err)
	}

	filename := time.Now().Format("20060102-150405") + ".log"
	filePath := filepath.Join(l.LogsDir, filename)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	logger := log.New(file, "", log.LstdFlags|log.Lmicroseconds)
	return logger, file, nil
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// WithOperation returns a logger sharing base's output whose lines carry a
// fresh operation id, so interleaved invocations can be told apart.
func WithOperation(base *log.Logger, op string) (*log.Logger, string) {
	id := uuid.NewString()[:8]
	return log.New(base.Writer(), fmt.Sprintf("[%s %s] ", op, id), base.Flags()|log.Lmsgprefix), id
}
