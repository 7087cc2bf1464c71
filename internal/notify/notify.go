// Package notify reports run progress and hands the final batch file to the
// operators. Delivery is best effort: failures are logged and never reach the
// pipeline.
package notify

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/sells-group/callbatch/internal/resilience"
)

// DefaultMaxUploadMB is the largest file uploaded as an attachment. Bigger
// files are announced by location only.
const DefaultMaxUploadMB = 50

// Notifier receives progress text and the final file.
type Notifier interface {
	Progress(ctx context.Context, text string)
	Deliver(ctx context.Context, path string)
}

// Multi fans out to every notifier in order.
type Multi []Notifier

func (m Multi) Progress(ctx context.Context, text string) {
	for _, n := range m {
		n.Progress(ctx, text)
	}
}

func (m Multi) Deliver(ctx context.Context, path string) {
	for _, n := range m {
		n.Deliver(ctx, path)
	}
}

// Log writes notifications to the zap logger only.
type Log struct {
	log *zap.Logger
}

// NewLog creates a Log notifier on the global logger.
func NewLog() *Log {
	return &Log{log: zap.L().With(zap.String("component", "notify"))}
}

func (l *Log) Progress(_ context.Context, text string) {
	l.log.Info("notify: progress", zap.String("text", text))
}

func (l *Log) Deliver(_ context.Context, path string) {
	size, _ := fileSize(path)
	l.log.Info("notify: batch ready", zap.String("path", path), zap.Int64("bytes", size))
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func megabytes(n int64) float64 { return float64(n) / (1 << 20) }

func tooLargeText(path string, size int64, limitMB int) string {
	return fmt.Sprintf("El archivo es muy grande (%.1fMB, máximo %dMB).\nUbicación del archivo:\n%s",
		megabytes(size), limitMB, path)
}

// logFailure records a failed delivery. It is the only thing that happens
// on failure.
func logFailure(log *zap.Logger, channel, action string, err error) {
	derr := &resilience.DeliveryError{Channel: channel, Err: err}
	level := log.Error
	if resilience.IsTransient(err) {
		level = log.Warn
	}
	level("notify: delivery failed",
		zap.String("channel", channel),
		zap.String("action", action),
		zap.Error(derr),
	)
}
