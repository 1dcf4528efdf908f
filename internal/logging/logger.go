// Package logging provides the structured logger shared by ledger components.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/points_ledger/internal/domain/ledger"
)

// Config controls logger output.
type Config struct {
	Level  string
	Format string // json or text
	Output io.Writer
}

// Logger wraps logrus with the component name attached to every entry.
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a logger for component.
func New(component string, cfg Config) *Logger {
	base := logrus.New()
	if cfg.Output != nil {
		base.SetOutput(cfg.Output)
	} else {
		base.SetOutput(os.Stdout)
	}

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{})
	}

	return &Logger{Logger: base, component: component}
}

// NewDefault creates an info-level JSON logger on stdout.
func NewDefault(component string) *Logger {
	return New(component, Config{})
}

// FromLogrus wraps an existing logrus logger, typically a test logger.
func FromLogrus(component string, base *logrus.Logger) *Logger {
	return &Logger{Logger: base, component: component}
}

// Component returns the component name.
func (l *Logger) Component() string { return l.component }

// Entry returns an entry carrying the component field.
func (l *Logger) Entry() *logrus.Entry {
	return l.Logger.WithField("component", l.component)
}

// WithFields returns an entry with the component and the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Entry().WithFields(logrus.Fields(fields))
}

// WithTransaction returns an entry describing tx. Signature, nonce and reason
// are left out.
func (l *Logger) WithTransaction(tx ledger.Transaction) *logrus.Entry {
	return l.Entry().WithFields(logrus.Fields{
		"transaction_id": tx.ID,
		"kind":           tx.Kind,
		"from":           tx.From,
		"to":             tx.To,
		"amount":         tx.Amount,
	})
}

// LogSecurityEvent records tampering, replay and fraud events at warn level.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	entry := l.Entry().WithContext(ctx).WithFields(logrus.Fields{
		"security_event": event,
	})
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	entry.Warn("security event")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New("discard", Config{Output: io.Discard, Level: "panic"})
}
