package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with exchange-specific helpers.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a JSON-formatted logger for the named service.
func New(service, level string) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	log.SetOutput(os.Stdout)

	return &Logger{Logger: log, service: service}
}

// WithFields creates an entry with the service field plus the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Logger.WithField("service", l.service).WithFields(logrus.Fields(fields))
}

// WithOperation creates an entry tagged with an exchange operation name.
func (l *Logger) WithOperation(op string) *logrus.Entry {
	return l.WithFields(map[string]interface{}{"operation": op})
}

// WithPrincipal creates an entry tagged with the caller principal.
func (l *Logger) WithPrincipal(principal string) *logrus.Entry {
	return l.WithFields(map[string]interface{}{"principal": principal})
}

// WithRequestID creates an entry tagged with the request id.
func (l *Logger) WithRequestID(requestID string) *logrus.Entry {
	return l.WithFields(map[string]interface{}{"request_id": requestID})
}

// Audit logs an access-affecting event in a structured form.
func (l *Logger) Audit(principal, operation, key string, success bool, fields map[string]interface{}) {
	entry := l.WithFields(map[string]interface{}{
		"audit":     true,
		"principal": principal,
		"operation": operation,
		"key":       key,
		"success":   success,
	})
	if fields != nil {
		entry = entry.WithFields(logrus.Fields(fields))
	}

	if success {
		entry.Info("audit event")
	} else {
		entry.Warn("audit event rejected")
	}
}
