package observability

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type Logger struct {
	base *logrus.Logger
}

func NewLogger(level string) *Logger {
	return NewLoggerTo(os.Stdout, level)
}

// NewLoggerTo writes JSON lines to out instead of stdout.
func NewLoggerTo(out io.Writer, level string) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000000000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)

	return &Logger{base: base}
}

func (l *Logger) Debug(message string, fields map[string]any) {
	l.base.WithFields(logrus.Fields(fields)).Debug(message)
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.base.WithFields(logrus.Fields(fields)).Info(message)
}

func (l *Logger) Warn(message string, fields map[string]any) {
	l.base.WithFields(logrus.Fields(fields)).Warn(message)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.base.WithFields(logrus.Fields(fields)).Error(message)
}
