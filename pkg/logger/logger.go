// Package logger 封裝 logrus，提供帶 request 欄位的結構化日誌
package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type ctxKey int

const fieldsKey ctxKey = iota

// Logger 包一層 logrus.Logger，讓各元件以指標傳遞，不使用全域 logger
type Logger struct {
	*logrus.Logger
}

// Config 日誌設定
type Config struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"LOG_FORMAT"` // text, json
}

// New 依設定建立 Logger，輸出到 stdout
func New(cfg Config) *Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter 同 New，可指定輸出 (測試用)
func NewWithWriter(cfg Config, w io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(w)

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return &Logger{Logger: l}
}

// NewNop 丟棄所有輸出
func NewNop() *Logger {
	return NewWithWriter(Config{Level: "panic"}, io.Discard)
}

// WithFields 把欄位附加到 context，之後 WithContext 會帶出來
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	merged := logrus.Fields{}
	if existing, ok := ctx.Value(fieldsKey).(logrus.Fields); ok {
		for k, v := range existing {
			merged[k] = v
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	return context.WithValue(ctx, fieldsKey, merged)
}

// WithContext 回傳帶有 context 欄位 (request_id, username...) 的 Entry
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(l.Logger).WithContext(ctx)
	if fields, ok := ctx.Value(fieldsKey).(logrus.Fields); ok {
		entry = entry.WithFields(fields)
	}
	return entry
}
