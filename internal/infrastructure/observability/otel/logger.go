package otel

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Logger 構造化ロガー
// 出力はlogrusのJSONフォーマッタで、アクティブなSpanのtrace_id/span_idを付与する
type Logger struct {
	tracer trace.Tracer
	entry  *logrus.Logger
}

// NewLogger 新しいLoggerを作成
func NewLogger(tracer trace.Tracer) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})
	l.SetLevel(logrus.InfoLevel)
	return &Logger{
		tracer: tracer,
		entry:  l,
	}
}

// LogLevel ログレベル
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// SetLevel 出力するログレベルを設定（不明な値はinfo）
func (l *Logger) SetLevel(level string) {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.entry.SetLevel(parsed)
}

// SetOutput 出力先を設定
func (l *Logger) SetOutput(w io.Writer) {
	l.entry.SetOutput(w)
}

// Log ログを出力
func (l *Logger) Log(ctx context.Context, level LogLevel, message string, fields map[string]interface{}) {
	data := make(logrus.Fields, len(fields)+2)
	for k, v := range fields {
		data[k] = v
	}

	// トレースIDとSpanIDを取得
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		data["trace_id"] = span.SpanContext().TraceID().String()
		data["span_id"] = span.SpanContext().SpanID().String()
	}

	entry := l.entry.WithContext(ctx).WithFields(data)
	switch level {
	case LogLevelDebug:
		entry.Debug(message)
	case LogLevelWarn:
		entry.Warn(message)
	case LogLevelError:
		entry.Error(message)
	default:
		entry.Info(message)
	}
}

// Debug Debugレベルのログを出力
func (l *Logger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	l.Log(ctx, LogLevelDebug, message, fields)
}

// Info Infoレベルのログを出力
func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.Log(ctx, LogLevelInfo, message, fields)
}

// Warn Warnレベルのログを出力
func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.Log(ctx, LogLevelWarn, message, fields)
}

// Error Errorレベルのログを出力
func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Log(ctx, LogLevelError, message, fields)
}
