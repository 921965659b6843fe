package logging

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/grand-thief-cash/chaos/app/infra/go/application/consts"
	"github.com/grand-thief-cash/chaos/app/infra/go/application/core"
)

// 全局函数 + 组件方法 + logWithContext
const callerSkip = 3

// Logger 日志记录器接口
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...zap.Field)
	Info(ctx context.Context, msg string, fields ...zap.Field)
	Warn(ctx context.Context, msg string, fields ...zap.Field)
	Error(ctx context.Context, msg string, fields ...zap.Field)
	Fatal(ctx context.Context, msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
	Sync() error
}

// LoggerComponent Zap日志组件
type LoggerComponent struct {
	*core.BaseComponent
	config    *LoggingConfig
	zapLogger *zap.Logger
}

func NewLoggerComponent(cfg *LoggingConfig) *LoggerComponent {
	return &LoggerComponent{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_LOGGING),
		config:        cfg,
	}
}

// NewZapLogger wraps an existing zap logger; tests use it with zaptest/observer cores.
func NewZapLogger(z *zap.Logger) *LoggerComponent {
	return &LoggerComponent{
		BaseComponent: core.NewBaseComponent(consts.COMPONENT_LOGGING),
		config:        &LoggingConfig{},
		zapLogger:     z.WithOptions(zap.AddCallerSkip(callerSkip - 1)),
	}
}

func (lc *LoggerComponent) Start(ctx context.Context) error {
	if err := lc.BaseComponent.Start(ctx); err != nil {
		return err
	}
	writeSyncer, err := lc.buildWriteSyncer()
	if err != nil {
		return fmt.Errorf("failed to create write syncer: %w", err)
	}
	lc.zapLogger = zap.New(
		zapcore.NewCore(lc.buildEncoder(), writeSyncer, parseLevel(lc.config.Level)),
		zap.AddCaller(),
		zap.AddCallerSkip(callerSkip),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	SetGlobalLogger(lc)
	Info(ctx, "logger component started",
		zap.String("level", lc.config.Level),
		zap.String("format", lc.config.Format),
		zap.String("output", lc.config.Output),
	)
	return nil
}

func (lc *LoggerComponent) Stop(ctx context.Context) error {
	if lc.zapLogger != nil {
		Info(ctx, "logger component stopping")
		_ = lc.zapLogger.Sync()
	}
	return lc.BaseComponent.Stop(ctx)
}

func (lc *LoggerComponent) HealthCheck() error {
	if err := lc.BaseComponent.HealthCheck(); err != nil {
		return err
	}
	if lc.zapLogger == nil {
		return fmt.Errorf("zap logger is not initialized")
	}
	return nil
}

func (lc *LoggerComponent) buildEncoder() zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if lc.config.Format == "json" {
		return zapcore.NewJSONEncoder(encoderConfig)
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func (lc *LoggerComponent) buildWriteSyncer() (zapcore.WriteSyncer, error) {
	switch strings.ToLower(lc.config.Output) {
	case "stdout", "":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	case "file":
		return lc.buildFileWriteSyncer()
	default:
		// 非关键字当作文件路径
		return openAppend(lc.config.Output)
	}
}

// buildFileWriteSyncer 按配置选择: 按大小轮转(lumberjack) / 按时间间隔轮转 / 普通文件
func (lc *LoggerComponent) buildFileWriteSyncer() (zapcore.WriteSyncer, error) {
	fc := lc.config.FileConfig
	if fc == nil {
		return nil, fmt.Errorf("file config is required when output is 'file'")
	}
	if err := os.MkdirAll(fc.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rc := lc.config.RotateConfig
	switch {
	case rc != nil && rc.Enabled && rc.MaxSizeMB > 0:
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:  filepath.Join(fc.Dir, fc.Filename+".log"),
			MaxSize:   rc.MaxSizeMB,
			MaxAge:    int(rc.MaxAge.Hours() / 24),
			Compress:  true,
			LocalTime: true,
		}), nil
	case rc != nil && rc.Enabled:
		w, err := newIntervalRotatingWriter(fc.Dir, fc.Filename, rc)
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return openAppend(filepath.Join(fc.Dir, fc.Filename+".log"))
	}
}

func openAppend(path string) (zapcore.WriteSyncer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zapcore.AddSync(file), nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "FATAL":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func (lc *LoggerComponent) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	lc.logWithContext(ctx, zapcore.DebugLevel, msg, fields...)
}

func (lc *LoggerComponent) Info(ctx context.Context, msg string, fields ...zap.Field) {
	lc.logWithContext(ctx, zapcore.InfoLevel, msg, fields...)
}

func (lc *LoggerComponent) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	lc.logWithContext(ctx, zapcore.WarnLevel, msg, fields...)
}

func (lc *LoggerComponent) Error(ctx context.Context, msg string, fields ...zap.Field) {
	lc.logWithContext(ctx, zapcore.ErrorLevel, msg, fields...)
}

func (lc *LoggerComponent) Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	lc.logWithContext(ctx, zapcore.FatalLevel, msg, fields...)
	os.Exit(1)
}

// With 创建带有附加字段的新logger
func (lc *LoggerComponent) With(fields ...zap.Field) Logger {
	if lc.zapLogger == nil {
		return lc
	}
	return &LoggerComponent{
		BaseComponent: lc.BaseComponent,
		config:        lc.config,
		zapLogger:     lc.zapLogger.With(fields...),
	}
}

func (lc *LoggerComponent) Sync() error {
	if lc.zapLogger != nil {
		return lc.zapLogger.Sync()
	}
	return nil
}

func (lc *LoggerComponent) GetZapLogger() *zap.Logger { return lc.zapLogger }

func hasField(fields []zap.Field, key string) bool {
	for _, f := range fields {
		if f.Key == key {
			return true
		}
	}
	return false
}

// logWithContext 只使用已有的 OTel span 上下文，不生成新的 trace id。
func (lc *LoggerComponent) logWithContext(ctx context.Context, level zapcore.Level, msg string, fields ...zap.Field) {
	if lc.zapLogger == nil {
		return
	}
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() && !hasField(fields, consts.KEY_TraceID) {
			fields = append([]zap.Field{
				zap.String(consts.KEY_TraceID, sc.TraceID().String()),
				zap.String(consts.KEY_SpanID, sc.SpanID().String()),
			}, fields...)
		}
	}
	if ce := lc.zapLogger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}
