package applog

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"slices"
	"strings"

	slogzap "github.com/samber/slog-zap/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 日志配置。
type Config struct {
	Level     string
	Format    string // text | json
	AddSource bool
	Output    io.Writer // 默认 stdout；CLI 使用 stderr，避免污染命令输出
}

func (c Config) writer() io.Writer {
	if c.Output == nil {
		return os.Stdout
	}
	return c.Output
}

// levels 配置字符串到 zap/slog 级别，未知值按 info 处理
var levels = map[string]struct {
	zap  zapcore.Level
	slog slog.Level
}{
	"debug": {zapcore.DebugLevel, slog.LevelDebug},
	"info":  {zapcore.InfoLevel, slog.LevelInfo},
	"warn":  {zapcore.WarnLevel, slog.LevelWarn},
	"error": {zapcore.ErrorLevel, slog.LevelError},
}

func levelOf(s string) (zapcore.Level, slog.Level) {
	l, ok := levels[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		l = levels["info"]
	}
	return l.zap, l.slog
}

// Init 以 zap 为后端安装全局 slog，标准库 log 输出到同一位置。
func Init(cfg Config) {
	zapLevel, slogLevel := levelOf(cfg.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "time"
	encoder := zapcore.NewConsoleEncoder(encoderCfg)
	if strings.EqualFold(cfg.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	logger := zap.New(zapcore.NewCore(encoder, zapcore.AddSync(cfg.writer()), zapLevel), opts...)
	zap.ReplaceGlobals(logger)

	slog.SetDefault(slog.New(slogzap.Option{
		Level:     slogLevel,
		Logger:    logger,
		AddSource: cfg.AddSource,
	}.NewZapHandler()))

	log.SetOutput(cfg.writer())
	log.SetFlags(0)
}

// Sync 刷新 zap 缓冲，进程退出前调用。
func Sync() {
	_ = zap.L().Sync()
}

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

func Infof(format string, args ...any)  { slog.Info(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { slog.Warn(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { slog.Error(fmt.Sprintf(format, args...)) }

func Fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

// Component 返回组件 logger：消息前加 "[name] "，并带 component 字段。
// 记录时才读取当前默认 handler，可以在 Init 之前作为包级变量构造。
func Component(name string) *slog.Logger {
	h := componentHandler{prefix: "[" + name + "] "}
	return slog.New(h.with(func(next slog.Handler) slog.Handler {
		return next.WithAttrs([]slog.Attr{slog.String("component", name)})
	}))
}

type componentHandler struct {
	prefix string
	chain  []func(slog.Handler) slog.Handler
}

func (h componentHandler) target() slog.Handler {
	next := slog.Default().Handler()
	for _, wrap := range h.chain {
		next = wrap(next)
	}
	return next
}

func (h componentHandler) with(wrap func(slog.Handler) slog.Handler) componentHandler {
	return componentHandler{prefix: h.prefix, chain: append(slices.Clip(h.chain), wrap)}
}

func (h componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return slog.Default().Handler().Enabled(ctx, level)
}

func (h componentHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, h.prefix+r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(a)
		return true
	})
	return h.target().Handle(ctx, out)
}

func (h componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h componentHandler) WithGroup(name string) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}
