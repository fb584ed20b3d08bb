package diag

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 为结构化日志器：单行 JSON 写入轮转文件；字段集固定，便于检索。
// 事件字段：level, ts, corr_id, comp, stage(start|finish|error|warn), code, dur_ms, count, chain, step, msg, kv。
// 所有方法对 nil 接收者安全。
type Logger struct {
	z    *zap.Logger
	sink *RotatingFile
}

// NewLogger 通过配置的 level 初始化，日志写入 logs/tilext-current.txt，10MiB 轮转。
func NewLogger(corrID, level string) *Logger {
	sink := NewRotatingFile("logs", 10*1024*1024)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(sink), ParseLevel(level))
	l := NewLoggerWithCore(corrID, core)
	l.sink = sink
	return l
}

// NewLoggerWithCore 以任意 zapcore.Core 构造（测试可注入 observer）。
func NewLoggerWithCore(corrID string, core zapcore.Core) *Logger {
	return &Logger{z: zap.New(core).With(zap.String("corr_id", corrID))}
}

// Nop 返回丢弃一切的日志器。
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// ParseLevel 将 debug|info|warn|error 解析为 zap 级别，未知值退化为 info。
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.CallerKey = ""
	cfg.StacktraceKey = ""
	return cfg
}

// Sync 刷新并关闭文件 sink。
func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	err := l.z.Sync()
	if l.sink != nil {
		if cerr := l.sink.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// event 组装公共字段；空值字段省略。
func event(comp, stage, code string, dur int64, count int64, chain, step string, kv map[string]string) []zap.Field {
	fs := make([]zap.Field, 0, 8)
	fs = append(fs, zap.String("comp", comp), zap.String("stage", stage))
	if code != "" {
		fs = append(fs, zap.String("code", code))
	}
	if dur != 0 {
		fs = append(fs, zap.Int64("dur_ms", dur))
	}
	if count != 0 {
		fs = append(fs, zap.Int64("count", count))
	}
	if chain != "" {
		fs = append(fs, zap.String("chain", chain))
	}
	if step != "" {
		fs = append(fs, zap.String("step", step))
	}
	if len(kv) > 0 {
		fs = append(fs, zap.Any("kv", kv))
	}
	return fs
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, "", "", nil)
}

// StartWith 记录带 chain/step 的 start。
func (l *Logger) StartWith(comp, msg, chain, step string) *Timer {
	return l.StartWithKV(comp, msg, chain, step, nil)
}

// StartWithKV 记录带 chain/step 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, chain, step string, kv map[string]string) *Timer {
	if l == nil {
		return nil
	}
	l.z.Info(msg, event(comp, "start", "", 0, 0, chain, step, kv)...)
	return &Timer{l: l, comp: comp, chain: chain, step: step, t0: time.Now()}
}

// Error 记录 error 事件。
func (l *Logger) Error(comp, code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, "", "", nil)
}

// ErrorWith 支持 chain/step。
func (l *Logger) ErrorWith(comp, code, msg string, durSince *time.Time, chain, step string) {
	l.ErrorWithKV(comp, code, msg, durSince, chain, step, nil)
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、上游错误片段）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, chain, step string, kv map[string]string) {
	if l == nil {
		return
	}
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.z.Error(msg, event(comp, "error", code, dur, 0, chain, step, kv)...)
}

// Warn 记录不中断流程的异常（例如追踪工件写失败）。
func (l *Logger) Warn(comp, code, msg, chain, step string, kv map[string]string) {
	if l == nil {
		return
	}
	l.z.Warn(msg, event(comp, "warn", code, 0, 0, chain, step, kv)...)
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	if l == nil {
		return
	}
	l.z.Info(msg, event(comp, "finish", "", time.Since(start).Milliseconds(), count, "", "", nil)...)
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, chain, step string, kv map[string]string) {
	if l == nil {
		return
	}
	l.z.Debug(msg, event(comp, "start", "", 0, 0, chain, step, kv)...)
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l     *Logger
	comp  string
	chain string
	step  string
	t0    time.Time
}

// Finish 记录 finish（带上 chain/step）；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	d := time.Since(t.t0).Milliseconds()
	t.l.z.Info(msg, event(t.comp, "finish", "", d, count, t.chain, t.step, nil)...)
	ObserveDuration(t.comp, "finish", d)
}

// Since 返回计时起点（nil 时为零值）。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}
