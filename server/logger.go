package server

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 全局日志；未初始化时丢弃一切输出
var Log = zap.NewNop().Sugar()

// logLevel 运行时可调，/admin/loglevel 直接挂它
var logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// 中继和 tick 在 Debug 级别逐包记录，满载时几秒就能写满一个分片
const (
	logMaxSizeMB  = 32
	logMaxBackups = 5
	logMaxAgeDays = 3
)

// InitLogger 同步服务的日志写到 filePath 并按大小滚动。
// debug 打开逐包的中继与 NPC 更新日志。
func InitLogger(filePath string, debug bool) error {
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
		Compress:   true,
	})

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	enc.EncodeCaller = zapcore.ShortCallerEncoder

	if debug {
		logLevel.SetLevel(zapcore.DebugLevel)
	} else {
		logLevel.SetLevel(zapcore.InfoLevel)
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), sink, logLevel)
	Log = zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).
		Named("tigersync").Sugar()
	return nil
}

// SetLogger 替换全局日志，nil 恢复为丢弃
func SetLogger(l *zap.SugaredLogger) {
	if l == nil {
		l = zap.NewNop().Sugar()
	}
	Log = l
}

// SyncLogger 退出前刷盘
func SyncLogger() {
	_ = Log.Sync()
}
