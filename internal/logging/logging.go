// Package logging builds the production zap.Logger every long-running
// component in this repository is handed at construction, following
// the teacher's pattern of a small factory function (A_runtime_rpc_handler.go
// builds one with zap.NewProduction()) rather than a package-level
// global logger.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New. A zero value logs JSON to stderr at info
// level with no rotation, which is what tests and short-lived tools
// want; a production binary sets Path to enable file rotation via
// lumberjack.
type Options struct {
	// Path, if non-empty, routes output through a lumberjack.Logger
	// instead of stderr, rotating once the file passes MaxSizeMB.
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Debug      bool
}

// New builds a *zap.Logger per opts. Grounded on the teacher's
// zap.NewProduction() call, generalized to add optional lumberjack
// rotation and a debug level switch, since a long-running game server
// (unlike the teacher's short-lived RPC handler) needs log rotation.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var ws zapcore.WriteSyncer
	if opts.Path != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		})
	} else {
		ws = zapcore.Lock(zapcore.AddSync(os.Stderr))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), ws, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
