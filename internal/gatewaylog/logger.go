// Package gatewaylog builds the gateway's structured logger. Grounded on
// xpanvictor-xarvis's pkg/Logger (same zap.SugaredLogger wrapper, same
// debug/production config split), since the teacher itself only ever
// calls the standard library's log.Printf/log.Fatalf and has nothing
// structured to draw the pattern from.
package gatewaylog

import "go.uber.org/zap"

// Logger wraps a zap.SugaredLogger so callers can use key/value pairs
// without importing zap directly.
type Logger struct {
	*zap.SugaredLogger
}

// New builds a Logger. debug selects zap's human-readable development
// encoder; otherwise JSON production encoding is used.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.CallerKey = "caller"

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		logger = zap.NewNop()
	}
	return &Logger{logger.Sugar()}
}

// Nop returns a Logger that discards everything, for tests.
func Nop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}
