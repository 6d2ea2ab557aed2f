package inlinehook

import (
	"go.uber.org/zap"
)

// SetLogger replaces the engine's logger. A nil logger discards output.
func (e *Engine) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	e.logger.Store(l)
}

func (e *Engine) log() *zap.Logger {
	return e.logger.Load()
}

// SetDebug turns development logging of the default engine on or off.
func SetDebug(x bool) {
	if !x {
		Default().SetLogger(nil)
		return
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewExample()
	}
	Default().SetLogger(l.Named("inlinehook"))
}

// SetLogger replaces the default engine's logger.
func SetLogger(l *zap.Logger) {
	Default().SetLogger(l)
}
