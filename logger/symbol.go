package logger

import (
	"github.com/teranos/enrolpulse/sym"
	"go.uber.org/zap"
)

// Symbol-aware logging helpers.
// The symbol goes into a structured field, never into the message:
//
//	logger.PulseInfow("Job started", "course_id", id)

// PulseInfow logs an info message with the Pulse symbol (꩜)
func PulseInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, withSymbol(sym.Pulse, keysAndValues)...)
	}
}

// PulseWarnw logs a warning message with the Pulse symbol (꩜)
func PulseWarnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Warnw(msg, withSymbol(sym.Pulse, keysAndValues)...)
	}
}

// PulseOpenInfow logs graceful startup with the PulseOpen symbol (✿)
func PulseOpenInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, withSymbol(sym.PulseOpen, keysAndValues)...)
	}
}

// PulseCloseInfow logs graceful shutdown with the PulseClose symbol (❀)
func PulseCloseInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, withSymbol(sym.PulseClose, keysAndValues)...)
	}
}

// SymbolFields prefixes keysAndValues with the symbol field, for injected
// loggers that are not the global one.
func SymbolFields(symbol string, keysAndValues ...interface{}) []interface{} {
	return withSymbol(symbol, keysAndValues)
}

// Named returns a named child of l, or of the global logger when l is nil.
func Named(l *zap.SugaredLogger, name string) *zap.SugaredLogger {
	if l == nil {
		l = Logger
	}
	return l.Named(name)
}

func withSymbol(symbol string, keysAndValues []interface{}) []interface{} {
	fields := make([]interface{}, 0, len(keysAndValues)+2)
	fields = append(fields, FieldSymbol, symbol)
	return append(fields, keysAndValues...)
}
