// Package util holds the ambient concerns of the interpreter: configuration
// options, logger construction and the fatal reporter.
package util

import "go.uber.org/zap"

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Options configures an interpreter context. The zero value is a silent,
// untraced interpreter.
type Options struct {
	Verbose bool        // Set true to log initialisation statistics.
	Trace   bool        // Set true to log every call-bridge entry at debug level.
	Logger  *zap.Logger // Optional logger override; built from Verbose when nil.
}

// ---------------------
// ----- Constants -----
// ---------------------

// ---------------------
// ----- Functions -----
// ---------------------

// BuildLogger returns the logger the context should use. An explicit Logger
// wins; otherwise Verbose selects a development logger and the default is a
// no-op logger.
func (o Options) BuildLogger() *zap.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	if o.Verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			return l
		}
	}
	return zap.NewNop()
}
