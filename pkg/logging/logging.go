// Package logging holds the package-level diagnostic logger used by the
// rest of opticam.
package logging

import "log"

// Logf defaults to log.Printf but may be replaced by SetLogger. Tests or
// the CLI can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Verbosity gates the chattier diagnostics; 0 is quiet.
var Verbosity int

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Debugf only logs when Verbosity > 0.
func Debugf(format string, v ...interface{}) {
	if Verbosity > 0 {
		Logf(format, v...)
	}
}
