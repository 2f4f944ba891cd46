// Package logging holds the process-wide structured logger.
package logging

import (
	"io"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

var Log = logrus.New()

// Init configures the shared logger. Development builds get the text
// formatter, everything else emits JSON lines.
func Init(level, env string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	if env == "development" {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return
	}
	Log.SetFormatter(&logrus.JSONFormatter{})
}

// Discard silences the logger, used by tests.
func Discard() {
	Log.SetOutput(io.Discard)
}

// SafeGo runs fn on its own goroutine and logs a recovered panic instead of
// crashing the process.
func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				Log.WithFields(logrus.Fields{
					"task":  name,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("background task panicked")
			}
		}()
		fn()
	}()
}
