// Package logger holds the process-wide structured logger. Request-scoped
// logging goes through gin-middlewares; this one serves init paths and
// background tasks that have no request context.
package logger

import (
	glog "github.com/Laisky/go-utils/v6/log"
)

// Logger starts as the shared default so init-time code can log before
// SetupLogger runs.
var Logger glog.Logger = glog.Shared

// SetupLogger builds the named application logger. Debug mode lowers the
// level to DEBUG.
func SetupLogger(debug bool) {
	level := glog.LevelInfo
	if debug {
		level = glog.LevelDebug
	}
	lg, err := glog.NewConsoleWithName("polygate", level)
	if err != nil {
		Logger.Error("build logger, keeping shared default")
		return
	}
	Logger = lg
}
