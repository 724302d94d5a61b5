package util

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the structured logger used for the core's diagnostics. Every package under src/ logs
// through this instance rather than calling fmt.Println directly, so --verbose (-v) toggles one
// logger's level instead of every call site. --emit-comments does not go through Log: it adds
// comment instructions to the instruction stream.
var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	l.SetLevel(logrus.WarnLevel)
	return l
}

// SetVerbose raises or lowers the logger's level to match the --verbose (-v) flag.
func SetVerbose(v bool) {
	if v {
		Log.SetLevel(logrus.InfoLevel)
	} else {
		Log.SetLevel(logrus.WarnLevel)
	}
}
