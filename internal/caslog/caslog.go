// Package caslog wires the process-wide structured logger: a
// *logrus.Entry tagged with the package-level service identity Fields,
// plus an INFO/DEBUG split driven by a verbosity flag.
package caslog

import (
	"github.com/Sirupsen/logrus"
)

// Fields are the static fields attached to every log line.
var Fields = logrus.Fields{
	"service": "txcasproxy",
	"art-id":  "txcasproxy",
	"group":   "org.bardcollege",
}

// New returns the package's field-logger, configuring the JSON formatter
// and verbosity level.
func New(verbose bool) *logrus.Entry {
	if verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})
	return logrus.WithFields(Fields)
}
