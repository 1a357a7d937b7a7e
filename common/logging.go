// Package common provides centralized logging infrastructure. It implements
// log output routing that sends error-level messages to stderr and
// everything else to stdout, for proper stream separation in containerized
// deployments.
package common

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stderr or stdout depending
// on whether they carry an error level. It implements io.Writer and is
// safe for concurrent use.
type OutputSplitter struct{}

// Write routes p to stderr if it contains "level=error" (text format) or
// "level":"error" (JSON format), stdout otherwise.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the package-level logger, pre-wired with OutputSplitter.
// NewLogger builds loggers the same way for callers that want their own
// instance instead of this shared one.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(&OutputSplitter{})
}
