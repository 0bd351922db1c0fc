// Package debuglog is the compile-time debug tracing used by the compiler
// packages. Tracing is keyed by topic and disabled by default; the host
// enables topics at startup (typically from configuration). Output goes to
// a logrus logger on stderr and never interleaves with compiler results.
package debuglog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Topic identifies one tracing stream.
type Topic string

// List of tracing topics.
const (
	Infer     Topic = "infer"
	Optimizer Topic = "optimizer"
	Regalloc  Topic = "regalloc"
	Codegen   Topic = "codegen"
	Peephole  Topic = "peephole"
)

var (
	logger  = newLogger()
	enabled = make(map[Topic]bool)
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return l
}

// Enable turns on the provided topics. It is called once at startup, before
// any compilation runs.
func Enable(topics ...Topic) {
	for _, t := range topics {
		enabled[t] = true
	}
}

// Enabled reports whether a topic is traced; callers can use it to skip
// expensive argument construction.
func Enabled(t Topic) bool { return enabled[t] }

// Logf traces one message on the topic's stream; it is a no-op unless the
// topic is enabled.
func Logf(t Topic, format string, args ...interface{}) {
	if !enabled[t] {
		return
	}
	logger.WithField("topic", string(t)).Debugf(format, args...)
}
