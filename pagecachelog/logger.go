// Package pagecachelog provides the single logrus logger the pagecache
// package logs through, trimmed to what a library (not a daemon) needs:
// no file rotation, no global log-path configuration — just a field
// logger callers may replace wholesale for their own formatting/output
// needs.
package pagecachelog

import "github.com/sirupsen/logrus"

// Log is the package-level logger pagecache drains through. Replace it
// (e.g. with a logger carrying request-scoped fields) before constructing
// a Cache if you need different behavior; pagecache never mutates it.
var Log logrus.FieldLogger = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}
