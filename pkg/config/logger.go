package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ParseLevel accepts the logrus level names, empty meaning info
func ParseLevel(s string) (logrus.Level, error) {
	if s == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(s))
	if err != nil {
		return lvl, fmt.Errorf("%s; possible levels: %s", err, logrus.AllLevels)
	}
	return lvl, nil
}

// ConfigureLogger applies the logging section to l. verbose is the old
// module parameter: 2 raises the level to debug and 3 to trace.
func ConfigureLogger(l *logrus.Logger, c Logging, verbose int) error {
	lvl, err := ParseLevel(c.Level)
	if err != nil {
		return err
	}
	switch {
	case verbose >= 3 && lvl < logrus.TraceLevel:
		lvl = logrus.TraceLevel
	case verbose >= 2 && lvl < logrus.DebugLevel:
		lvl = logrus.DebugLevel
	}
	l.SetLevel(lvl)

	timestampFormat := c.TimestampFormat
	fullTimestamp := (timestampFormat != "")
	if timestampFormat == "" {
		timestampFormat = time.RFC3339
	}

	logFormat := strings.ToLower(c.Format)
	switch logFormat {
	case "", "text":
		l.Formatter = &logrus.TextFormatter{
			TimestampFormat:  timestampFormat,
			FullTimestamp:    fullTimestamp,
			DisableTimestamp: c.DisableTimestamp,
		}
	case "json":
		l.Formatter = &logrus.JSONFormatter{
			TimestampFormat:  timestampFormat,
			DisableTimestamp: c.DisableTimestamp,
		}
	default:
		return fmt.Errorf("unknown log format `%s`. possible formats: %s", logFormat, []string{"text", "json"})
	}

	return nil
}
