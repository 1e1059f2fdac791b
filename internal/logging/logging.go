// Package logging configures the process wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Configure sets the level and formatter of the standard logger. Empty values
// keep the defaults (info, text).
func Configure(level, format string) error {
	return configure(log.StandardLogger(), os.Stdout, level, format)
}

func configure(logger *log.Logger, out io.Writer, level, format string) error {
	lvl := log.InfoLevel
	if level != "" {
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return err
		}
		lvl = parsed
	}

	switch strings.ToLower(format) {
	case "", FormatText:
		logger.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	case FormatJSON:
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	logger.SetLevel(lvl)
	logger.SetOutput(out)
	return nil
}
