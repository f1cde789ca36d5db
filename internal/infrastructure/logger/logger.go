package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	Info  *log.Logger
	Error *log.Logger
	Debug *log.Logger
	Warn  *log.Logger
)

func init() {
	logFlags := log.Ldate | log.Ltime | log.LUTC | log.Lshortfile

	Info = log.New(os.Stdout, "INFO: ", logFlags)
	Error = log.New(os.Stdout, "ERROR: ", logFlags)
	Debug = log.New(os.Stdout, "DEBUG: ", logFlags)
	Warn = log.New(os.Stdout, "WARN: ", logFlags)
}

// ParseLevel accepts debug, info, warn or error, in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Configure sends every logger at or above min to w and discards the rest.
// The loggers are redirected in place, so values captured earlier (the cron
// logger, for one) follow the change.
func Configure(w io.Writer, min Level) {
	for _, l := range []struct {
		logger *log.Logger
		level  Level
	}{
		{Debug, LevelDebug},
		{Info, LevelInfo},
		{Warn, LevelWarn},
		{Error, LevelError},
	} {
		if l.level < min {
			l.logger.SetOutput(io.Discard)
			continue
		}
		l.logger.SetOutput(w)
	}
}
