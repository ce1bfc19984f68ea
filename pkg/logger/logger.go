// Package logger provides component-tagged logging for finch.
//
// Every log line carries a component name ("session", "transport", …) so
// interleaved events from the REST gateway, the broker connection and the
// probe loop can be told apart. Output goes to stderr; stdout belongs to
// the chat REPL.
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	DEBUG = zerolog.DebugLevel
	INFO  = zerolog.InfoLevel
	WARN  = zerolog.WarnLevel
	ERROR = zerolog.ErrorLevel
)

var log = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: time.TimeOnly,
}).Level(zerolog.InfoLevel).With().Timestamp().Logger()

// SetLevel sets the global log level.
func SetLevel(level Level) {
	log = log.Level(level)
}

func DebugC(component, msg string) {
	log.Debug().Str("component", component).Msg(msg)
}

func DebugCF(component, msg string, fields map[string]any) {
	log.Debug().Str("component", component).Fields(fields).Msg(msg)
}

func InfoC(component, msg string) {
	log.Info().Str("component", component).Msg(msg)
}

func InfoCF(component, msg string, fields map[string]any) {
	log.Info().Str("component", component).Fields(fields).Msg(msg)
}

func WarnC(component, msg string) {
	log.Warn().Str("component", component).Msg(msg)
}

func WarnCF(component, msg string, fields map[string]any) {
	log.Warn().Str("component", component).Fields(fields).Msg(msg)
}

func ErrorC(component, msg string) {
	log.Error().Str("component", component).Msg(msg)
}

func ErrorCF(component, msg string, fields map[string]any) {
	log.Error().Str("component", component).Fields(fields).Msg(msg)
}
