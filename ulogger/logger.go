// Package ulogger provides the structured logger every component in this
// daemon accepts. It wraps github.com/rs/zerolog the way the teacher's
// util/logger.go does, selectable at runtime through gocore.Config() so a
// deployment can flip between a human-readable console writer and a
// machine-parseable JSON writer without a rebuild.
package ulogger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ordishs/gocore"
	"github.com/rs/zerolog"
)

// Logger is the interface every package in this module depends on. Its
// method set is the Debugf/Infof/Warnf/Errorf/Fatalf convention shared by
// github.com/ordishs/go-utils.Logger and the teacher's ulogger.Logger, so a
// host process that already has one of those can supply it directly.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// ZLogger adapts zerolog.Logger to the Logger interface.
type ZLogger struct {
	zerolog.Logger
	service string
}

// New builds a logger for service. Level defaults to "info" when omitted.
// When PRETTY_LOGS is true (the gocore.Config() default), output is a
// colorized console writer; otherwise plain JSON to stdout.
func New(service string, level ...string) *ZLogger {
	if service == "" {
		service = "hcd"
	}

	var z *ZLogger
	if gocore.Config().GetBool("PRETTY_LOGS", true) {
		z = prettyLogger(service)
	} else {
		z = &ZLogger{
			zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger(),
			service,
		}
	}

	if len(level) > 0 {
		setLevel(level[0], z)
	}

	return z
}

func setLevel(level string, z *ZLogger) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		z.Logger = z.Logger.Level(zerolog.DebugLevel)
	case "WARN":
		z.Logger = z.Logger.Level(zerolog.WarnLevel)
	case "ERROR":
		z.Logger = z.Logger.Level(zerolog.ErrorLevel)
	case "FATAL":
		z.Logger = z.Logger.Level(zerolog.FatalLevel)
	default:
		z.Logger = z.Logger.Level(zerolog.InfoLevel)
	}
}

func prettyLogger(service string) *ZLogger {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	output.FormatMessage = func(i interface{}) string {
		return fmt.Sprintf("| %-10s| %s", service, i)
	}
	output.FormatTimestamp = func(i interface{}) string {
		t, err := time.Parse(time.RFC3339, fmt.Sprintf("%v", i))
		if err != nil {
			return fmt.Sprintf("%v", i)
		}
		return t.Format("15:04:05")
	}

	return &ZLogger{
		zerolog.New(output).With().Timestamp().Logger(),
		service,
	}
}

func (z *ZLogger) Debugf(format string, args ...interface{}) { z.Logger.Debug().Msgf(format, args...) }
func (z *ZLogger) Infof(format string, args ...interface{})  { z.Logger.Info().Msgf(format, args...) }
func (z *ZLogger) Warnf(format string, args ...interface{})  { z.Logger.Warn().Msgf(format, args...) }
func (z *ZLogger) Errorf(format string, args ...interface{}) { z.Logger.Error().Msgf(format, args...) }
func (z *ZLogger) Fatalf(format string, args ...interface{}) { z.Logger.Fatal().Msgf(format, args...) }

func (z *ZLogger) LogLevel() int {
	switch z.Logger.GetLevel() {
	case zerolog.DebugLevel:
		return int(gocore.DEBUG)
	case zerolog.WarnLevel:
		return int(gocore.WARN)
	case zerolog.ErrorLevel:
		return int(gocore.ERROR)
	case zerolog.FatalLevel:
		return int(gocore.FATAL)
	default:
		return int(gocore.INFO)
	}
}

// Nop returns a Logger that discards everything, for tests that don't care
// about log output.
func Nop() Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Fatalf(string, ...interface{}) {}
