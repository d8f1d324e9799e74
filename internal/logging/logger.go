package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnvVar names the environment variable holding the log level.
const LevelEnvVar = "CONTEST_LOG_LEVEL"

// Init initializes the global logger with configuration from environment variables.
// CONTEST_LOG_LEVEL controls the log level: debug, info, warn, error (default: info).
// Inside Lambda the output stays JSON for CloudWatch; elsewhere it is a console writer.
func Init() {
	zerolog.SetGlobalLevel(levelFor(os.Getenv(LevelEnvVar)))

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func levelFor(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
