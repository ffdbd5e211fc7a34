package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	Init(os.Getenv("ENVIRONMENT"), os.Stdout)
}

// Init configures the package logger. Development gets human readable
// console output with debug enabled, everything else gets JSON at info.
func Init(environment string, out io.Writer) {
	level := zerolog.InfoLevel
	if environment == "development" {
		level = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	log = zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func Info(format string, v ...interface{}) {
	log.Info().Str("caller", caller()).Msgf(format, v...)
}

func Error(format string, v ...interface{}) {
	log.Error().Str("caller", caller()).Msgf(format, v...)
}

func Debug(format string, v ...interface{}) {
	log.Debug().Str("caller", caller()).Msgf(format, v...)
}

func Warn(format string, v ...interface{}) {
	log.Warn().Str("caller", caller()).Msgf(format, v...)
}

func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "unknown"
	}
	short := file
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			short = file[i+1:]
			break
		}
	}
	return fmt.Sprintf("%s:%d", short, line)
}
