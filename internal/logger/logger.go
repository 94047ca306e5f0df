package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/HamedShams/tracker-pulse/internal/config"
)

// New builds the process logger: console output in dev, JSON elsewhere.
// Setting LOG_FILE tees the stream into a size-rotated file as well.
func New(cfg config.Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.AppEnv == "dev" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}
	if cfg.LogFile != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
		})
	}
	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
