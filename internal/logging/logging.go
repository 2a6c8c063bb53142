package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New 构造服务级 logger：默认 JSON，LOG_PRETTY=1 时输出彩色控制台格式。
func New(service string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	var l zerolog.Logger
	if os.Getenv("LOG_PRETTY") == "1" {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.With().Timestamp().Str("service", service).Logger()
}
