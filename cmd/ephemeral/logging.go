package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sigreer/ephemeral/internal/config"
)

// newLogger builds the console logger handed to every component. Output
// goes to w so stdout stays reserved for results.
func newLogger(w io.Writer, cfg *config.Config) zerolog.Logger {
	level, err := cfg.Level()
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	output := zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.StampMicro}
	output.FormatLevel = func(i interface{}) string {
		return strings.ToUpper(fmt.Sprintf("%-4s |", i))
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}
