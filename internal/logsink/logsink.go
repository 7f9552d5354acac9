// Package logsink configures the process-wide zerolog logger. File output
// goes through lumberjack so that Reopen (wired to SIGHUP) rotates it.
package logsink

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu    sync.Mutex
	files []*lumberjack.Logger
	out   io.Writer = os.Stderr
)

func rotating(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // MB
		MaxBackups: 7,
		MaxAge:     28, // days
		Compress:   true,
	}
}

// Configure sets the global level and output. With an empty path, logs go to
// stderr through a console writer and Reopen has nothing to rotate.
func Configure(path, level string) error {
	lvl := zerolog.InfoLevel
	if level != "" {
		var err error
		if lvl, err = zerolog.ParseLevel(level); err != nil {
			return err
		}
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	mu.Lock()
	defer mu.Unlock()
	for _, f := range files {
		_ = f.Close()
	}
	files = nil
	if path == "" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	} else {
		f := rotating(path)
		files = append(files, f)
		out = f
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

// File returns a logger writing to its own rotated file at path, for output
// that should not mix with the main log. Reopen rotates it too.
func File(path string) zerolog.Logger {
	f := rotating(path)
	mu.Lock()
	files = append(files, f)
	mu.Unlock()
	return zerolog.New(f).With().Timestamp().Logger()
}

// Reopen rotates every file opened through this package.
func Reopen() error {
	mu.Lock()
	defer mu.Unlock()
	for _, f := range files {
		if err := f.Rotate(); err != nil {
			return err
		}
	}
	return nil
}

// Writer returns the current main log output.
func Writer() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}
