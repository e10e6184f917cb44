// Package logging builds the zerolog loggers shared by the server packages.
package logging

import (
	"context"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
)

type ctxKey string

// ReqIDKey holds the request id in a request context.
const ReqIDKey ctxKey = "reqID"

// Config controls log level and destination.
type Config struct {
	Level     string
	Pretty    bool
	File      string
	MaxSizeMB int
	MaxAgeDay int
}

// output lets package-level loggers created at init time follow Configure.
var output = &switchWriter{w: os.Stdout}

type switchWriter struct {
	mu sync.RWMutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.w.Write(p)
}

func (s *switchWriter) set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "time"
	l := NewLogger()
	zerolog.DefaultContextLogger = &l
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		function := ""
		fun := runtime.FuncForPC(pc)
		if fun != nil {
			funName := fun.Name()
			slash := strings.LastIndex(funName, "/")
			if slash > 0 {
				funName = funName[slash+1:]
			}
			function = " " + funName + "()"
		}
		return file + ":" + strconv.Itoa(line) + function
	}
	if os.Getenv("PRETTY") == "1" {
		output.set(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// NewLogger returns a logger writing to the shared output.
func NewLogger() zerolog.Logger {
	return zerolog.New(output).With().Timestamp().Logger().Hook(CallerHook{})
}

// Configure applies cfg to every logger created by NewLogger. When cfg.File
// is set, logs go to a size-rotated file instead of stdout.
func Configure(cfg Config) error {
	if cfg.Level != "" {
		lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(lvl)
	}

	var w io.Writer = os.Stdout
	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  cfg.MaxSizeMB, // megabytes
			MaxAge:   cfg.MaxAgeDay, // days
		}
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, NoColor: cfg.File != ""}
	}
	output.set(w)
	return nil
}

// FromContext returns the request logger, falling back to the default
// context logger installed at init.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

type CallerHook struct{}

func (h CallerHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Caller(3)
}
