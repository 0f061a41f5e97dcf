package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

// Logger is a type alias for zerolog.Logger.
// We use zerolog directly instead of wrapping it with abstractions.
type Logger = zerolog.Logger

// Config contains logging configuration options.
type Config struct {
	// Level is the log level: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the log format: "json" or "text"
	// Default: "json"
	Format string `yaml:"format"`

	// Async enables non-blocking logging through a diode ring buffer.
	// Default: true
	Async bool `yaml:"async"`

	// AsyncBufferSize is the size of the async ring buffer (in messages).
	// Default: 100000
	AsyncBufferSize int `yaml:"async_buffer_size"`

	// AsyncPollInterval is how often the async writer polls for messages (in milliseconds).
	// Default: 100
	AsyncPollInterval int `yaml:"async_poll_interval"`

	// Sampling enables probabilistic log sampling to reduce volume.
	// Default: false
	Sampling bool `yaml:"sampling"`

	// SamplingInitial is the number of messages to log before sampling kicks in.
	// Default: 100
	SamplingInitial int `yaml:"sampling_initial"`

	// SamplingThereafter logs 1 in N messages after the initial count.
	// Default: 10
	SamplingThereafter int `yaml:"sampling_thereafter"`

	// EnableCaller adds caller information (file:line) to logs.
	// Default: false
	EnableCaller bool `yaml:"enable_caller"`
}

// DefaultConfig returns a Config with performance-optimized defaults.
func DefaultConfig() Config {
	return Config{
		Level:              "info",
		Format:             "json",
		Async:              true,
		AsyncBufferSize:    100000,
		AsyncPollInterval:  100,
		Sampling:           false,
		SamplingInitial:    100,
		SamplingThereafter: 10,
		EnableCaller:       false,
	}
}

// Validate checks the level and format values.
func (c Config) Validate() error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q: must be debug, info, warn or error", c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log format %q: must be json or text", c.Format)
	}
	return nil
}

// NewLoggerFromConfig creates a logger writing to stderr.
func NewLoggerFromConfig(config Config) Logger {
	return NewLoggerWithWriter(config, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to out.
// Performance notes:
// - Async writing via diode (non-blocking ring buffer)
// - Optional sampling for extreme throughput
func NewLoggerWithWriter(config Config, out io.Writer) Logger {
	level := parseLevel(config.Level)

	var output = out

	if strings.ToLower(config.Format) == "text" {
		output = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
			FormatLevel: func(i interface{}) string {
				var level string
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						level = "\033[35m" + "DBG" + "\033[0m"
					case "info":
						level = "\033[32m" + "INF" + "\033[0m"
					case "warn":
						level = "\033[33m" + "WRN" + "\033[0m"
					case "error":
						level = "\033[31m" + "ERR" + "\033[0m"
					case "fatal", "panic":
						level = "\033[31;1m" + strings.ToUpper(ll[:3]) + "\033[0m"
					default:
						level = "???"
					}
				}
				return level
			},
		}
	}

	if config.Async {
		bufferSize := config.AsyncBufferSize
		if bufferSize <= 0 {
			bufferSize = 100000
		}

		pollInterval := config.AsyncPollInterval
		if pollInterval <= 0 {
			pollInterval = 100
		}

		// Diode drops old messages when the buffer is full. The callback cannot
		// use the logger (recursion), so it writes directly to stderr.
		output = diode.NewWriter(output, bufferSize, time.Duration(pollInterval)*time.Millisecond, func(missed int) {
			if missed > 0 {
				_, _ = os.Stderr.WriteString("WARN: dropped log messages due to full buffer\n")
			}
		})
	}

	ctx := zerolog.New(output).Level(level).With().Timestamp()
	if config.EnableCaller {
		ctx = ctx.Caller()
	}
	logger := ctx.Logger()

	if config.Sampling {
		initial := config.SamplingInitial
		thereafter := config.SamplingThereafter
		if initial <= 0 {
			initial = 100
		}
		if thereafter <= 0 {
			thereafter = 10
		}

		logger = logger.Sample(&zerolog.BurstSampler{
			Burst:       uint32(initial),
			NextSampler: &zerolog.BasicSampler{N: uint32(thereafter)},
		})
	}

	return logger
}

// parseLevel returns the zerolog.Level for the given string. It returns InfoLevel
// if the string is not recognized.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent returns a child logger with the component field set.
func WithComponent(logger Logger, component string) Logger {
	return logger.With().Str(FieldComponent, component).Logger()
}

// ForComponent returns a logger configured for a specific component.
// This is the preferred way to create component loggers.
func ForComponent(logger Logger, component string) Logger {
	return WithComponent(logger, component)
}

// WithBatch returns a child logger with the batch_id field set.
func WithBatch(logger Logger, batchID string) Logger {
	return logger.With().Str(FieldBatchID, batchID).Logger()
}
