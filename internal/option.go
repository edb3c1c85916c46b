package internal

import (
	"io"
	"log/slog"
	"os"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	logger *slog.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	assumeYes bool
	noPrompt  bool
	terminal  bool
}

func newApplication(opts []Option) *application {
	app := &application{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger overrides the JSON logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithIO sets the streams used by client commands.
func WithIO(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(a *application) {
		a.stdin = stdin
		a.stdout = stdout
		a.stderr = stderr
	}
}

// newLogger returns the configured logger, or a JSON logger writing to w.
func (a *application) newLogger(w io.Writer) *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
}

// WithAssumeYes answers every confirmation with yes.
func WithAssumeYes(yes bool) Option {
	return func(a *application) {
		a.assumeYes = yes
	}
}

// WithNoPrompt keeps client commands off stdin: confirmations are assumed
// and new documents take the template name.
func WithNoPrompt() Option {
	return func(a *application) {
		a.noPrompt = true
		a.assumeYes = true
	}
}

// WithTerminalUI routes workbench questions to the terminal UI started by
// Client.ServeTUI instead of reading stdin lines.
func WithTerminalUI() Option {
	return func(a *application) {
		a.terminal = true
	}
}
