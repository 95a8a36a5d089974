package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-storage/pkg/simplestorage"
	"github.com/tendant/simple-storage/pkg/simplestorage/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run executes one command line and releases the backend afterwards, also
// when the command failed
func run(args []string, stdout, stderr io.Writer) error {
	s := &session{}
	rootCmd := NewRootCommand(s)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.Execute()
	if cerr := s.close(stderr); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// globalFlags are shared by every subcommand
type globalFlags struct {
	configFile string
	storageURL string
	logLevel   string
	logFormat  string
	logFile    string
	metrics    bool
}

// session holds what a command needs once flags are parsed
type session struct {
	flags   globalFlags
	logger  *slog.Logger
	runtime *config.Runtime
	logSink io.Closer
}

func (s *session) service() simplestorage.Service {
	return s.runtime.Service
}

// NewRootCommand builds the storagectl command tree around s
func NewRootCommand(s *session) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "storagectl",
		Short: "Folder and document storage over pluggable backends",
		Long: `storagectl manages folders and documents kept in a storage backend.

The backend is chosen by --storage-url or STORAGE_URL: memory://, file:///dir,
s3://bucket, minio://host:port/bucket, postgres://..., sqlite:///file.db,
bolt:///file.db or redis://host:port/db.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.open(cmd)
		},
	}

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&s.flags.configFile, "config", "c", "", "config file (yaml, json or toml)")
	pf.StringVar(&s.flags.storageURL, "storage-url", "", "storage URL, overrides STORAGE_URL")
	pf.StringVar(&s.flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&s.flags.logFormat, "log-format", "text", "log format: text or json")
	pf.StringVar(&s.flags.logFile, "log-file", "", "write logs to a rotating file instead of stderr")
	pf.BoolVar(&s.flags.metrics, "metrics", false, "print backend metrics to stderr on exit")

	// Add subcommands
	rootCmd.AddCommand(NewMkdirCommand(s))
	rootCmd.AddCommand(NewPutCommand(s))
	rootCmd.AddCommand(NewGetCommand(s))
	rootCmd.AddCommand(NewListCommand(s))
	rootCmd.AddCommand(NewStatCommand(s))
	rootCmd.AddCommand(NewRemoveCommand(s))
	rootCmd.AddCommand(NewMoveCommand(s))
	rootCmd.AddCommand(NewCopyCommand(s))
	rootCmd.AddCommand(NewTagCommand(s))
	rootCmd.AddCommand(NewScanCommand(s))

	return rootCmd
}

func (s *session) open(cmd *cobra.Command) error {
	logger, sink, err := newLogger(s.flags, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	s.logger = logger
	s.logSink = sink

	opts := []config.Option{config.WithFile(s.flags.configFile), config.WithEnv()}
	if s.flags.storageURL != "" {
		opts = append(opts, config.WithStorageURL(s.flags.storageURL))
	}
	if s.flags.metrics {
		opts = append(opts, config.WithMetrics(true))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	s.runtime, err = cfg.Build(cmd.Context(), logger)
	if err != nil {
		return fmt.Errorf("failed to create storage service: %w", err)
	}
	logger.Debug("service ready", "driver", cfg.Driver(), "type", s.runtime.Service.Type())
	return nil
}

func (s *session) close(stderr io.Writer) error {
	var err error
	if s.runtime != nil {
		if s.runtime.Metrics != nil {
			err = s.runtime.Metrics.WritePrometheus(stderr)
		}
		if cerr := s.runtime.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if s.logSink != nil {
		if cerr := s.logSink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// newLogger builds the slog handler selected by flags. The returned closer
// is non-nil when logs go to a file.
func newLogger(flags globalFlags, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(flags.logLevel)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", flags.logLevel, err)
	}

	var out io.Writer = stderr
	var sink io.Closer
	if flags.logFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   flags.logFile,
			MaxSize:    128,
			MaxBackups: 5,
			MaxAge:     16,
		}
		out = rotating
		sink = rotating
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(flags.logFormat) {
	case "text", "":
		handler = slog.NewTextHandler(out, opts)
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		return nil, nil, fmt.Errorf("invalid log format %q (use text or json)", flags.logFormat)
	}
	return slog.New(handler), sink, nil
}
