// Command snare runs an HTTP interception proxy for test environments.
// serve replays a recorded cassette as simulated responses; record
// captures live traffic into one.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/snarelabs/snare/internal/errx"
	"github.com/snarelabs/snare/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "snare",
	Short: "HTTP interception proxy for test environments",
	Long: `snare intercepts outbound HTTP(S) requests through a local forward
proxy, answers them from registered expectations, and records live
traffic into replayable cassettes. Point HTTP_PROXY/HTTPS_PROXY at the
listen address and trust the printed CA certificate; no client code
changes are needed.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setupLogging,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "auto", "Log format (auto, text, json)")
	rootCmd.PersistentFlags().String("log-file", "", "Write logs to a file instead of stderr")
	rootCmd.PersistentFlags().String("events", "", "Append machine-readable JSONL events to a file")

	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("events", rootCmd.PersistentFlags().Lookup("events"))

	viper.SetEnvPrefix("SNARE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func setupLogging(cmd *cobra.Command, args []string) error {
	levelName, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	logFile, _ := cmd.Flags().GetString("log-file")

	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return errx.With(ErrInvalidLogLevel, " %q", levelName)
	}

	var w io.Writer = os.Stderr
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errx.Wrap(ErrOpenLogFile, err)
		}
		w = f
		isTerminal = false
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "auto", "":
		if isTerminal {
			handler = slog.NewTextHandler(w, opts)
		} else {
			handler = slog.NewJSONHandler(w, opts)
		}
	default:
		return errx.With(ErrInvalidLogFormat, " %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// eventEmitter builds the machine-readable event stream configured by
// --events. The returned cleanup closes the underlying file; the
// emitter is nil when the flag is unset.
func eventEmitter(cmd *cobra.Command) (*logging.Emitter, func(), error) {
	path, _ := cmd.Flags().GetString("events")
	if path == "" {
		return nil, func() {}, nil
	}
	w, err := logging.NewJSONLWriter(path)
	if err != nil {
		return nil, nil, errx.Wrap(ErrOpenEventsFile, err)
	}
	emitter := logging.NewEmitter(logging.EmitterConfig{
		SessionID: "run-" + uuid.New().String()[:8],
	}, w)
	return emitter, func() { _ = emitter.Close() }, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
