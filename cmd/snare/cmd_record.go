package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/snarelabs/snare/internal/errx"
	"github.com/snarelabs/snare/pkg/cassette"
	"github.com/snarelabs/snare/pkg/intercept"
	"github.com/snarelabs/snare/pkg/proxy"
	"github.com/snarelabs/snare/pkg/recorder"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record live HTTP(S) traffic into a cassette",
	Long: `Record runs a forwarding proxy that captures every exchange passing
through it. With --command the given program is spawned with HTTP_PROXY,
HTTPS_PROXY, and CA trust variables pointing at the proxy, and recording
stops when it exits. Without --command, recording runs until SIGINT.

The captured traffic is written as a cassette (--out, format chosen by
extension or --format) or as replay-script text (--format script).`,
	Example: `  snare record --out traffic.yaml --command "curl https://api.github.com/zen"
  snare record --out traffic.json --redact token --redact user.email
  snare record --format script --command "python fetch.py"
  snare record --archive traffic.db --session nightly --out run.cbor`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().String("out", "", "Output file; extension selects the format unless --format is set")
	recordCmd.Flags().String("format", "auto", "Output format (auto, json, yaml, cbor, script)")
	recordCmd.Flags().String("addr", "127.0.0.1:3128", "Proxy listen address")
	recordCmd.Flags().String("command", "", "Command to run behind the proxy")
	recordCmd.Flags().StringSlice("redact", nil, "JSON body path to redact (can be repeated)")
	recordCmd.Flags().Bool("echo", false, "Print each capture to stderr as it happens")
	recordCmd.Flags().Bool("objects", false, "Echo and list structured records instead of replay scripts")
	recordCmd.Flags().Bool("req-headers", false, "Capture request headers (replays then require them)")
	recordCmd.Flags().String("archive", "", "Append recorded exchanges to a cassette archive database")
	recordCmd.Flags().String("session", "", "Archive session name (default: a fresh UUID)")
	recordCmd.Flags().String("ca-dir", "", "Directory for the interception CA (default: in-memory)")

	viper.BindPFlag("record.out", recordCmd.Flags().Lookup("out"))
	viper.BindPFlag("record.format", recordCmd.Flags().Lookup("format"))
	viper.BindPFlag("record.addr", recordCmd.Flags().Lookup("addr"))
	viper.BindPFlag("record.command", recordCmd.Flags().Lookup("command"))
	viper.BindPFlag("record.redact", recordCmd.Flags().Lookup("redact"))
	viper.BindPFlag("record.echo", recordCmd.Flags().Lookup("echo"))
	viper.BindPFlag("record.objects", recordCmd.Flags().Lookup("objects"))
	viper.BindPFlag("record.req-headers", recordCmd.Flags().Lookup("req-headers"))
	viper.BindPFlag("record.archive", recordCmd.Flags().Lookup("archive"))
	viper.BindPFlag("record.session", recordCmd.Flags().Lookup("session"))
	viper.BindPFlag("record.ca-dir", recordCmd.Flags().Lookup("ca-dir"))

	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	format, _ := cmd.Flags().GetString("format")
	addr, _ := cmd.Flags().GetString("addr")
	command, _ := cmd.Flags().GetString("command")
	redact, _ := cmd.Flags().GetStringSlice("redact")
	echo, _ := cmd.Flags().GetBool("echo")
	objects, _ := cmd.Flags().GetBool("objects")
	reqHeaders, _ := cmd.Flags().GetBool("req-headers")
	archivePath, _ := cmd.Flags().GetString("archive")
	session, _ := cmd.Flags().GetString("session")
	caDir, _ := cmd.Flags().GetString("ca-dir")

	switch format {
	case "auto", "json", "yaml", "cbor", "script":
	default:
		return errx.With(ErrUnknownOutputFormat, " %q", format)
	}

	logger := slog.Default()
	emitter, closeEvents, err := eventEmitter(cmd)
	if err != nil {
		return err
	}
	defer closeEvents()

	eng := intercept.New(intercept.Config{Logger: logger, Emitter: emitter})
	defer eng.Close()

	recOpts := recorder.Options{
		OutputObjects:        objects,
		RedactJSONPaths:      redact,
		RecordRequestHeaders: reqHeaders,
	}
	if echo {
		recOpts.Echo = os.Stderr
	}
	if err := eng.StartRecording(recOpts); err != nil {
		return errx.Wrap(ErrStartRecording, err)
	}

	srv, err := proxy.NewServer(eng, proxy.Config{Addr: addr, CADir: caDir, Logger: logger, Emitter: emitter})
	if err != nil {
		return errx.Wrap(ErrStartProxy, err)
	}
	if err := srv.Start(); err != nil {
		return errx.Wrap(ErrStartProxy, err)
	}
	defer srv.Close()

	ctx, cancel := contextWithSignal(cmd.Context())
	defer cancel()

	if command != "" {
		if err := runBehindProxy(ctx, srv, command); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(os.Stderr, "Recording on %s (Ctrl-C to stop)\n", srv.Addr())
		fmt.Fprintf(os.Stderr, "  HTTP_PROXY=http://%s HTTPS_PROXY=http://%s\n", srv.Addr(), srv.Addr())
		if path := srv.CA().CACertPath(); path != "" {
			fmt.Fprintf(os.Stderr, "  CA certificate: %s\n", path)
		}
		<-ctx.Done()
	}

	eng.StopRecording()
	records := eng.Recorder().Records()
	fmt.Fprintf(os.Stderr, "Recorded %d exchanges\n", len(records))

	if archivePath != "" {
		if err := archiveRecords(archivePath, session, records); err != nil {
			return err
		}
	}
	return writeOutput(out, format, eng.Recorder())
}

// runBehindProxy spawns the command with proxy and CA trust variables so
// its HTTP(S) traffic flows through the recording proxy.
func runBehindProxy(ctx context.Context, srv *proxy.Server, command string) error {
	words, err := shellquote.Split(command)
	if err != nil {
		return errx.With(ErrParseCommand, " %q: %w", command, err)
	}
	if len(words) == 0 {
		return errx.With(ErrParseCommand, ": empty command")
	}

	caPath := srv.CA().CACertPath()
	if caPath == "" {
		f, err := os.CreateTemp("", "snare-ca-*.crt")
		if err != nil {
			return errx.Wrap(ErrWriteCACert, err)
		}
		if _, err := f.Write(srv.CAPEM()); err != nil {
			f.Close()
			return errx.Wrap(ErrWriteCACert, err)
		}
		if err := f.Close(); err != nil {
			return errx.Wrap(ErrWriteCACert, err)
		}
		caPath = f.Name()
		defer os.Remove(caPath)
	}

	proxyURL := "http://" + srv.Addr()
	child := exec.CommandContext(ctx, words[0], words[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.Env = append(os.Environ(),
		"HTTP_PROXY="+proxyURL,
		"HTTPS_PROXY="+proxyURL,
		"http_proxy="+proxyURL,
		"https_proxy="+proxyURL,
		"SSL_CERT_FILE="+caPath,
		"REQUESTS_CA_BUNDLE="+caPath,
		"CURL_CA_BUNDLE="+caPath,
		"NODE_EXTRA_CA_CERTS="+caPath,
	)

	if err := child.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Keep the capture; the traffic up to the failure is still useful.
			fmt.Fprintf(os.Stderr, "Command exited with status %d\n", exitErr.ExitCode())
			return nil
		}
		return errx.Wrap(ErrRunCommand, err)
	}
	return nil
}

func archiveRecords(path, session string, records []recorder.Record) error {
	if session == "" {
		session = uuid.New().String()
	}
	arch, err := cassette.OpenArchive(path)
	if err != nil {
		return errx.Wrap(ErrOpenArchive, err)
	}
	defer arch.Close()

	if err := arch.InsertAll(session, records); err != nil {
		return errx.Wrap(ErrAppendArchive, err)
	}
	fmt.Fprintf(os.Stderr, "Archived %d exchanges to %s (session %s)\n", len(records), path, session)
	return nil
}

// writeOutput writes the capture to path. Format auto defers to the file
// extension; script renders replay-script text; a concrete cassette
// format is honored regardless of extension. No path prints script text
// to stdout.
func writeOutput(path, format string, rec *recorder.Recorder) error {
	if format == "script" || (format == "auto" && path == "") {
		text := rec.ScriptText()
		if path == "" {
			if text != "" {
				fmt.Println(text)
			}
			return nil
		}
		if err := os.WriteFile(path, []byte(text), 0644); err != nil {
			return errx.Wrap(ErrWriteOutput, err)
		}
		return nil
	}

	cas := cassette.New(rec.Records()...)
	if format == "auto" {
		if err := cassette.Save(path, cas); err != nil {
			return errx.Wrap(ErrWriteOutput, err)
		}
		return nil
	}
	if path == "" {
		return errx.With(ErrUnknownOutputFormat, ": --out is required for format %q", format)
	}
	codec, ok := cassette.LookupCodec("." + format)
	if !ok {
		return errx.With(ErrUnknownOutputFormat, " %q", format)
	}
	data, err := codec.Marshal(cas)
	if err != nil {
		return errx.Wrap(ErrWriteOutput, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errx.Wrap(ErrWriteOutput, err)
	}
	return nil
}
