package main

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/snarelabs/snare/internal/errx"
	"github.com/snarelabs/snare/pkg/cassette"
	"github.com/snarelabs/snare/pkg/intercept"
	"github.com/snarelabs/snare/pkg/match"
	"github.com/snarelabs/snare/pkg/proxy"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Replay a recorded cassette over a local proxy",
	Long: `Serve loads a cassette, registers every recorded exchange as an
expectation, and answers matching requests through a forward proxy.

Unmatched requests follow --net-connect:
  deny       reject with 403 (default)
  allow      forward to the real network
  PATTERN    forward only hosts matching the regexp`,
	Example: `  snare serve --cassette fixtures/github.yaml
  snare serve --cassette fixtures/github.yaml --addr 127.0.0.1:3128 --persistent
  snare serve --cassette fixtures/api.json --net-connect '.*\.internal:443'
  snare serve --cassette base.yaml --archive traffic.db --session run-42`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("cassette", "", "Cassette file to replay (required)")
	serveCmd.Flags().String("addr", "127.0.0.1:3128", "Proxy listen address")
	serveCmd.Flags().Bool("persistent", false, "Serve every exchange an unlimited number of times")
	serveCmd.Flags().Int("times", 0, "Serve each exchange at most N times (0 = once)")
	serveCmd.Flags().String("net-connect", "deny", "Unmatched request policy: allow, deny, or a host:port regexp")
	serveCmd.Flags().String("archive", "", "Also load exchanges from a cassette archive database")
	serveCmd.Flags().String("session", "", "Archive session to load (default: all sessions)")
	serveCmd.Flags().String("ca-dir", "", "Directory for the interception CA (default: in-memory)")
	serveCmd.MarkFlagRequired("cassette")

	viper.BindPFlag("serve.cassette", serveCmd.Flags().Lookup("cassette"))
	viper.BindPFlag("serve.addr", serveCmd.Flags().Lookup("addr"))
	viper.BindPFlag("serve.persistent", serveCmd.Flags().Lookup("persistent"))
	viper.BindPFlag("serve.times", serveCmd.Flags().Lookup("times"))
	viper.BindPFlag("serve.net-connect", serveCmd.Flags().Lookup("net-connect"))
	viper.BindPFlag("serve.archive", serveCmd.Flags().Lookup("archive"))
	viper.BindPFlag("serve.session", serveCmd.Flags().Lookup("session"))
	viper.BindPFlag("serve.ca-dir", serveCmd.Flags().Lookup("ca-dir"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cassettePath, _ := cmd.Flags().GetString("cassette")
	addr, _ := cmd.Flags().GetString("addr")
	persistent, _ := cmd.Flags().GetBool("persistent")
	times, _ := cmd.Flags().GetInt("times")
	netConnect, _ := cmd.Flags().GetString("net-connect")
	archivePath, _ := cmd.Flags().GetString("archive")
	session, _ := cmd.Flags().GetString("session")
	caDir, _ := cmd.Flags().GetString("ca-dir")

	logger := slog.Default()
	emitter, closeEvents, err := eventEmitter(cmd)
	if err != nil {
		return err
	}
	defer closeEvents()

	cas, err := cassette.Load(cassettePath)
	if err != nil {
		return errx.Wrap(ErrLoadCassette, err)
	}

	eng := intercept.New(intercept.Config{Logger: logger, Emitter: emitter})
	defer eng.Close()

	opts := cassette.ExpectOptions{Persistent: persistent, Times: times}
	for _, exp := range cassette.Expectations(cas, opts) {
		eng.Register(exp)
	}
	total := len(cas.Records)

	if archivePath != "" {
		stored, err := loadArchiveCassette(archivePath, session)
		if err != nil {
			return err
		}
		for _, exp := range cassette.Expectations(stored, opts) {
			eng.Register(exp)
		}
		total += len(stored.Records)
	}

	if err := applyNetConnect(eng, netConnect); err != nil {
		return err
	}

	srv, err := proxy.NewServer(eng, proxy.Config{Addr: addr, CADir: caDir, Logger: logger, Emitter: emitter})
	if err != nil {
		return errx.Wrap(ErrStartProxy, err)
	}
	if err := srv.Start(); err != nil {
		return errx.Wrap(ErrStartProxy, err)
	}
	defer srv.Close()

	fmt.Fprintf(os.Stderr, "Serving %d recorded exchanges on %s\n", total, srv.Addr())
	fmt.Fprintf(os.Stderr, "  HTTP_PROXY=http://%s HTTPS_PROXY=http://%s\n", srv.Addr(), srv.Addr())
	if path := srv.CA().CACertPath(); path != "" {
		fmt.Fprintf(os.Stderr, "  CA certificate: %s\n", path)
	}

	ctx, cancel := contextWithSignal(cmd.Context())
	defer cancel()
	<-ctx.Done()
	return nil
}

func loadArchiveCassette(path, session string) (*cassette.Cassette, error) {
	arch, err := cassette.OpenArchive(path)
	if err != nil {
		return nil, errx.Wrap(ErrOpenArchive, err)
	}
	defer arch.Close()

	stored, err := arch.Cassette(session)
	if err != nil {
		return nil, errx.Wrap(ErrOpenArchive, err)
	}
	return stored, nil
}

func applyNetConnect(eng *intercept.Engine, mode string) error {
	switch mode {
	case "deny", "":
		eng.DisableNetConnect()
	case "allow":
		eng.EnableNetConnect()
	default:
		re, err := regexp.Compile(mode)
		if err != nil {
			return errx.With(ErrInvalidNetConnect, " %q: %w", mode, err)
		}
		eng.EnableNetConnectMatching(match.Pattern(re))
	}
	return nil
}
