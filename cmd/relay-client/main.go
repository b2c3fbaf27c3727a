// Command relay-client connects to a WeeChat-relay-protocol chat server,
// keeping a synchronized model of its buffers, lines, and nicks in memory
// and exporting health and progress as Prometheus metrics.
//
// It does not render anything: the model is exposed only through
// cmd/relay-history (offline export) and the package APIs themselves,
// matching the separation of core state from presentation that the
// protocol notes call for.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/lith-project/relay-client/internal/archive"
	"github.com/lith-project/relay-client/internal/conn"
	"github.com/lith-project/relay-client/internal/model"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	relayHost       = flag.String("relay.host", "", "Relay server hostname or address (required).")
	relayPort       = flag.Int("relay.port", 9001, "Relay server port.")
	relayEncrypted  = flag.Bool("relay.tls", true, "Connect over TLS.")
	relayPassphrase = flag.String("relay.passphrase", "", "Relay handshake passphrase (required).")
	relayFingerprint = flag.String("relay.pinned-fingerprint", "",
		"Lowercase hex SHA-256 fingerprint of a self-signed leaf certificate to accept despite failing chain verification. Leave empty to require a verifiable chain.")
	promPort = flag.String("prom", ":9090", "Prometheus metrics export address and port. Default is ':9090'")

	archivePath = flag.String("archive", "", "If set, record every line to this zstd-compressed JSONL file. Disabled by default.")
)

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	rtx.Must(checkRequiredFlags(), "Missing required flags")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Expose prometheus metrics on a separate port.
	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(ctx)

	store := model.NewStore()
	controller := conn.New(store)

	if *archivePath != "" {
		sink, err := archive.Open(*archivePath)
		rtx.Must(err, "Could not open archive file %q", *archivePath)
		defer sink.Close()
		controller.Archive = sink
	}

	controller.SetSettings(conn.Settings{
		Host:              *relayHost,
		Port:              *relayPort,
		Encrypted:         *relayEncrypted,
		Passphrase:        *relayPassphrase,
		PinnedFingerprint: *relayFingerprint,
	})

	go logStateChanges(controller.StateChanges())

	// Run the controller until a shutdown signal arrives; it reconnects
	// internally on every network failure, so this only returns when ctx
	// is cancelled.
	if err := controller.Run(ctx); err != nil {
		log.Println("relay-client: shutting down:", err)
	}
}

func checkRequiredFlags() error {
	if *relayHost == "" {
		return errRequiredFlag("-relay.host")
	}
	if *relayPassphrase == "" {
		return errRequiredFlag("-relay.passphrase")
	}
	return nil
}

type errRequiredFlag string

func (e errRequiredFlag) Error() string {
	return string(e) + " is required"
}

func logStateChanges(changes <-chan conn.State) {
	for s := range changes {
		log.Println("relay-client: state ->", s)
	}
}
