package main

import (
	"testing"
	"time"

	"github.com/lith-project/relay-client/internal/conn"
)

// resetFlag temporarily overwrites a flag.Value-backed variable for the
// duration of a subtest and restores it afterward.
func resetFlag(t *testing.T, f *string, val string) {
	t.Helper()
	old := *f
	*f = val
	t.Cleanup(func() { *f = old })
}

func TestCheckRequiredFlagsRejectsMissingHost(t *testing.T) {
	resetFlag(t, relayHost, "")
	resetFlag(t, relayPassphrase, "secret")
	if err := checkRequiredFlags(); err == nil {
		t.Error("expected an error when -relay.host is unset")
	}
}

func TestCheckRequiredFlagsRejectsMissingPassphrase(t *testing.T) {
	resetFlag(t, relayHost, "relay.example.com")
	resetFlag(t, relayPassphrase, "")
	if err := checkRequiredFlags(); err == nil {
		t.Error("expected an error when -relay.passphrase is unset")
	}
}

func TestCheckRequiredFlagsPassesWhenBothSet(t *testing.T) {
	resetFlag(t, relayHost, "relay.example.com")
	resetFlag(t, relayPassphrase, "secret")
	if err := checkRequiredFlags(); err != nil {
		t.Errorf("checkRequiredFlags() = %v, want nil", err)
	}
}

func TestErrRequiredFlagMessage(t *testing.T) {
	err := errRequiredFlag("-relay.host")
	if err.Error() != "-relay.host is required" {
		t.Errorf("Error() = %q, want %q", err.Error(), "-relay.host is required")
	}
}

func TestLogStateChangesDrainsUntilClosed(t *testing.T) {
	ch := make(chan conn.State, 2)
	ch <- conn.Connecting
	ch <- conn.Connected
	close(ch)

	done := make(chan struct{})
	go func() {
		logStateChanges(ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("logStateChanges did not return after its channel was closed")
	}
}

