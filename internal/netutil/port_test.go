package netutil

import (
	"net"
	"testing"
)

// grabPort reserves a loopback port and returns its address, optionally
// keeping the listener open to simulate a busy agent port.
func grabPort(t *testing.T, keepOpen bool) (string, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	if keepOpen {
		return addr, func() { _ = ln.Close() }
	}
	_ = ln.Close()
	return addr, func() {}
}

func TestSelectBindAddrPreferredFree(t *testing.T) {
	addr, cleanup := grabPort(t, false)
	defer cleanup()

	got, err := SelectBindAddr(addr, nil, false)
	if err != nil {
		t.Fatalf("SelectBindAddr: %v", err)
	}
	if got != addr {
		t.Errorf("bind addr = %q, want the free preferred address %q", got, addr)
	}
}

func TestSelectBindAddrFallsBackWhenBusy(t *testing.T) {
	busy, cleanup := grabPort(t, true)
	defer cleanup()
	free, cleanupFree := grabPort(t, false)
	defer cleanupFree()

	got, err := SelectBindAddr(busy, []string{busy, free}, true)
	if err != nil {
		t.Fatalf("SelectBindAddr: %v", err)
	}
	if got != free {
		t.Errorf("bind addr = %q, want fallback %q past the busy port", got, free)
	}
}

func TestSelectBindAddrBusyWithoutFallback(t *testing.T) {
	busy, cleanup := grabPort(t, true)
	defer cleanup()

	if _, err := SelectBindAddr(busy, []string{busy}, false); err == nil {
		t.Error("expected an error when the preferred port is held and fallback is off")
	}
}

func TestSelectBindAddrNoCandidates(t *testing.T) {
	busy, cleanup := grabPort(t, true)
	defer cleanup()

	if _, err := SelectBindAddr(busy, nil, true); err == nil {
		t.Error("expected an error when every candidate is exhausted")
	}
}
