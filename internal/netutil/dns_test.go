package netutil

import (
	"context"
	"net"
	"testing"
)

func TestPickIPPrefersIPv4(t *testing.T) {
	got, err := pickIP([]string{"2001:db8::1", "192.0.2.7"})
	if err != nil {
		t.Fatalf("pickIP: %v", err)
	}
	if got != "192.0.2.7" {
		t.Errorf("pickIP = %s, want 192.0.2.7", got)
	}

	got, _ = pickIP([]string{"2001:db8::1"})
	if got != "2001:db8::1" {
		t.Errorf("pickIP = %s, want the only address", got)
	}

	if _, err := pickIP(nil); err == nil {
		t.Error("expected error for empty list")
	}
}

func TestLookupLiteralIP(t *testing.T) {
	got, err := Lookup(context.Background(), "127.0.0.1")
	if err != nil || got != "127.0.0.1" {
		t.Errorf("Lookup = %q, %v", got, err)
	}
}

func TestDialContextLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	conn, err := DialContext(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	conn.Close()
}
