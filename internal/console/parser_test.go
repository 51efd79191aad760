package console

import (
	"strings"
	"testing"
)

func TestParseSplitsVerbAndArgs(t *testing.T) {
	cmd, err := Parse([]byte("ls /queen/ctl"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Verb != "ls" || len(cmd.Args) != 1 || cmd.Args[0] != "/queen/ctl" {
		t.Fatalf("unexpected parse: %+v", cmd)
	}
}

func TestParseRejectsUnknownVerb(t *testing.T) {
	if _, err := Parse([]byte("frobnicate")); err == nil {
		t.Fatal("expected an error for an unrecognised verb")
	}
}

func TestParseRejectsOversizeLine(t *testing.T) {
	big := "echo " + strings.Repeat("x", 200)
	if _, err := Parse([]byte(big)); err == nil {
		t.Fatal("expected an error for a line over 128 bytes")
	}
}

func TestParseIsCaseInsensitiveOnVerb(t *testing.T) {
	cmd, err := Parse([]byte("HELP"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Verb != "help" {
		t.Fatalf("expected verb to be lowercased, got %q", cmd.Verb)
	}
}

func TestCheckTransportRejectsTCPOnlyVerbOnSerial(t *testing.T) {
	if err := CheckTransport("netstats", false); err == nil {
		t.Fatal("expected netstats to be rejected on the serial transport")
	}
	if err := CheckTransport("netstats", true); err != nil {
		t.Fatalf("netstats should be permitted over tcp: %v", err)
	}
	if err := CheckTransport("ls", false); err != nil {
		t.Fatalf("ls should be permitted on serial: %v", err)
	}
}
