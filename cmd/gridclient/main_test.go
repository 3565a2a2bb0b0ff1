package main

import (
	"bytes"
	"errors"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/gridrelay/internal/session"
)

func TestParseArgs(t *testing.T) {
	var stderr bytes.Buffer
	a, err := parseArgs([]string{"-interact", "0.5", "-connect", "2", "-call-timeout", "5s", "localhost:8080", "compute", "c-1"}, &stderr)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if a.interact != 30*time.Second || a.connect != 2*time.Minute {
		t.Errorf("waits = %v, %v", a.interact, a.connect)
	}
	if a.callTimeout != 5*time.Second {
		t.Errorf("callTimeout = %v, want 5s", a.callTimeout)
	}
	if a.server != "localhost:8080" || a.binding != "compute" || a.clientID != "c-1" {
		t.Errorf("positional args = %+v", a)
	}
}

func TestParseArgsDefaults(t *testing.T) {
	var stderr bytes.Buffer
	a, err := parseArgs([]string{"host", "b", "c"}, &stderr)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if a.interact != time.Minute || a.connect != 5*time.Minute {
		t.Errorf("waits = %v, %v", a.interact, a.connect)
	}
	if a.callTimeout != session.DefaultCallTimeout {
		t.Errorf("callTimeout = %v, want %v", a.callTimeout, session.DefaultCallTimeout)
	}
}

func TestParseArgsMalformed(t *testing.T) {
	tests := []struct {
		name string
		argv []string
	}{
		{"no args", nil},
		{"missing client id", []string{"host", "binding"}},
		{"extra arg", []string{"host", "binding", "client", "more"}},
		{"bad number", []string{"-interact", "soon", "host", "binding", "client"}},
		{"zero wait", []string{"-connect", "0", "host", "binding", "client"}},
		{"zero call timeout", []string{"-call-timeout", "0s", "host", "binding", "client"}},
		{"unknown flag", []string{"-verbose", "host", "binding", "client"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			_, err := parseArgs(tt.argv, &stderr)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, flag.ErrHelp) {
				t.Fatal("malformed input reported as help")
			}
			if !strings.Contains(stderr.String(), usage) {
				t.Errorf("usage not printed: %q", stderr.String())
			}
		})
	}
}
