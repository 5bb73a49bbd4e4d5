package main

import (
	"testing"
	"time"
)

func TestHostOf(t *testing.T) {
	cases := map[string]string{
		"https://hub.example.com/ingress": "hub.example.com",
		"http://localhost:8080":           "localhost:8080",
		"hub.example.com":                 "hub.example.com",
	}
	for input, want := range cases {
		if got := hostOf(input); got != want {
			t.Errorf("hostOf(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestReconcileInterval(t *testing.T) {
	if got := reconcileInterval("@hourly"); got != time.Hour {
		t.Errorf("expected @hourly to resolve to 1h, got %v", got)
	}
	if got := reconcileInterval("@every 15m"); got != 15*time.Minute {
		t.Errorf("expected @every 15m to resolve to 15m, got %v", got)
	}
	if got := reconcileInterval("garbage"); got != time.Hour {
		t.Errorf("expected an unrecognized schedule to fall back to hourly, got %v", got)
	}
}
