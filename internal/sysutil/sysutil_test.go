package sysutil

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	want := map[string]zerolog.Level{
		"debug":     zerolog.DebugLevel,
		"  DeBuG  ": zerolog.DebugLevel,
		"warning":   zerolog.WarnLevel,
		"WARN":      zerolog.WarnLevel,
		"error":     zerolog.ErrorLevel,
		"fatal":     zerolog.FatalLevel,
		"panic":     zerolog.PanicLevel,
		"info":      zerolog.InfoLevel,
		"":          zerolog.InfoLevel,
		"verbose":   zerolog.InfoLevel,
	}
	for in, lvl := range want {
		if got := ParseLevel(in); got != lvl {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, lvl)
		}
	}
}

func TestSetLogLevel_Global(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	SetLogLevel("error")
	if zerolog.GlobalLevel() != zerolog.ErrorLevel {
		t.Fatalf("global level = %v", zerolog.GlobalLevel())
	}
}

func TestSetupLogger_JSON(t *testing.T) {
	origLevel, origLogger := zerolog.GlobalLevel(), log.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(origLevel)
		log.Logger = origLogger
	})

	var buf bytes.Buffer
	lg := SetupLogger(&buf, "warn", false, "")
	lg.Info().Msg("dropped")
	log.Warn().Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("want one line, got %q", buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if m["message"] != "kept" || m["service"] != "max-bridge" || m["time"] == nil {
		t.Fatalf("fields = %v", m)
	}
}

func TestSetupLogger_Pretty(t *testing.T) {
	origLevel, origLogger := zerolog.GlobalLevel(), log.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(origLevel)
		log.Logger = origLogger
	})

	var buf bytes.Buffer
	lg := SetupLogger(&buf, "info", true, "bridge-test")
	lg.Info().Msg("hello")
	out := buf.String()
	if strings.HasPrefix(out, "{") || !strings.Contains(out, "hello") || !strings.Contains(out, "bridge-test") {
		t.Fatalf("pretty output = %q", out)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{" ", "\t", "\n"}, ""},
		{[]string{"", "bot.example"}, "bot.example"},
		{[]string{"   ", "  keep spacing  ", "later"}, "  keep spacing  "},
	}
	for _, tc := range cases {
		if got := FirstNonEmpty(tc.in...); got != tc.want {
			t.Errorf("FirstNonEmpty(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
