package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"

	"pkt.systems/vtview/internal/appconfig"
	"pkt.systems/vtview/internal/eventbus"
	"pkt.systems/vtview/internal/wire"
	"pkt.systems/vtview/schema"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"attach": false, "dump": false, "config": false, "version": false}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("expected root command to include %s", name)
		}
	}
	for _, flag := range []string{"config", "url", "origin", "session", "coordinator", "theme"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Fatalf("expected persistent flag --%s", flag)
		}
	}
}

func TestApplyOverrides(t *testing.T) {
	tests := []struct {
		name    string
		opts    rootOptions
		args    []string
		want    func(*appconfig.Config)
		wantErr error
	}{
		{
			name: "positional session",
			args: []string{"edge:build"},
			want: func(c *appconfig.Config) {
				c.Session.ID = "build"
				c.Session.Coordinator = "edge"
			},
		},
		{
			name: "session flag with coordinator flag",
			opts: rootOptions{session: "build", coordinator: "edge"},
			want: func(c *appconfig.Config) {
				c.Session.ID = "build"
				c.Session.Coordinator = "edge"
			},
		},
		{
			name: "origin clears configured url",
			opts: rootOptions{origin: "https://vtr.example"},
			want: func(c *appconfig.Config) {
				c.Server.Origin = "https://vtr.example"
				c.Server.URL = ""
			},
		},
		{
			name: "url and theme",
			opts: rootOptions{url: "ws://host/api/ws", theme: "gruvbox"},
			want: func(c *appconfig.Config) {
				c.Server.URL = "ws://host/api/ws"
				c.View.Theme = "gruvbox"
			},
		},
		{
			name:    "session twice",
			opts:    rootOptions{session: "a"},
			args:    []string{"b"},
			wantErr: schema.ErrInvalidSession,
		},
	}
	for _, tc := range tests {
		cfg := appconfig.DefaultConfig()
		cfg.Server.URL = "ws://configured/api/ws"
		want := cfg
		opts := tc.opts
		err := applyOverrides(&cfg, &opts, tc.args)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("%s: expected %v, got %v", tc.name, tc.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		tc.want(&want)
		if diff := cmp.Diff(want, cfg); diff != "" {
			t.Fatalf("%s: config mismatch (-want +got):\n%s", tc.name, diff)
		}
	}
}

func TestResolveSettings(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "config.yaml")
	opts := &rootOptions{configPath: missing, origin: "https://vtr.example:8443"}
	settings, err := resolveSettings(opts, []string{"demo"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if settings.url != "wss://vtr.example:8443/api/ws" {
		t.Fatalf("unexpected url %q", settings.url)
	}
	if settings.target != (schema.SessionRef{ID: "demo"}) {
		t.Fatalf("unexpected target %+v", settings.target)
	}
	if settings.themeName() != schema.DefaultTheme {
		t.Fatalf("unexpected theme %q", settings.themeName())
	}
	vc := settings.viewerConfig(true)
	if vc.Backoff.Base != 500*time.Millisecond || vc.FrameInterval != 16*time.Millisecond || !vc.IncludeRawOutput {
		t.Fatalf("unexpected viewer config %+v", vc)
	}

	if _, err := resolveSettings(&rootOptions{configPath: missing}, nil); !errors.Is(err, schema.ErrInvalidSession) {
		t.Fatalf("expected missing session error, got %v", err)
	}
	if _, err := resolveSettings(&rootOptions{configPath: missing, theme: "paper"}, []string{"demo"}); !errors.Is(err, schema.ErrInvalidTheme) {
		t.Fatalf("expected theme error, got %v", err)
	}
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		in      string
		want    *schema.Selection
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "0,1:1,2", want: &schema.Selection{Start: schema.Position{Row: 0, Col: 1}, End: schema.Position{Row: 1, Col: 2}}},
		{in: "2,0:0,3", want: &schema.Selection{Start: schema.Position{Row: 0, Col: 3}, End: schema.Position{Row: 2, Col: 0}}},
		{in: " 1 , 1 : 1 , 4 ", want: &schema.Selection{Start: schema.Position{Row: 1, Col: 1}, End: schema.Position{Row: 1, Col: 4}}},
		{in: "0,1", wantErr: true},
		{in: "a,1:1,1", wantErr: true},
		{in: "0,-1:1,1", wantErr: true},
	}
	for _, tc := range tests {
		got, err := parseSelection(tc.in)
		if tc.wantErr {
			if !errors.Is(err, schema.ErrInvalidSelection) {
				t.Fatalf("parseSelection(%q): expected ErrInvalidSelection, got %v", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseSelection(%q): %v", tc.in, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("parseSelection(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestPumpInputStopsAtDetach(t *testing.T) {
	var sent [][]byte
	send := func(data []byte) { sent = append(sent, data) }
	if err := pumpInput(strings.NewReader("ls -l\r\x1dafter"), 0x1d, send); err != nil {
		t.Fatalf("pump: %v", err)
	}
	if len(sent) != 1 || string(sent[0]) != "ls -l\r" {
		t.Fatalf("unexpected sends %q", sent)
	}

	sent = nil
	if err := pumpInput(strings.NewReader("\x1d"), 0x1d, send); err != nil {
		t.Fatalf("pump: %v", err)
	}
	if len(sent) != 0 {
		t.Fatalf("expected nothing sent, got %q", sent)
	}

	sent = nil
	if err := pumpInput(strings.NewReader("abc"), 0x1d, send); err != nil {
		t.Fatalf("pump to EOF: %v", err)
	}
	if len(sent) != 1 || string(sent[0]) != "abc" {
		t.Fatalf("unexpected sends %q", sent)
	}
}

func TestStatusRows(t *testing.T) {
	for rows, want := range map[int]int{24: 23, 2: 1, 1: 1, 0: 1} {
		if got := statusRows(rows); got != want {
			t.Fatalf("statusRows(%d) = %d, want %d", rows, got, want)
		}
	}
}

func TestWriteRawLog(t *testing.T) {
	bus := eventbus.New(nil)
	events, cancel := bus.Subscribe()
	bus.OnRawOutput([]byte("out"))
	bus.OnExit(3)
	cancel()
	var buf bytes.Buffer
	writeRawLog(events, &buf)
	if got := buf.String(); got != "out\r\n[session exited 3]\r\n" {
		t.Fatalf("unexpected raw log %q", got)
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "vtview") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "init", "--config", path})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if strings.TrimSpace(out.String()) != path {
		t.Fatalf("unexpected init output %q", out.String())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	root = newRootCmd()
	root.SetArgs([]string{"config", "init", "--config", path})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatalf("expected init without --force to fail")
	}

	root = newRootCmd()
	out.Reset()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "show", "--config", path, "--theme", "tokyo", "edge:demo"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"theme: tokyo", "id: demo", "coordinator: edge", "config_version: 1"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in config show output:\n%s", want, out.String())
		}
	}
}

func TestDumpPrintsScreen(t *testing.T) {
	url := screenServer(t, func(conn net.Conn) {
		out, _ := wire.Encode(&wire.Event{ScreenUpdate: &schema.ScreenUpdate{
			FrameID:    1,
			IsKeyframe: true,
			Snapshot: &schema.ScreenSnapshot{
				Cols:    3,
				Rows:    2,
				RowData: [][]schema.Cell{textRow("$ l"), textRow("ok ")},
			},
		}})
		_ = wsutil.WriteServerBinary(conn, out)
	})

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"dump", "--config", filepath.Join(t.TempDir(), "none.yaml"), "--url", url, "--timeout", "5s", "demo"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("dump: %v", err)
	}
	if got := out.String(); got != "$ l\nok\n" {
		t.Fatalf("unexpected dump %q", got)
	}

	root = newRootCmd()
	out.Reset()
	root.SetOut(&out)
	root.SetArgs([]string{"dump", "--config", filepath.Join(t.TempDir(), "none.yaml"), "--url", url, "--select", "0,2:1,0", "demo"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("dump selection: %v", err)
	}
	if got := out.String(); got != "l\no\n" {
		t.Fatalf("unexpected selection dump %q", got)
	}

	root = newRootCmd()
	out.Reset()
	root.SetOut(&out)
	root.SetArgs([]string{"dump", "--config", filepath.Join(t.TempDir(), "none.yaml"), "--url", url, "--select", "0,0:9223372036854775807,0", "demo"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("dump with rows past the screen: %v", err)
	}
	if got := out.String(); got != "$ l\nok\n" {
		t.Fatalf("unexpected clamped dump %q", got)
	}
}

func TestDumpFailsOnTerminalStatus(t *testing.T) {
	url := screenServer(t, func(conn net.Conn) {
		out, _ := wire.Encode(&wire.Status{Code: codes.NotFound, Message: "session not found"})
		_ = wsutil.WriteServerBinary(conn, out)
	})
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"dump", "--config", filepath.Join(t.TempDir(), "none.yaml"), "--url", url, "--timeout", "5s", "missing"})
	err := root.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "session not found") {
		t.Fatalf("expected session not found error, got %v", err)
	}
}

// screenServer accepts websocket subscriptions and replies with reply after
// the handshake.
func screenServer(t *testing.T, reply func(conn net.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		data, err := wsutil.ReadClientBinary(conn)
		if err != nil {
			return
		}
		if _, err := wire.Decode(data); err != nil {
			return
		}
		reply(conn)
		for {
			if _, err := wsutil.ReadClientBinary(conn); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
}

func textRow(text string) []schema.Cell {
	cells := make([]schema.Cell, 0, len(text))
	for _, r := range text {
		cells = append(cells, schema.Cell{Char: string(r)})
	}
	return cells
}
