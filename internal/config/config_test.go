package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != DefaultServerURL {
		t.Fatalf("ServerURL = %q, want %q", cfg.ServerURL, DefaultServerURL)
	}
	if cfg.Listen != DefaultListen || cfg.ServerMode != "release" {
		t.Fatalf("unexpected server settings: %+v", cfg)
	}
	if !cfg.AtomicAdmission || cfg.ReleaseOnLeave || cfg.JoinAttempts != 5 {
		t.Fatalf("unexpected room settings: %+v", cfg)
	}
	if cfg.NegotiationTimeout != 30*time.Second {
		t.Fatalf("NegotiationTimeout = %v", cfg.NegotiationTimeout)
	}
	if !cfg.Audio || !cfg.Video {
		t.Fatalf("media should default on")
	}
	if got := cfg.GetSTUNServers(); len(got) != 1 || got[0] != DefaultSTUN {
		t.Fatalf("GetSTUNServers = %v", got)
	}
	if cfg.GetTURNServers() != nil {
		t.Fatalf("TURN should be unset by default")
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())

	file := filepath.Join(dir, "warpcall.yaml")
	yaml := "server:\n  url: ws://file:1/ws\n  listen: ':9000'\nroom:\n  join_attempts: 3\n"
	if err := os.WriteFile(file, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WARPCALL_SERVER_URL", "ws://env:2/ws")

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "ws://env:2/ws" {
		t.Fatalf("env should beat file, got %q", cfg.ServerURL)
	}
	if cfg.Listen != ":9000" || cfg.JoinAttempts != 3 {
		t.Fatalf("file values not applied: %+v", cfg)
	}

	cfg, err = Load(Options{ServerURL: "ws://flag:3/ws"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "ws://flag:3/ws" {
		t.Fatalf("flag should beat env, got %q", cfg.ServerURL)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(Options{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")}); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestForceRelayRequiresTURN(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	if _, err := Load(Options{ForceRelay: true}); err == nil {
		t.Fatal("expected error without TURN server")
	}
	cfg, err := Load(Options{ForceRelay: true, TURNServer: "turn.example.com", TURNUser: "u", TURNPass: "p"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.UseRelay() {
		t.Fatal("UseRelay should be true")
	}
	user, pass := cfg.GetTURNCredentials()
	if user != "u" || pass != "p" {
		t.Fatalf("credentials = %q/%q", user, pass)
	}
}

func TestGetTURNServers(t *testing.T) {
	for _, in := range []string{"turn.example.com", "turn:turn.example.com"} {
		cfg := &Config{TURNServer: in}
		got := cfg.GetTURNServers()
		want := []string{
			"turn:turn.example.com:3478?transport=udp",
			"turn:turn.example.com:3478?transport=tcp",
			"turns:turn.example.com:5349?transport=tcp",
		}
		if len(got) != len(want) {
			t.Fatalf("%q: got %v", in, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%q: got[%d] = %q, want %q", in, i, got[i], want[i])
			}
		}
	}
}

func TestRelayHeuristics(t *testing.T) {
	for name, want := range map[string]bool{
		"eth0": false, "wlan0": false, "tun0": true, "wg0": true, "CloudflareWARP": true, "ppp0": true,
	} {
		if got := tunnelInterface(name); got != want {
			t.Errorf("tunnelInterface(%q) = %v, want %v", name, got, want)
		}
	}
	for ip, want := range map[string]bool{
		"100.64.0.1": true, "100.127.255.254": true, "100.128.0.1": false, "192.168.1.10": false,
	} {
		if got := inCGNAT(net.ParseIP(ip)); got != want {
			t.Errorf("inCGNAT(%s) = %v, want %v", ip, got, want)
		}
	}
}

func TestAPIURL(t *testing.T) {
	tests := []struct {
		server, path, want string
	}{
		{"ws://localhost:8080/ws", "rooms", "http://localhost:8080/api/rooms"},
		{"wss://signal.example.com/ws", "/rooms/ABC1", "https://signal.example.com/api/rooms/ABC1"},
		{"wss://example.com/warpcall/ws/", "rooms", "https://example.com/warpcall/api/rooms"},
		{"http://localhost:8080", "rooms", "http://localhost:8080/api/rooms"},
	}
	for _, tt := range tests {
		cfg := &Config{ServerURL: tt.server}
		got, err := cfg.APIURL(tt.path)
		if err != nil {
			t.Fatalf("APIURL(%q, %q): %v", tt.server, tt.path, err)
		}
		if got != tt.want {
			t.Errorf("APIURL(%q, %q) = %q, want %q", tt.server, tt.path, got, tt.want)
		}
	}

	if _, err := (&Config{ServerURL: "ftp://x"}).APIURL("rooms"); err == nil {
		t.Fatal("ftp scheme accepted")
	}
}
