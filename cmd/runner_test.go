package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/deemusic/internal/shared"
	"github.com/desertthunder/deemusic/internal/store"
	tu "github.com/desertthunder/deemusic/internal/testing"
)

// fakeSpotify serves the token endpoint under /api/token and the Web API under /v1.
type fakeSpotify struct {
	*httptest.Server
	mu     sync.Mutex
	grants []string
}

func newFakeSpotify(t *testing.T) *fakeSpotify {
	t.Helper()
	fs := &fakeSpotify{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse token form: %v", err)
		}
		grant := r.PostForm.Get("grant_type")
		fs.mu.Lock()
		fs.grants = append(fs.grants, grant)
		fs.mu.Unlock()

		body := map[string]any{"token_type": "Bearer", "expires_in": 3600}
		switch grant {
		case "authorization_code":
			body["access_token"], body["refresh_token"] = "AT1", "RT1"
		case "refresh_token":
			body["access_token"] = "AT2"
		case "client_credentials":
			body["access_token"] = "APP1"
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("GET /v1/me", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": "user1", "display_name": "Dee"})
	})
	mux.HandleFunc("GET /v1/search", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer APP1" {
			t.Errorf("expected app token on search, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"tracks": map[string]any{
				"limit":  20,
				"offset": 0,
				"total":  1,
				"items": []map[string]any{{
					"id":          "t1",
					"uri":         "spotify:track:t1",
					"name":        "One More Time",
					"duration_ms": 320000,
					"artists":     []map[string]any{{"name": "Daft Punk"}},
					"album":       map[string]any{"name": "Discovery"},
				}},
			},
		})
	})
	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeSpotify) grantCount(grant string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := 0
	for _, g := range fs.grants {
		if g == grant {
			n++
		}
	}
	return n
}

func (fs *fakeSpotify) config(redirectURI string) *shared.Config {
	config := shared.DefaultConfig()
	config.Credentials.Spotify.ClientID = "client-id"
	config.Credentials.Spotify.ClientSecret = "client-secret"
	config.Credentials.Spotify.RedirectURI = redirectURI
	config.Credentials.Spotify.TokenURL = fs.URL + "/api/token"
	config.Credentials.Spotify.APIURL = fs.URL + "/v1/"
	return config
}

// freeRedirectURI reserves a loopback port for the login callback server.
func freeRedirectURI(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return "http://" + addr + "/callback"
}

func newTestRunner(config *shared.Config, kv store.KV, output io.Writer) *Runner {
	return NewRunner(RunnerOpts{
		Config: config,
		Logger: shared.NewLogger(io.Discard),
		Output: output,
		Store:  kv,
		OpenBrowser: func(string) error {
			return errors.New("no browser in tests")
		},
	})
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			kv := store.NewMemory()
			clk := tu.NewFakeClock(time.Now())

			runner := NewRunner(RunnerOpts{
				Config:     config,
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
				Store:      kv,
				Clock:      clk,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.kv != kv {
				t.Error("expected store to be set")
			}
			if runner.clock != clk {
				t.Error("expected clock to be set")
			}
		})

		t.Run("with nil options uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output != os.Stdout {
				t.Error("expected stdout to be used as default output")
			}
			if runner.httpClient != http.DefaultClient {
				t.Error("expected default HTTP client to be used")
			}
			if runner.clock == nil || runner.metrics == nil || runner.openBrowser == nil {
				t.Error("expected clock, metrics and browser opener defaults")
			}
			if runner.kv != nil {
				t.Error("expected no store so the database is opened")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if result := output.String(); result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if result := output.String(); result != "hello world" {
				t.Errorf("expected 'hello world', got %q", result)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		want := []string{"setup", "serve", "login", "logout", "status", "search", "play", "volume"}
		if len(commands) != len(want) {
			t.Fatalf("expected %d commands, got %d", len(want), len(commands))
		}
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			if cmd.Name != want[i] {
				t.Errorf("command %d: expected %q, got %q", i, want[i], cmd.Name)
			}
			if cmd.Action == nil {
				t.Errorf("command %q has no action", cmd.Name)
			}
		}
	})
}

func TestSetup(t *testing.T) {
	t.Run("creates config and database", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)

		output := &bytes.Buffer{}
		runner := newTestRunner(nil, nil, output)
		configPath := filepath.Join(dir, "config.toml")

		if err := setupCommand(runner).Run(context.Background(), []string{"setup", "--config", configPath}); err != nil {
			t.Fatalf("setup failed: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Errorf("expected config file to be created: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "deemusic.db")); err != nil {
			t.Errorf("expected database to be created: %v", err)
		}
		if !strings.Contains(output.String(), "deemusic login") {
			t.Errorf("expected next-step hint, got %q", output.String())
		}
	})

	t.Run("existing config is not overwritten", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)

		configPath := filepath.Join(dir, "config.toml")
		custom := "[database]\npath = \"custom.db\"\n"
		if err := os.WriteFile(configPath, []byte(custom), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		output := &bytes.Buffer{}
		runner := newTestRunner(nil, nil, output)
		if err := setupCommand(runner).Run(context.Background(), []string{"setup", "--config", configPath}); err != nil {
			t.Fatalf("setup failed: %v", err)
		}

		data, _ := os.ReadFile(configPath)
		if string(data) != custom {
			t.Errorf("expected config to be left alone, got %q", data)
		}
		if _, err := os.Stat(filepath.Join(dir, "custom.db")); err != nil {
			t.Errorf("expected the configured database path to be used: %v", err)
		}
		if strings.Contains(output.String(), "Wrote") {
			t.Errorf("did not expect a config write, got %q", output.String())
		}
	})

	t.Run("malformed config", func(t *testing.T) {
		dir := t.TempDir()
		configPath := filepath.Join(dir, "config.toml")
		if err := os.WriteFile(configPath, []byte("[database\n"), 0600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		runner := newTestRunner(nil, nil, &bytes.Buffer{})
		err := setupCommand(runner).Run(context.Background(), []string{"setup", "--config", configPath})
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestSessionCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("status of a fresh install is anonymous", func(t *testing.T) {
		fs := newFakeSpotify(t)
		output := &bytes.Buffer{}
		runner := newTestRunner(fs.config("http://127.0.0.1:3000/callback"), store.NewMemory(), output)

		if err := statusCommand(runner).Run(ctx, []string{"status", "--json"}); err != nil {
			t.Fatalf("status failed: %v", err)
		}

		var view StatusView
		if err := json.Unmarshal(output.Bytes(), &view); err != nil {
			t.Fatalf("failed to decode status: %v", err)
		}
		if view.State != "anonymous" || view.LoggedIn || view.ExpiresAt != nil {
			t.Errorf("unexpected status %+v", view)
		}
	})

	t.Run("login, status and logout share the stored session", func(t *testing.T) {
		fs := newFakeSpotify(t)
		config := fs.config(freeRedirectURI(t))
		kv := store.NewMemory()

		output := &bytes.Buffer{}
		runner := newTestRunner(config, kv, output)
		runner.openBrowser = func(authURL string) error {
			u, err := url.Parse(authURL)
			if err != nil {
				return err
			}
			if u.Query().Get("code_challenge_method") != "S256" {
				t.Errorf("expected S256 challenge, got %s", authURL)
			}
			go func() {
				callback := config.Credentials.Spotify.RedirectURI + "?code=abc"
				for range 50 {
					resp, err := http.Get(callback)
					if err == nil {
						resp.Body.Close()
						return
					}
					time.Sleep(50 * time.Millisecond)
				}
				t.Error("callback server never came up")
			}()
			return nil
		}

		if err := loginCommand(runner).Run(ctx, []string{"login", "--timeout", "10s"}); err != nil {
			t.Fatalf("login failed: %v", err)
		}
		if !strings.Contains(output.String(), "Authorization successful") {
			t.Errorf("expected success message, got %q", output.String())
		}
		if fs.grantCount("authorization_code") != 1 {
			t.Errorf("expected one code exchange, got %d", fs.grantCount("authorization_code"))
		}

		output.Reset()
		status := newTestRunner(config, kv, output)
		if err := statusCommand(status).Run(ctx, []string{"status", "--json"}); err != nil {
			t.Fatalf("status failed: %v", err)
		}
		var view StatusView
		if err := json.Unmarshal(output.Bytes(), &view); err != nil {
			t.Fatalf("failed to decode status: %v", err)
		}
		if view.State != "authenticated" || !view.LoggedIn || view.ExpiresAt == nil {
			t.Errorf("expected the stored session to resume, got %+v", view)
		}
		if view.DisplayName != "Dee" || view.UserID != "user1" {
			t.Errorf("expected profile in status, got %+v", view)
		}

		output.Reset()
		logout := newTestRunner(config, kv, output)
		if err := logoutCommand(logout).Run(ctx, []string{"logout"}); err != nil {
			t.Fatalf("logout failed: %v", err)
		}
		if !strings.Contains(output.String(), "Logged out") {
			t.Errorf("expected logout message, got %q", output.String())
		}
		if kv.Len() != 0 {
			t.Errorf("expected the store to be empty after logout, has %d keys", kv.Len())
		}
	})

	t.Run("logout without a session", func(t *testing.T) {
		fs := newFakeSpotify(t)
		output := &bytes.Buffer{}
		runner := newTestRunner(fs.config("http://127.0.0.1:3000/callback"), store.NewMemory(), output)

		if err := logoutCommand(runner).Run(ctx, []string{"logout"}); err != nil {
			t.Fatalf("logout failed: %v", err)
		}
		if !strings.Contains(output.String(), "Not logged in") {
			t.Errorf("unexpected output %q", output.String())
		}
	})

	t.Run("invalid redirect uri", func(t *testing.T) {
		fs := newFakeSpotify(t)
		runner := newTestRunner(fs.config("http://127.0.0.1:3000"), store.NewMemory(), &bytes.Buffer{})

		err := statusCommand(runner).Run(ctx, []string{"status"})
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestSearchCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymous search uses the app token", func(t *testing.T) {
		fs := newFakeSpotify(t)
		output := &bytes.Buffer{}
		runner := newTestRunner(fs.config("http://127.0.0.1:3000/callback"), store.NewMemory(), output)

		if err := searchCommand(runner).Run(ctx, []string{"search", "--format", "csv", "daft", "punk"}); err != nil {
			t.Fatalf("search failed: %v", err)
		}

		want := "spotify:track:t1,One More Time,Daft Punk,Discovery,5:20"
		if !strings.Contains(output.String(), want) {
			t.Errorf("expected %q in output, got %q", want, output.String())
		}
		if fs.grantCount("client_credentials") != 1 {
			t.Errorf("expected one client credentials grant, got %d", fs.grantCount("client_credentials"))
		}
	})

	t.Run("json output", func(t *testing.T) {
		fs := newFakeSpotify(t)
		output := &bytes.Buffer{}
		runner := newTestRunner(fs.config("http://127.0.0.1:3000/callback"), store.NewMemory(), output)

		if err := searchCommand(runner).Run(ctx, []string{"search", "--json", "daft punk"}); err != nil {
			t.Fatalf("search failed: %v", err)
		}
		var page struct {
			Query  string `json:"query"`
			Tracks []struct {
				URI string `json:"uri"`
			} `json:"tracks"`
		}
		if err := json.Unmarshal(output.Bytes(), &page); err != nil {
			t.Fatalf("failed to decode page: %v", err)
		}
		if page.Query != "daft punk" || len(page.Tracks) != 1 || page.Tracks[0].URI != "spotify:track:t1" {
			t.Errorf("unexpected page %+v", page)
		}
	})

	t.Run("missing query", func(t *testing.T) {
		runner := newTestRunner(nil, store.NewMemory(), &bytes.Buffer{})
		err := searchCommand(runner).Run(ctx, []string{"search"})
		if !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		runner := newTestRunner(nil, store.NewMemory(), &bytes.Buffer{})
		err := searchCommand(runner).Run(ctx, []string{"search", "--format", "yaml", "x"})
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("token endpoint unreachable", func(t *testing.T) {
		config := shared.DefaultConfig()
		config.Credentials.Spotify.ClientSecret = "client-secret"
		runner := NewRunner(RunnerOpts{
			Config:     config,
			Logger:     shared.NewLogger(io.Discard),
			Output:     &bytes.Buffer{},
			Store:      store.NewMemory(),
			HTTPClient: &http.Client{Transport: tu.NewMockRoundTripper(nil, fmt.Errorf("offline"))},
		})

		err := searchCommand(runner).Run(ctx, []string{"search", "x"})
		if !errors.Is(err, shared.ErrClientAuthFailed) {
			t.Errorf("expected ErrClientAuthFailed, got %v", err)
		}
	})
}

func TestPlayerCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("play requires a login", func(t *testing.T) {
		fs := newFakeSpotify(t)
		runner := newTestRunner(fs.config("http://127.0.0.1:3000/callback"), store.NewMemory(), &bytes.Buffer{})

		err := playCommand(runner).Run(ctx, []string{"play", "spotify:track:t1"})
		if !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("play requires a uri", func(t *testing.T) {
		runner := newTestRunner(nil, store.NewMemory(), &bytes.Buffer{})
		err := playCommand(runner).Run(ctx, []string{"play"})
		if !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("volume out of range", func(t *testing.T) {
		runner := newTestRunner(nil, store.NewMemory(), &bytes.Buffer{})
		for _, arg := range []string{"150", "101", "loud"} {
			err := volumeCommand(runner).Run(ctx, []string{"volume", arg})
			if !errors.Is(err, shared.ErrInvalidArgument) {
				t.Errorf("volume %s: expected ErrInvalidArgument, got %v", arg, err)
			}
		}
	})
}
