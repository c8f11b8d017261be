package integration

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"dropline/internal/app"
	"dropline/internal/client"
	"dropline/internal/config"
	"dropline/internal/logging"
	"dropline/pkg/types"
)

// relayServer is a full relay with transfer history, served over httptest.
type relayServer struct {
	app    *app.Application
	http   *httptest.Server
	wsURL  string
	logger *logrus.Logger
}

func startRelay(t *testing.T) *relayServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "history.db")
	logger := logging.Discard()

	application, err := app.NewApplication(cfg, logger)
	require.NoError(t, err)

	server := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Failed to stop application: %v", err)
		}
		server.Close()
	})

	return &relayServer{
		app:    application,
		http:   server,
		wsURL:  "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		logger: logger,
	}
}

func (r *relayServer) client(direct bool) *client.Client {
	opts := client.Options{ServerURL: r.wsURL, Pace: time.Millisecond, Logger: r.logger}
	if direct {
		opts.Direct = client.DirectConfig{IncludeLoopback: true}
	}
	return client.New(opts)
}

// getJSON decodes a GET response from the relay's API into v and returns the status.
func (r *relayServer) getJSON(t *testing.T, path string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(r.http.URL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

// waitForOutcome polls history until the room's newest record leaves active.
func (r *relayServer) waitForOutcome(t *testing.T, roomID string) *types.TransferRecord {
	t.Helper()
	var record *types.TransferRecord
	require.Eventually(t, func() bool {
		rec, err := r.app.History().GetTransfer(context.Background(), roomID)
		if err != nil || rec.Outcome == types.OutcomeActive {
			return false
		}
		record = rec
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return record
}

func randomPayload(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}
