// Copyright © 2026 the aemstarter authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfoerderreuther/aemstarter/internal/events"
	"github.com/dfoerderreuther/aemstarter/internal/project"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func insecureClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

func TestEnsureSelfSignedCert(t *testing.T) {
	dir := t.TempDir()

	cert, err := ensureSelfSignedCert(dir)
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)

	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "localhost", parsed.Subject.CommonName)
	assert.WithinDuration(t, time.Now().Add(365*24*time.Hour), parsed.NotAfter, time.Hour)

	// Second call must reuse the files, not regenerate
	info1, err := os.Stat(filepath.Join(dir, certFile))
	require.NoError(t, err)
	_, err = ensureSelfSignedCert(dir)
	require.NoError(t, err)
	info2, err := os.Stat(filepath.Join(dir, certFile))
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestFrontProxyForwardsWithProtoMarker(t *testing.T) {
	var gotProto string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotProto = r.Header.Get("X-Forwarded-Proto")
		fmt.Fprint(w, "dispatcher says hi")
	}))
	defer upstream.Close()

	proj := &project.Project{
		ID:         "test",
		Folder:     t.TempDir(),
		Dispatcher: project.InstanceSettings{Port: upstream.Listener.Addr().(*net.TCPAddr).Port},
	}

	p := NewFrontProxy(proj, nil, Config{Port: freePort(t)})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())
	assert.True(t, p.Running())

	resp, err := insecureClient().Get(fmt.Sprintf("https://127.0.0.1:%d/content/page.html", p.Port()))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "dispatcher says hi", string(body))
	assert.Equal(t, "https", gotProto)
}

func TestFrontProxyErrorReturns500WithoutDying(t *testing.T) {
	proj := &project.Project{
		ID:         "test",
		Folder:     t.TempDir(),
		Dispatcher: project.InstanceSettings{Port: freePort(t)}, // nothing listens here
	}

	p := NewFrontProxy(proj, nil, Config{Port: freePort(t)})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop(context.Background())

	client := insecureClient()
	url := fmt.Sprintf("https://127.0.0.1:%d/", p.Port())

	resp, err := client.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// Listener survives the proxy error
	resp, err = client.Get(url)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.True(t, p.Running())
}

func TestFrontProxyStopPublishesSingleStatusEvent(t *testing.T) {
	bus := events.NewMemoryEventBus(events.MemoryBusConfig{HistoryMaxEvents: 100})
	defer bus.Close()

	var mu sync.Mutex
	var downEvents int
	_, err := bus.Subscribe(events.EventProxyStatus, func(ctx context.Context, ev events.Event) error {
		if running, ok := ev.Payload["running"].(bool); ok && !running {
			mu.Lock()
			downEvents++
			mu.Unlock()
		}
		return nil
	})
	require.NoError(t, err)

	proj := &project.Project{
		ID:         "test",
		Folder:     t.TempDir(),
		Dispatcher: project.InstanceSettings{Port: freePort(t)},
	}

	p := NewFrontProxy(proj, bus, Config{Port: freePort(t)})
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop(context.Background()))

	// Give the serve goroutine's exit path time to misbehave.
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, downEvents)
}

func TestFrontProxyStopIsIdempotent(t *testing.T) {
	proj := &project.Project{
		ID:         "test",
		Folder:     t.TempDir(),
		Dispatcher: project.InstanceSettings{Port: freePort(t)},
	}

	p := NewFrontProxy(proj, nil, Config{Port: freePort(t)})
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Stop(context.Background()))
	require.NoError(t, p.Stop(context.Background()))
	assert.False(t, p.Running())
}
