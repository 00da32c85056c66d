package storage

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ruteri/sealed-keymaster/interfaces"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves path-style object requests for a single bucket from memory.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	sse     []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/"+f.bucket || r.URL.Path == "/"+f.bucket+"/" {
		w.WriteHeader(http.StatusOK)
		return
	}
	key, ok := strings.CutPrefix(r.URL.Path, "/"+f.bucket+"/")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.sse = append(f.sse, r.Header.Get("X-Amz-Server-Side-Encryption"))
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Write(data)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Backend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fake := &fakeS3{bucket: "keys", objects: map[string][]byte{}}
	server := httptest.NewServer(fake)
	defer server.Close()

	backend, err := NewS3Backend("keys", "/team/", "eu-west-1", server.URL, "AKID", "secret", logger)
	require.NoError(t, err)
	require.Equal(t, "s3-keys", backend.Name())
	require.NotContains(t, backend.LocationURI(), "secret")
	require.True(t, backend.Available(ctx))

	found, err := backend.Exists(ctx, "p1,p2", "vault.request")
	require.NoError(t, err)
	require.False(t, found)

	_, err = backend.Read(ctx, "p1,p2", "vault.request")
	require.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, backend.Write(ctx, "p1,p2", "vault.request", []byte("c2VhbGVk\n")))
	require.Contains(t, fake.objects, "team/p1,p2/vault.request")
	require.Equal(t, []string{"AES256"}, fake.sse)

	found, err = backend.Exists(ctx, "p1,p2", "vault.request")
	require.NoError(t, err)
	require.True(t, found)

	data, err := backend.Read(ctx, "p1,p2", "vault.request")
	require.NoError(t, err)
	require.Equal(t, []byte("c2VhbGVk\n"), data)

	require.NoError(t, backend.Delete(ctx, "p1,p2", "vault.request"))
	require.Empty(t, fake.objects)
	require.NoError(t, backend.Delete(ctx, "p1,p2", "vault.request"))

	require.ErrorIs(t, backend.Write(ctx, "../p1", "vault.request", nil), interfaces.ErrInvalidArtifactPath)
}

func TestVaultBackend_Paths(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := NewVaultBackend("https://vault.internal:8200", "token", "/secret/", "/keymaster/", logger)
	require.NoError(t, err)
	require.Equal(t, "vault-secret-keymaster", backend.Name())
	require.Equal(t, "vault://vault.internal:8200/secret/keymaster", backend.LocationURI())

	p, err := backend.secretPath("p1,p2", "vault.response")
	require.NoError(t, err)
	require.Equal(t, "keymaster/p1,p2/vault.response", p)

	_, err = backend.secretPath("p1", "..")
	require.ErrorIs(t, err, interfaces.ErrInvalidArtifactPath)
	_, err = backend.secretPath("p1/p2", "vault.shard")
	require.ErrorIs(t, err, interfaces.ErrInvalidArtifactPath)
}

func TestVaultBackend_Available(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// The client asks Vault to answer 299 instead of 503 when sealed.
	for name, tc := range map[string]struct {
		status int
		body   string
		want   bool
	}{
		"unsealed":  {http.StatusOK, `{"initialized":true,"sealed":false,"standby":false}`, true},
		"sealed":    {299, `{"initialized":true,"sealed":true,"standby":false}`, false},
		"not ready": {299, `{"initialized":false,"sealed":true,"standby":false}`, false},
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/sys/health" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer server.Close()

			backend, err := NewVaultBackend(server.URL, "token", "secret", "keymaster", logger)
			require.NoError(t, err)
			require.Equal(t, tc.want, backend.Available(ctx))
		})
	}
}
