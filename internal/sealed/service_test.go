package sealed_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripstack/credstore/internal/sealed"
	"github.com/tripstack/credstore/pkg/credential"
)

// fakeEncryptionService reverses the payload through base64 so tests can
// verify the round trip without real cryptography.
func fakeEncryptionService(t *testing.T, wantToken string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantToken != "" && r.Header.Get("Authorization") != "Bearer "+wantToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		switch r.URL.Path {
		case "/v1/encrypt":
			var req struct {
				Payload map[string]string `json:"payload"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			raw, err := json.Marshal(req.Payload)
			require.NoError(t, err)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"blob": base64.StdEncoding.EncodeToString(raw),
			})
		case "/v1/decrypt":
			var req struct {
				Blob string `json:"blob"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			blob, err := base64.StdEncoding.DecodeString(req.Blob)
			require.NoError(t, err)
			var payload map[string]string
			require.NoError(t, json.Unmarshal(blob, &payload))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"payload": payload})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestServiceClientRoundTrip(t *testing.T) {
	t.Parallel()

	srv := fakeEncryptionService(t, "svc-token")
	defer srv.Close()

	client, err := sealed.NewServiceClient(srv.URL, []byte("svc-token"), 5*time.Second)
	require.NoError(t, err)

	fields := map[string]string{"api_key": "duffel_test_123", "note": "x"}
	blob, err := client.Seal(context.Background(), fields)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	got, err := client.Unseal(context.Background(), blob)
	require.NoError(t, err)
	assert.Equal(t, fields, got)
}

func TestServiceClientRejectedToken(t *testing.T) {
	t.Parallel()

	srv := fakeEncryptionService(t, "correct-token")
	defer srv.Close()

	client, err := sealed.NewServiceClient(srv.URL, []byte("wrong-token"), 5*time.Second)
	require.NoError(t, err)

	_, err = client.Seal(context.Background(), map[string]string{"k": "v"})
	require.Error(t, err)

	var te *credential.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "encryption-service", te.Backend)
	assert.Contains(t, err.Error(), "401")
}

func TestServiceClientUnreachable(t *testing.T) {
	t.Parallel()

	client, err := sealed.NewServiceClient("http://127.0.0.1:1", []byte("t"), 500*time.Millisecond)
	require.NoError(t, err)

	_, err = client.Seal(context.Background(), map[string]string{"k": "v"})
	require.Error(t, err)
	assert.True(t, credential.IsTransport(err))
}

func TestNewServiceClientRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := sealed.NewServiceClient("", []byte("t"), time.Second)
	require.Error(t, err)
}

func TestBufferDestroyIdempotent(t *testing.T) {
	t.Parallel()

	buf, err := sealed.NewBuffer([]byte("sensitive"))
	require.NoError(t, err)

	locked, err := buf.Open()
	require.NoError(t, err)
	assert.Equal(t, "sensitive", locked.String())
	locked.Destroy()

	buf.Destroy()
	buf.Destroy()

	_, err = buf.Open()
	assert.ErrorIs(t, err, sealed.ErrBufferDestroyed)
}
