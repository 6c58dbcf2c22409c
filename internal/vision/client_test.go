package vision

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
	"go.uber.org/zap"
)

func TestClientProcessVision(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/vision/process", r.URL.Path)
		var req processVisionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "phone number field", req.Intent)

		raw, err := base64.StdEncoding.DecodeString(req.Screenshot)
		require.NoError(t, err)
		assert.Equal(t, []byte("png-bytes"), raw)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"x": 412.0, "y": 288.0, "confidence": 0.91, "found": true,
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	g, err := client.ProcessVision(context.Background(), []byte("png-bytes"), "phone number field")
	require.NoError(t, err)
	assert.True(t, g.Found)
	assert.Equal(t, 412.0, g.X)
	assert.Equal(t, 0.91, g.Confidence)
}

func TestClientPredictPath(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/vision/predict-path", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"selector": "span[itemprop=telephone]"})
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	sel, err := client.PredictPath(context.Background(), "truepeoplesearch.com", "phone_field")
	require.NoError(t, err)
	assert.Equal(t, "span[itemprop=telephone]", sel)
}

func TestClientOracleErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, err = client.ProcessVision(context.Background(), nil, "anything")
	assert.ErrorContains(t, err, "status 502")
}

func TestClientRespectsRPCDeadline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client, err := NewClient(Config{BaseURL: srv.URL, RPCTimeout: 50 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	start := time.Now()
	_, err = client.ProcessVision(context.Background(), nil, "anything")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "deadline must bound the call")
}
