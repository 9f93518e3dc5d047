package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPublish(t *testing.T) {
	var gotBody []byte
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
	}))
	defer srv.Close()

	w := NewWebhook(0)
	err := w.Publish(context.Background(), srv.URL, map[string]string{
		"trace_id":  "t-1",
		"eventName": "extractions.ready",
	}, []byte(`{"ok":true}`))
	require.NoError(t, err)

	assert.JSONEq(t, `{"ok":true}`, string(gotBody))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "t-1", gotHeaders.Get("X-Docflow-trace-id"))
	assert.Equal(t, "extractions.ready", gotHeaders.Get("X-Docflow-eventName"))
}

func TestWebhookPublishErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w := NewWebhook(0)
	err := w.Publish(context.Background(), srv.URL, nil, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNopPublish(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), "anywhere", nil, nil))
}
