package influxdb

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedWrite struct {
	path   string
	org    string
	bucket string
	auth   string
	body   string
}

func newInfluxServer(t *testing.T, status int) (*httptest.Server, func() []capturedWrite) {
	t.Helper()

	var mu sync.Mutex
	var writes []capturedWrite

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mu.Lock()
		writes = append(writes, capturedWrite{
			path:   r.URL.Path,
			org:    r.URL.Query().Get("org"),
			bucket: r.URL.Query().Get("bucket"),
			auth:   r.Header.Get("Authorization"),
			body:   string(body),
		})
		mu.Unlock()

		if status >= 400 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"unable to parse points"}`))
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	return server, func() []capturedWrite {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedWrite{}, writes...)
	}
}

func TestWriter_Write(t *testing.T) {
	server, captured := newInfluxServer(t, http.StatusNoContent)

	writer := NewWriter(Config{
		URL:     server.URL,
		Token:   "secret-token",
		Org:     "home",
		Bucket:  "solar",
		Timeout: 2 * time.Second,
	})
	defer writer.Close()

	require.NoError(t, writer.Write(context.Background(), canonicalStatus()))

	writes := captured()
	require.Len(t, writes, 1)
	assert.Equal(t, "/api/v2/write", writes[0].path)
	assert.Equal(t, "home", writes[0].org)
	assert.Equal(t, "solar", writes[0].bucket)
	assert.Equal(t, "Token secret-token", writes[0].auth)
	assert.Equal(t, strings.TrimSpace(canonicalLine), strings.TrimSpace(writes[0].body))
}

func TestWriter_CustomInverterID(t *testing.T) {
	server, captured := newInfluxServer(t, http.StatusNoContent)

	writer := NewWriter(Config{URL: server.URL, Org: "home", Bucket: "solar", InverterID: "shed"})
	defer writer.Close()

	require.NoError(t, writer.Write(context.Background(), canonicalStatus()))

	writes := captured()
	require.Len(t, writes, 1)
	assert.True(t, strings.HasPrefix(writes[0].body, "inverter_general_status,inverter_id=shed "))
}

func TestWriter_ServerError(t *testing.T) {
	server, _ := newInfluxServer(t, http.StatusBadRequest)

	writer := NewWriter(Config{URL: server.URL, Org: "home", Bucket: "solar"})
	defer writer.Close()

	err := writer.Write(context.Background(), canonicalStatus())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write to InfluxDB")
}

func TestRequestTimeoutSeconds(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    uint
	}{
		{time.Millisecond, 1},
		{500 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{10 * time.Second, 10},
	}

	for _, tt := range tests {
		t.Run(tt.timeout.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, requestTimeoutSeconds(tt.timeout))
		})
	}
}

func TestWriter_StalledServerTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	writer := NewWriter(Config{URL: server.URL, Org: "home", Bucket: "solar", Timeout: 200 * time.Millisecond})
	defer writer.Close()

	start := time.Now()
	err := writer.Write(context.Background(), canonicalStatus())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWriter_NilStatus(t *testing.T) {
	writer := NewWriter(Config{URL: "http://127.0.0.1:1", Org: "home", Bucket: "solar"})
	defer writer.Close()

	assert.Error(t, writer.Write(context.Background(), nil))
}

func TestNoopWriter(t *testing.T) {
	writer := NewNoopWriter()
	assert.NoError(t, writer.Write(context.Background(), canonicalStatus()))
	assert.NoError(t, writer.Close())
}
