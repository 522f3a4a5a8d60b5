package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, cfg *Config, hub *Hub) *Server {
	t.Helper()
	srv := NewServer(cfg, hub, nil)
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		if srv.listener == nil {
			return false
		}
		resp, err := http.Get(srv.BaseURL() + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	return srv
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv := startServer(t, &Config{Port: 0}, nil)

	resp, err := http.Get(srv.BaseURL() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.NotEmpty(t, health.Version)
}

func TestServer_WebSocketReceivesBroadcast(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	srv := startServer(t, &Config{Port: 0}, hub)

	u := url.URL{Scheme: "ws", Host: srv.listener.Addr().String(), Path: "/ws"}
	c, wsResp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	defer c.Close()
	if wsResp != nil && wsResp.Body != nil {
		defer wsResp.Body.Close()
	}

	// registration is asynchronous: keep broadcasting until one arrives
	msg := Event(EventCampaignProgress, map[string]int{"current": 1})
	got := make(chan []byte, 1)
	go func() {
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := c.ReadMessage()
		if err == nil {
			got <- data
		}
	}()

	require.Eventually(t, func() bool {
		hub.Broadcast(msg)
		select {
		case data := <-got:
			assert.JSONEq(t, string(msg), string(data))
			return true
		default:
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)
}

func TestServer_NoWebSocketWithoutHub(t *testing.T) {
	srv := NewServer(&Config{}, nil, nil)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_MountAPIAndMetrics(t *testing.T) {
	srv := NewServer(&Config{}, nil, nil)
	srv.MountAPI(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "api:"+r.URL.Path)
	}))
	srv.MountMetrics(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "metrics")
	}))

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/companies", nil))
	assert.Equal(t, "api:/api/v1/companies", w.Body.String())

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "metrics", w.Body.String())
}

func TestServer_CORSPreflight(t *testing.T) {
	srv := NewServer(&Config{AllowedOrigins: []string{"http://localhost:5173"}}, nil, nil)
	srv.MountAPI(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/campaigns", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func multipartCV(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploads_StoresCV(t *testing.T) {
	dir := t.TempDir()
	srv := NewServer(&Config{UploadsDir: dir}, nil, nil)
	srv.uploads.now = func() time.Time { return time.UnixMilli(1700000000000) }

	body, ctype := multipartCV(t, "cv", "Mon CV (2026).pdf", []byte("%PDF-1.4 cv"))
	req := httptest.NewRequest(http.MethodPost, "/uploads", body)
	req.Header.Set("Content-Type", ctype)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp UploadResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "1700000000000-Mon_CV_2026_.pdf", resp.Filename)
	assert.Equal(t, filepath.Join(dir, resp.Filename), resp.Path)
	assert.EqualValues(t, 11, resp.Size)

	stored, err := os.ReadFile(resp.Path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 cv", string(stored))

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/uploads/"+resp.Filename, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.4 cv", w.Body.String())
}

func TestUploads_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		filename string
		content  []byte
		want     int
	}{
		{"missing field", "file", "cv.pdf", []byte("x"), http.StatusBadRequest},
		{"bad extension", "cv", "cv.exe", []byte("x"), http.StatusBadRequest},
		{"too large", "cv", "cv.pdf", bytes.Repeat([]byte("a"), 2048), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			srv := NewServer(&Config{UploadsDir: dir, MaxUploadBytes: 1024}, nil, nil)

			body, ctype := multipartCV(t, tt.field, tt.filename, tt.content)
			req := httptest.NewRequest(http.MethodPost, "/uploads", body)
			req.Header.Set("Content-Type", ctype)
			w := httptest.NewRecorder()
			srv.Router().ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code, w.Body.String())
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestUploads_GetRejectsTraversal(t *testing.T) {
	srv := NewServer(&Config{UploadsDir: t.TempDir()}, nil, nil)

	for _, p := range []string{"/uploads/..%2Fsecret", "/uploads/.env"} {
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, p)
	}
}
