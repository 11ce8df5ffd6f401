package forwarder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

func testTarget(t *testing.T, server *httptest.Server) (host string, port int) {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	p, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return u.Hostname(), p
}

func TestForwardOperation_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-SESSION-ID") != "session-1" {
			t.Errorf("expected X-SESSION-ID header, got %q", r.Header.Get("X-SESSION-ID"))
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"output":"ok"}`))
	}))
	defer server.Close()

	host, port := testTarget(t, server)
	f := New(port)
	resp := f.ForwardOperation(context.Background(), host, "shell/exec", json.RawMessage(`{"cmd":"ls"}`), "session-1")

	if !resp.Success {
		t.Fatalf("expected success, got error: %s", resp.Error)
	}
	if string(resp.Data) != `{"output":"ok"}` {
		t.Errorf("unexpected data: %s", resp.Data)
	}
}

func TestForwardOperation_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad payload"))
	}))
	defer server.Close()

	host, port := testTarget(t, server)
	f := New(port)
	resp := f.ForwardOperation(context.Background(), host, "shell/exec", json.RawMessage(`{}`), "session-1")

	if resp.Success {
		t.Fatal("expected failure for non-200 response")
	}
	if resp.Error != "Ship returned 400: bad payload" {
		t.Errorf("unexpected error message: %q", resp.Error)
	}
}

func TestForwardOperation_ConnectionError(t *testing.T) {
	f := New(1) // nothing listens on port 1
	resp := f.ForwardOperation(context.Background(), "127.0.0.1", "shell/exec", json.RawMessage(`{}`), "session-1")

	if resp.Success {
		t.Fatal("expected failure for unreachable host")
	}
	if resp.Error == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestForwardUpload_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-SESSION-ID") != "session-2" {
			t.Errorf("expected X-SESSION-ID header, got %q", r.Header.Get("X-SESSION-ID"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart form: %v", err)
		}
		if r.FormValue("file_path") != "/workspace/a.txt" {
			t.Errorf("unexpected file_path: %q", r.FormValue("file_path"))
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"saved":true}`))
	}))
	defer server.Close()

	host, port := testTarget(t, server)
	f := New(port)
	resp := f.ForwardUpload(context.Background(), host, []byte("hello"), "/workspace/a.txt", "session-2")

	if !resp.Success {
		t.Fatalf("expected success, got error: %s", resp.Error)
	}
}

func TestForwardUpload_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("Access denied: path must be within workspace"))
	}))
	defer server.Close()

	host, port := testTarget(t, server)
	f := New(port)
	resp := f.ForwardUpload(context.Background(), host, []byte("hello"), "/etc/passwd", "session-2")

	if resp.Success {
		t.Fatal("expected failure for non-200 response")
	}
}
