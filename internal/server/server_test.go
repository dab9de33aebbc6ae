package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/pipeframe/internal/config"
	"github.com/danmuck/pipeframe/internal/protocol"
	"github.com/danmuck/pipeframe/internal/protocol/frame"
	"github.com/danmuck/pipeframe/internal/testutil/testlog"
	"github.com/danmuck/pipeframe/internal/worker"
	"github.com/gin-gonic/gin"
)

type stubExecutor struct {
	pid     uint32
	pidErr  error
	execErr error
	flags   []frame.Flag
}

func (s *stubExecutor) PID() (uint32, error) {
	return s.pid, s.pidErr
}

func (s *stubExecutor) Exec(payload []byte, flags ...frame.Flag) (*frame.Frame, error) {
	s.flags = flags
	if s.execErr != nil {
		return nil, s.execErr
	}
	f := frame.New()
	f.WriteVersion(1)
	f.WriteFlags(flags...)
	f.WritePayload(append([]byte("echo:"), payload...))
	f.WriteCRC()
	return f, nil
}

func newTestServer(t *testing.T, exec *stubExecutor) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := New("test-worker", config.ServerConfig{}, exec)
	s.RegisterRoutes()
	return s
}

func serve(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	return rr
}

func TestHealthAndMetrics(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, &stubExecutor{pid: 7})
	if s.Addr != config.DefaultServerAddr {
		t.Fatalf("expected default addr, got %s", s.Addr)
	}

	rr := serve(s, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "ok" || body["worker"] != "test-worker" {
		t.Fatalf("unexpected health body: %#v", body)
	}

	rr = serve(s, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "pipeframe_http_requests_total") {
		t.Fatalf("metrics status=%d missing http counter", rr.Code)
	}
}

func TestWorkerPIDRoute(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, &stubExecutor{pid: 4242})

	rr := serve(s, http.MethodGet, "/worker/pid", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("pid status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body struct {
		Worker string `json:"worker"`
		PID    uint32 `json:"pid"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode pid: %v", err)
	}
	if body.PID != 4242 || body.Worker != "test-worker" {
		t.Fatalf("unexpected pid body: %+v", body)
	}
}

func TestWorkerExecRoute(t *testing.T) {
	testlog.Start(t)
	exec := &stubExecutor{pid: 1}
	s := newTestServer(t, exec)

	rr := serve(s, http.MethodPost, "/worker/exec", []byte("ping"))
	if rr.Code != http.StatusOK {
		t.Fatalf("exec status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "echo:ping" {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
	if got := rr.Header().Get(FlagsHeader); got != "raw" {
		t.Fatalf("unexpected flags header: %q", got)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("unexpected content type: %q", ct)
	}

	rr = serve(s, http.MethodPost, "/worker/exec?codec=json", []byte(`{"a":1}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("json exec status=%d", rr.Code)
	}
	if len(exec.flags) != 1 || exec.flags[0] != frame.CodecJSON {
		t.Fatalf("codec query not applied: %v", exec.flags)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type: %q", ct)
	}

	rr = serve(s, http.MethodPost, "/worker/exec?codec=yaml", []byte("x"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown codec, got %d", rr.Code)
	}
}

func TestWorkerExecErrorStatus(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: boom", worker.ErrWorker), http.StatusBadGateway},
		{fmt.Errorf("%w, cause garbage", protocol.ErrCRCVerification), http.StatusBadGateway},
		{fmt.Errorf("%w, cause: EOF", protocol.ErrPipe), http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		s := newTestServer(t, &stubExecutor{execErr: tc.err, pidErr: tc.err})
		rr := serve(s, http.MethodPost, "/worker/exec", []byte("x"))
		if rr.Code != tc.want {
			t.Fatalf("exec %v: status=%d want %d", tc.err, rr.Code, tc.want)
		}
		if !strings.Contains(rr.Body.String(), tc.err.Error()) {
			t.Fatalf("error body missing cause: %s", rr.Body.String())
		}
		if rr := serve(s, http.MethodGet, "/worker/pid", nil); rr.Code != tc.want {
			t.Fatalf("pid %v: status=%d want %d", tc.err, rr.Code, tc.want)
		}
	}
}

func TestWorkerExecRejectsLargeBody(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, &stubExecutor{})
	rr := serve(s, http.MethodPost, "/worker/exec", make([]byte, MaxRequestBody+1))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	s := New("serve-worker", config.ServerConfig{Addr: "127.0.0.1:0"}, &stubExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
}
