// Copyright 2026 The Mydia Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mydia-project/mydia/transport"
	"github.com/mydia-project/mydia/wire"
)

// scriptedTransport answers media requests from a function and records
// what it saw.
type scriptedTransport struct {
	mu       sync.Mutex
	answer   func(*wire.Request) (*wire.Response, error)
	requests []*wire.Request
}

func (s *scriptedTransport) Request(_ context.Context, req *wire.Request) (*wire.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	answer := s.answer
	s.mu.Unlock()
	return answer(req)
}

func (s *scriptedTransport) Kind() transport.Kind { return transport.KindDirect }
func (s *scriptedTransport) Addr() string         { return "10.0.0.1:7946" }
func (s *scriptedTransport) Close() error         { return nil }

func (s *scriptedTransport) lastRequest() *wire.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

type staticSource struct {
	t transport.Transport

	disconnects atomic.Int64
}

func (s *staticSource) Transport() transport.Transport { return s.t }

func (s *staticSource) Disconnected() { s.disconnects.Add(1) }

func newTestProxy(t *testing.T, st *scriptedTransport) *httptest.Server {
	t.Helper()
	p := &Proxy{Source: &staticSource{t: st}, AuthToken: "tok-1"}
	ts := httptest.NewServer(p.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPlaylistPassthrough(t *testing.T) {
	st := &scriptedTransport{answer: func(req *wire.Request) (*wire.Response, error) {
		return &wire.Response{
			Status:        200,
			ContentType:   "application/vnd.apple.mpegurl",
			ContentLength: 8,
			CacheControl:  "no-cache",
			Body:          []byte("#EXTM3U\n"),
		}, nil
	}}
	ts := newTestProxy(t, st)

	resp := get(t, ts.URL+"/tunnel/sess1/index.m3u8", nil)
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != 200 || string(body) != "#EXTM3U\n" {
		t.Fatalf("response = %d %q", resp.StatusCode, body)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/vnd.apple.mpegurl" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req := st.lastRequest()
	if req.SessionID != "sess1" || req.Path != "index.m3u8" || req.AuthToken != "tok-1" {
		t.Errorf("wire request = %+v", req)
	}
	if req.RangeStart != nil || req.RangeEnd != nil {
		t.Error("request without Range header carried range bounds")
	}
}

func TestRangeRequestPassthrough(t *testing.T) {
	st := &scriptedTransport{answer: func(req *wire.Request) (*wire.Response, error) {
		return &wire.Response{
			Status:        206,
			ContentType:   "video/mp2t",
			ContentLength: 1024,
			ContentRange:  "bytes 0-1023/409600",
			Body:          make([]byte, 1024),
		}, nil
	}}
	ts := newTestProxy(t, st)

	resp := get(t, ts.URL+"/tunnel/sess1/seg0.ts", map[string]string{"Range": "bytes=0-1023"})
	if resp.StatusCode != 206 {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Range"); got != "bytes 0-1023/409600" {
		t.Errorf("Content-Range = %q", got)
	}

	req := st.lastRequest()
	if req.RangeStart == nil || *req.RangeStart != 0 {
		t.Errorf("RangeStart = %v, want 0", req.RangeStart)
	}
	if req.RangeEnd == nil || *req.RangeEnd != 1023 {
		t.Errorf("RangeEnd = %v, want 1023", req.RangeEnd)
	}
}

func TestMalformedRangeMeansNoRange(t *testing.T) {
	st := &scriptedTransport{answer: func(req *wire.Request) (*wire.Response, error) {
		return &wire.Response{Status: 200, Body: []byte("ok")}, nil
	}}
	ts := newTestProxy(t, st)

	for _, header := range []string{
		"bytes=abc-def",
		"bytes=10-5",
		"bytes=-500",
		"bytes=0-10,20-30",
		"items=0-10",
		"bytes=",
	} {
		resp := get(t, ts.URL+"/tunnel/s/x.ts", map[string]string{"Range": header})
		if resp.StatusCode != 200 {
			t.Errorf("Range %q: status = %d, want 200", header, resp.StatusCode)
		}
		req := st.lastRequest()
		if req.RangeStart != nil || req.RangeEnd != nil {
			t.Errorf("Range %q parsed as %v..%v, want no range", header, req.RangeStart, req.RangeEnd)
		}
	}

	// An open-ended range keeps its start.
	get(t, ts.URL+"/tunnel/s/x.ts", map[string]string{"Range": "bytes=500-"})
	req := st.lastRequest()
	if req.RangeStart == nil || *req.RangeStart != 500 || req.RangeEnd != nil {
		t.Errorf("open range parsed as %v..%v, want 500..nil", req.RangeStart, req.RangeEnd)
	}
}

func TestErrorResponsesCarryCORS(t *testing.T) {
	st := &scriptedTransport{answer: func(req *wire.Request) (*wire.Response, error) {
		return nil, errors.New("session torn down")
	}}
	ts := newTestProxy(t, st)

	cases := []struct {
		url        string
		wantStatus int
	}{
		{ts.URL + "/nothing/here", 404},
		{ts.URL + "/tunnel/onlysession", 400},
		{ts.URL + "/tunnel/sess1/", 400},
		{ts.URL + "/tunnel/sess1/seg0.ts", 500},
	}
	for _, tc := range cases {
		resp := get(t, tc.url, nil)
		if resp.StatusCode != tc.wantStatus {
			t.Errorf("%s: status = %d, want %d", tc.url, resp.StatusCode, tc.wantStatus)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("%s: Access-Control-Allow-Origin = %q, want *", tc.url, got)
		}
	}
}

func TestTransportErrorIsIsolated(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	st := &scriptedTransport{}
	st.answer = func(req *wire.Request) (*wire.Response, error) {
		if fail.Load() {
			return nil, errors.New("connection reset")
		}
		return &wire.Response{Status: 200, Body: []byte("ok")}, nil
	}
	ts := newTestProxy(t, st)

	resp := get(t, ts.URL+"/tunnel/s/x.ts", nil)
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 500 || !strings.Contains(string(body), "connection reset") {
		t.Fatalf("response = %d %q", resp.StatusCode, body)
	}

	// The next request is served normally.
	fail.Store(false)
	resp = get(t, ts.URL+"/tunnel/s/x.ts", nil)
	if resp.StatusCode != 200 {
		t.Errorf("status after recovery = %d, want 200", resp.StatusCode)
	}
}

func TestTransportErrorReportsDisconnect(t *testing.T) {
	st := &scriptedTransport{answer: func(*wire.Request) (*wire.Response, error) {
		return nil, errors.New("connection reset")
	}}
	src := &staticSource{t: st}
	ts := httptest.NewServer((&Proxy{Source: src}).Handler())
	defer ts.Close()

	resp := get(t, ts.URL+"/tunnel/s/x.ts", nil)
	if resp.StatusCode != 500 {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	// A dead session must be reported so a replacement gets probed.
	if got := src.disconnects.Load(); got != 1 {
		t.Errorf("disconnects = %d, want 1", got)
	}
}

func TestRemoteErrorKeepsSession(t *testing.T) {
	st := &scriptedTransport{answer: func(*wire.Request) (*wire.Response, error) {
		return nil, &transport.RemoteError{Message: "decode failed"}
	}}
	src := &staticSource{t: st}
	ts := httptest.NewServer((&Proxy{Source: src}).Handler())
	defer ts.Close()

	resp := get(t, ts.URL+"/tunnel/s/x.ts", nil)
	if resp.StatusCode != 500 {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	// The instance answered over a working session; tearing it down
	// would turn one failed request into a reconnect storm.
	if got := src.disconnects.Load(); got != 0 {
		t.Errorf("disconnects = %d, want 0", got)
	}
}

func TestDisconnectedReturns503(t *testing.T) {
	p := &Proxy{Source: &staticSource{t: nil}}
	ts := httptest.NewServer(p.Handler())
	defer ts.Close()

	resp := get(t, ts.URL+"/tunnel/s/x.ts", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestPreflight(t *testing.T) {
	ts := newTestProxy(t, &scriptedTransport{answer: func(*wire.Request) (*wire.Response, error) {
		return &wire.Response{Status: 200}, nil
	}})

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/tunnel/s/x.ts", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), "Range") {
		t.Errorf("Allow-Headers = %q, want Range included", resp.Header.Get("Access-Control-Allow-Headers"))
	}
}
