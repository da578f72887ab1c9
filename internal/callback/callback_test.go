package callback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// drainOne pops the next outbound request.
func drainOne(t *testing.T, s *Session) Request {
	t.Helper()
	select {
	case req := <-s.Outbound():
		return req
	case <-time.After(time.Second):
		t.Fatal("no outbound request")
		return Request{}
	}
}

func TestInvokeRoundTrip(t *testing.T) {
	s := NewSession("sess", testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := drainOne(t, s)
		if req.ToolName != "read" || req.Arguments["path"] != "main.go" {
			t.Errorf("unexpected request: %+v", req)
		}
		s.Deliver(Response{RequestID: req.RequestID, Success: true, Data: "package main"})
	}()

	resp, err := s.Invoke(context.Background(), "read", map[string]string{"path": "main.go"}, time.Second)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !resp.Success || resp.Data != "package main" {
		t.Errorf("unexpected response: %+v", resp)
	}
	<-done

	if s.PendingCount() != 0 {
		t.Errorf("pending leak: %d", s.PendingCount())
	}
}

func TestConcurrentCorrelationShuffled(t *testing.T) {
	// N outstanding requests answered in shuffled order: every response
	// must reach its own future.
	s := NewSession("sess", testLogger())
	const n = 20

	// Fake client: collect all requests, answer in random order with the
	// request id embedded in the payload.
	go func() {
		reqs := make([]Request, 0, n)
		for i := 0; i < n; i++ {
			reqs = append(reqs, drainOne(t, s))
		}
		rand.Shuffle(len(reqs), func(i, j int) { reqs[i], reqs[j] = reqs[j], reqs[i] })
		for _, req := range reqs {
			s.Deliver(Response{RequestID: req.RequestID, Success: true, Data: "result-for-" + req.Arguments["idx"]})
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx := fmt.Sprintf("%d", i)
			resp, err := s.Invoke(context.Background(), "bash", map[string]string{"idx": idx}, 5*time.Second)
			if err != nil {
				t.Errorf("Invoke %d: %v", i, err)
				return
			}
			if resp.Data != "result-for-"+idx {
				t.Errorf("response %d mis-delivered: %q", i, resp.Data)
			}
		}()
	}
	wg.Wait()
}

func TestDuplicateResponseDropped(t *testing.T) {
	s := NewSession("sess", testLogger())

	go func() {
		req := drainOne(t, s)
		s.Deliver(Response{RequestID: req.RequestID, Success: true, Data: "first"})
		s.Deliver(Response{RequestID: req.RequestID, Success: true, Data: "second"}) // dropped
	}()

	resp, err := s.Invoke(context.Background(), "read", nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Data != "first" {
		t.Errorf("first response must win: %q", resp.Data)
	}
	if s.PendingCount() != 0 {
		t.Errorf("pending leak after duplicate: %d", s.PendingCount())
	}
}

func TestUnmatchedResponseDiscarded(t *testing.T) {
	s := NewSession("sess", testLogger())
	s.Deliver(Response{RequestID: "never-requested", Success: true})
	if s.PendingCount() != 0 {
		t.Error("unmatched response should not create state")
	}
}

func TestInvokeTimeout(t *testing.T) {
	s := NewSession("sess", testLogger())

	go func() { drainOne(t, s) }() // client never answers

	resp, err := s.Invoke(context.Background(), "bash", nil, 30*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if resp.Success || resp.Error != "timed out" {
		t.Errorf("unexpected timeout response: %+v", resp)
	}

	// A late response for the timed-out id is dropped silently.
	s.Deliver(Response{RequestID: resp.RequestID, Success: true, Data: "late"})
	if s.PendingCount() != 0 {
		t.Errorf("pending leak: %d", s.PendingCount())
	}
}

func TestCloseCancelsPending(t *testing.T) {
	s := NewSession("sess", testLogger())

	errCh := make(chan error, 1)
	respCh := make(chan Response, 1)
	go func() {
		resp, err := s.Invoke(context.Background(), "read", nil, 5*time.Second)
		respCh <- resp
		errCh <- err
	}()

	drainOne(t, s)
	s.Close()

	resp := <-respCh
	<-errCh
	if resp.Success || resp.Error != "session closed" {
		t.Errorf("pending future should resolve with synthetic failure: %+v", resp)
	}

	// Further invokes reject immediately.
	if _, err := s.Invoke(context.Background(), "read", nil, time.Second); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestRegistryReplaceClosesOldStream(t *testing.T) {
	r := NewRegistry(testLogger())
	first := r.Register("sess")
	second := r.Register("sess")

	if !first.Closed() {
		t.Error("re-registering must close the previous stream")
	}
	if second.Closed() {
		t.Error("new stream should be open")
	}

	got, err := r.Get("sess")
	if err != nil || got != second {
		t.Errorf("Get returned %v, %v", got, err)
	}

	r.Unregister("sess")
	if !second.Closed() {
		t.Error("unregister must close the stream")
	}
	if _, err := r.Get("sess"); err == nil {
		t.Error("unregistered session should not resolve")
	}
}

func TestEncodeDecodeArguments(t *testing.T) {
	in := map[string]any{
		"path":        "a.go",
		"replace_all": true,
		"count":       float64(3),
	}
	wire := EncodeArguments(in)
	if wire["path"] != "a.go" || wire["replace_all"] != "true" || wire["count"] != "3" {
		t.Errorf("unexpected wire encoding: %v", wire)
	}

	out := DecodeArguments(wire)
	if out["path"] != "a.go" {
		t.Errorf("path mangled: %v", out["path"])
	}
	if out["replace_all"] != true {
		t.Errorf("bool not restored: %v", out["replace_all"])
	}
	if out["count"] != float64(3) {
		t.Errorf("number not restored: %v", out["count"])
	}
}
