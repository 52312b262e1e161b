package recordreplay

import (
	"sync"
	"testing"

	llmsim "github.com/eugener/llmsim/internal"
)

func TestStore_LookupMiss(t *testing.T) {
	t.Parallel()
	s := NewStore()
	if _, ok := s.Lookup("/some/path", "fp"); ok {
		t.Fatal("expected miss on empty store")
	}
}

func TestStore_InsertIfAbsentIsIdempotent(t *testing.T) {
	t.Parallel()
	s := NewStore()
	path := "/openai/deployments/foo/chat/completions"

	s.InsertIfAbsent(path, llmsim.RecordedResponse{Fingerprint: "fp", StatusCode: 200, Body: []byte("first")})
	s.InsertIfAbsent(path, llmsim.RecordedResponse{Fingerprint: "fp", StatusCode: 200, Body: []byte("second")})

	r, ok := s.Lookup(path, "fp")
	if !ok {
		t.Fatal("expected entry to be present")
	}
	if string(r.Body) != "first" {
		t.Errorf("body = %q, want %q (first write wins)", r.Body, "first")
	}
}

func TestStore_ConcurrentInsertsDifferentPaths(t *testing.T) {
	t.Parallel()
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := "/path"
			if i%2 == 0 {
				path = "/other-path"
			}
			s.InsertIfAbsent(path, llmsim.RecordedResponse{Fingerprint: "fp", StatusCode: 200})
		}(i)
	}
	wg.Wait()

	if _, ok := s.Lookup("/path", "fp"); !ok {
		t.Error("expected entry under /path")
	}
	if _, ok := s.Lookup("/other-path", "fp"); !ok {
		t.Error("expected entry under /other-path")
	}
}

func TestStore_Entries(t *testing.T) {
	t.Parallel()
	s := NewStore()
	path := "/path"
	s.InsertIfAbsent(path, llmsim.RecordedResponse{Fingerprint: "a"})
	s.InsertIfAbsent(path, llmsim.RecordedResponse{Fingerprint: "b"})

	entries := s.Entries(path)
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
}
