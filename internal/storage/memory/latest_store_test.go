package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/JakeFAU/sitecapture/internal/capture"
)

func TestLatestStorePutCopiesData(t *testing.T) {
	t.Parallel()

	store := NewLatestStore()
	if _, ok := store.Latest(); ok {
		t.Fatal("expected empty store")
	}

	payload := []byte("content")
	at := time.Unix(100, 0).UTC()
	store.Put(capture.Snapshot{Bytes: payload, URL: "https://example.com", Format: capture.FormatPNG, CapturedAt: at})
	payload[0] = 'C'

	got, ok := store.Latest()
	if !ok {
		t.Fatal("expected snapshot after Put")
	}
	if string(got.Bytes) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", got.Bytes)
	}
	if got.URL != "https://example.com" || !got.CapturedAt.Equal(at) {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestLatestStoreLastWriteWins(t *testing.T) {
	t.Parallel()

	store := NewLatestStore()
	store.Put(capture.Snapshot{Bytes: []byte("a"), URL: "https://a.test"})
	store.Put(capture.Snapshot{Bytes: []byte("b"), URL: "https://b.test"})

	got, _ := store.Latest()
	if got.URL != "https://b.test" || string(got.Bytes) != "b" {
		t.Fatalf("expected last write to win, got %+v", got)
	}

	store.Reset()
	if _, ok := store.Latest(); ok {
		t.Fatal("expected Reset to empty the store")
	}
}

func TestLatestStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	store := NewLatestStore()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Put(capture.Snapshot{Bytes: []byte("x"), URL: "https://x.test"})
		}()
		go func() {
			defer wg.Done()
			store.Latest()
		}()
	}
	wg.Wait()
	if got, ok := store.Latest(); !ok || string(got.Bytes) != "x" {
		t.Fatalf("unexpected final snapshot %+v", got)
	}
}
