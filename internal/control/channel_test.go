package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/any-hub/offline-hub/internal/cache"
)

func TestClearCacheDeletesEveryStore(t *testing.T) {
	storage := newTestStorage(t)
	seed(t, storage, "iq-trainer-shell-2.0.0", 2)
	seed(t, storage, "iq-trainer-images-1.0.0", 1)
	seed(t, storage, "unrelated", 3)

	reply := send(t, NewChannel(storage, nil), ActionClearCache)
	if !reply.Success || reply.Stats != nil {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	names, _ := storage.Names(context.Background())
	if len(names) != 0 {
		t.Fatalf("expected no caches after clear, got %v", names)
	}
}

func TestGetCacheStatsCountsEntries(t *testing.T) {
	storage := newTestStorage(t)
	seed(t, storage, "Shell", 2)
	seed(t, storage, "Images", 5)

	reply := send(t, NewChannel(storage, nil), ActionGetCacheStats)
	if !reply.Success {
		t.Fatalf("unexpected failure: %+v", reply)
	}
	got := map[string]int{}
	for _, stat := range reply.Stats {
		got[stat.Name] = stat.Size
	}
	if len(got) != 2 || got["Shell"] != 2 || got["Images"] != 5 {
		t.Fatalf("unexpected stats: %+v", reply.Stats)
	}
}

func TestGetCacheStatsToleratesCorruptEntries(t *testing.T) {
	dir := t.TempDir()
	storage, err := cache.NewDiskStorage(dir)
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	seed(t, storage, "Videos", 1)
	if err := os.WriteFile(filepath.Join(dir, "Videos", "broken.entry"), []byte("garbage"), 0o600); err != nil {
		t.Fatalf("write error: %v", err)
	}

	reply := send(t, NewChannel(storage, nil), ActionGetCacheStats)
	if !reply.Success || len(reply.Stats) != 1 || reply.Stats[0].Size != 2 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestGetCacheStatsEmptyEncodesArray(t *testing.T) {
	reply := send(t, NewChannel(newTestStorage(t), nil), ActionGetCacheStats)
	data, err := json.Marshal(reply)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if string(data) != `{"success":true,"stats":[]}` {
		t.Fatalf("unexpected json: %s", data)
	}

	clear, _ := json.Marshal(Reply{Success: true})
	if string(clear) != `{"success":true}` {
		t.Fatalf("unexpected json: %s", clear)
	}
}

func TestUnknownMessagesGetNoReply(t *testing.T) {
	channel := NewChannel(newTestStorage(t), nil)
	port := make(chan Reply, 1)
	for _, action := range []string{"", "skipWaiting", "CLEARCACHE"} {
		if channel.Handle(context.Background(), Message{Action: action, Port: port}) {
			t.Fatalf("action %q should be ignored", action)
		}
	}
	select {
	case reply := <-port:
		t.Fatalf("unexpected reply: %+v", reply)
	default:
	}
}

func TestFailedOperationStillRepliesOnce(t *testing.T) {
	channel := NewChannel(failingStorage{}, nil)
	port := make(chan Reply, 2)
	if !channel.Handle(context.Background(), Message{Action: ActionClearCache, Port: port}) {
		t.Fatalf("recognized message should be handled")
	}
	if len(port) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(port))
	}
	reply := <-port
	if reply.Success || reply.Error == "" {
		t.Fatalf("expected failure reply, got %+v", reply)
	}
}

func TestParse(t *testing.T) {
	testCases := map[string]string{
		`{"action":"clearCache"}`:    ActionClearCache,
		`{"action":"getCacheStats"}`: ActionGetCacheStats,
		`{"type":"x"}`:               "",
		`not json`:                   "",
		`["clearCache"]`:             "",
	}
	for payload, want := range testCases {
		if got := Parse([]byte(payload)); got != want {
			t.Fatalf("Parse(%s) = %q, want %q", payload, got, want)
		}
	}
	if !Recognized(ActionClearCache) || Recognized("other") {
		t.Fatalf("unexpected Recognized result")
	}
}

type failingStorage struct{ cache.Storage }

func (failingStorage) Names(context.Context) ([]string, error) {
	return nil, errors.New("disk unavailable")
}

func send(t *testing.T, channel *Channel, action string) Reply {
	t.Helper()
	port := make(chan Reply, 1)
	if !channel.Handle(context.Background(), Message{Action: action, Port: port}) {
		t.Fatalf("action %s was not handled", action)
	}
	return <-port
}

func seed(t *testing.T, storage cache.Storage, name string, entries int) {
	t.Helper()
	store, err := storage.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	for i := 0; i < entries; i++ {
		u, _ := url.Parse(fmt.Sprintf("https://app.example/%s/%d", name, i))
		if err := store.Put(context.Background(), cache.NewFingerprint("GET", u), cache.Synthesize(200, "OK", "x")); err != nil {
			t.Fatalf("put error: %v", err)
		}
	}
}

func newTestStorage(t *testing.T) cache.Storage {
	t.Helper()
	storage, err := cache.NewDiskStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	return storage
}
