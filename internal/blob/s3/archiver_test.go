package s3blob

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/annabazaar/pricingengine/internal/domain"
)

type recordingWriter struct {
	puts, multiparts []string
	body             []byte
	err              error
}

func (w *recordingWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	w.puts = append(w.puts, path)
	w.body, _ = io.ReadAll(data)
	return w.err
}

func (w *recordingWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	w.multiparts = append(w.multiparts, path)
	w.body, _ = io.ReadAll(data)
	return w.err
}

type existingKeys struct {
	keys map[string]bool
	err  error
}

func (e existingKeys) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("unused")
}
func (e existingKeys) List(context.Context, string) ([]domain.BlobInfo, error) {
	return nil, errors.New("unused")
}
func (e existingKeys) Exists(_ context.Context, path string) (bool, error) {
	return e.keys[path], e.err
}

var fetched = time.Date(2026, 3, 10, 18, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))

func TestRawPayloadPath(t *testing.T) {
	tests := map[string]string{
		"Tomato":               "mandi/raw/2026/03/10/tomato.json",
		"Green Chilli":         "mandi/raw/2026/03/10/green-chilli.json",
		" Bengal Gram (Whole)": "mandi/raw/2026/03/10/bengal-gram-whole.json",
	}
	for commodity, want := range tests {
		if got := RawPayloadPath(commodity, fetched); got != want {
			t.Errorf("RawPayloadPath(%q) = %q, want %q", commodity, got, want)
		}
	}
	if got := DayPrefix(fetched); got != "mandi/raw/2026/03/10/" {
		t.Errorf("DayPrefix = %q", got)
	}
}

func TestArchiveSmallPayload(t *testing.T) {
	w := &recordingWriter{}
	key, err := NewPayloadArchiver(w, nil).Archive(context.Background(), "Onion", fetched, []byte(`{"records":[]}`))
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if key != "mandi/raw/2026/03/10/onion.json" || len(w.puts) != 1 || len(w.multiparts) != 0 {
		t.Errorf("key = %q puts = %v multiparts = %v", key, w.puts, w.multiparts)
	}
	if string(w.body) != `{"records":[]}` {
		t.Errorf("body = %q", w.body)
	}
}

func TestArchiveLargePayloadUsesMultipart(t *testing.T) {
	w := &recordingWriter{}
	payload := make([]byte, multipartThreshold+1)
	if _, err := NewPayloadArchiver(w, nil).Archive(context.Background(), "Wheat", fetched, payload); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(w.multiparts) != 1 || len(w.puts) != 0 {
		t.Errorf("puts = %v multiparts = %v", w.puts, w.multiparts)
	}
}

func TestArchiveKeepsEarlierPayloadOfTheDay(t *testing.T) {
	w := &recordingWriter{}
	seen := existingKeys{keys: map[string]bool{"mandi/raw/2026/03/10/onion.json": true}}
	a := NewPayloadArchiver(w, seen)

	key, err := a.Archive(context.Background(), "Onion", fetched, []byte(`{}`))
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if key != "mandi/raw/2026/03/10/onion-130000.json" {
		t.Errorf("key = %q, want time-suffixed key", key)
	}

	key, err = a.Archive(context.Background(), "Wheat", fetched, []byte(`{}`))
	if err != nil || key != "mandi/raw/2026/03/10/wheat.json" {
		t.Errorf("first payload of the day: key = %q err = %v", key, err)
	}

	failing := NewPayloadArchiver(w, existingKeys{err: errors.New("head failed")})
	if _, err := failing.Archive(context.Background(), "Rice", fetched, []byte(`{}`)); err == nil {
		t.Error("Exists error swallowed")
	}
}

func TestArchiveErrors(t *testing.T) {
	a := NewPayloadArchiver(&recordingWriter{err: errors.New("boom")}, nil)
	if _, err := a.Archive(context.Background(), "Rice", fetched, []byte("x")); err == nil {
		t.Error("writer error swallowed")
	}
	if _, err := a.Archive(context.Background(), "Rice", fetched, nil); err == nil {
		t.Error("empty payload accepted")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	if got := normaliseEndpoint("minio:9000", false); got != "http://minio:9000" {
		t.Errorf("got %q", got)
	}
	if got := normaliseEndpoint("s3.example.com", true); got != "https://s3.example.com" {
		t.Errorf("got %q", got)
	}
	if got := normaliseEndpoint("https://x.example", false); got != "https://x.example" {
		t.Errorf("got %q", got)
	}
}
