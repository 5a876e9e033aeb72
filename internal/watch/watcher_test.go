package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(kind, name, op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, kind+":"+name+":"+op)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func startWatcher(t *testing.T) (styles, templates string, rec *recorder) {
	t.Helper()
	styles, templates = t.TempDir(), t.TempDir()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	rec = &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, []Dir{
			{Kind: "style", Root: styles, Ext: ".csl"},
			{Kind: "template", Root: templates, Ext: ".html"},
		}, logger, rec.record)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(100 * time.Millisecond)
	return styles, templates, rec
}

func TestWatcher_NewStyleReported(t *testing.T) {
	styles, _, rec := startWatcher(t)

	_ = os.WriteFile(filepath.Join(styles, "mla.csl"), []byte("<style/>"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return slices.Contains(rec.snapshot(), "style:mla:updated")
	}, "style creation not reported")
}

func TestWatcher_BurstCollapses(t *testing.T) {
	_, templates, rec := startWatcher(t)
	p := filepath.Join(templates, "compact.html")

	for i := 0; i < 5; i++ {
		_ = os.WriteFile(p, []byte("v"), 0o644)
	}

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return len(rec.snapshot()) > 0
	}, "template write not reported")
	time.Sleep(400 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 || got[0] != "template:compact:updated" {
		t.Errorf("events = %v, want one collapsed update", got)
	}
}

func TestWatcher_DeleteReported(t *testing.T) {
	styles, _, rec := startWatcher(t)
	p := filepath.Join(styles, "old.csl")
	_ = os.WriteFile(p, []byte("<style/>"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return slices.Contains(rec.snapshot(), "style:old:updated")
	}, "style creation not reported")

	_ = os.Remove(p)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return slices.Contains(rec.snapshot(), "style:old:deleted")
	}, "style deletion not reported")
}

func TestWatcher_IgnoresForeignFiles(t *testing.T) {
	styles, templates, rec := startWatcher(t)

	_ = os.WriteFile(filepath.Join(styles, "notes.txt"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(styles, ".bibcite-tmp-123"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(templates, "wrong.csl"), []byte("x"), 0o644)

	time.Sleep(500 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("unexpected events: %v", got)
	}
}
