package queue_test

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/rohmanhakim/docs-crawler/internal/queue"
	"github.com/rohmanhakim/docs-crawler/internal/urlmodel"
)

func mustURL(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return *u
}

func entry(t *testing.T, surtKey string, due time.Time) urlmodel.QueueEntry {
	t.Helper()
	e := urlmodel.NewQueueEntry(mustURL(t, "https://example.com/"+surtKey), surtKey, "example.com", urlmodel.SourceCrawl, due)
	return e.WithEarliestDueAt(due)
}

func TestQueue_PopDue_ReturnsEarliestDueFirst(t *testing.T) {
	q := queue.New(0, 0, nil)
	base := time.Unix(1000, 0)

	_ = q.Push(context.Background(), entry(t, "b", base.Add(2*time.Second)))
	_ = q.Push(context.Background(), entry(t, "a", base.Add(time.Second)))
	_ = q.Push(context.Background(), entry(t, "c", base.Add(3*time.Second)))

	got, ok := q.PopDue(base.Add(10 * time.Second))
	if !ok || got.SurtKey != "a" {
		t.Fatalf("expected entry %q first, got %+v (ok=%v)", "a", got, ok)
	}
	got, ok = q.PopDue(base.Add(10 * time.Second))
	if !ok || got.SurtKey != "b" {
		t.Fatalf("expected entry %q second, got %+v (ok=%v)", "b", got, ok)
	}
}

func TestQueue_PopDue_WithholdsNotYetDueEntry(t *testing.T) {
	q := queue.New(0, 0, nil)
	base := time.Unix(1000, 0)

	_ = q.Push(context.Background(), entry(t, "a", base.Add(time.Hour)))

	if _, ok := q.PopDue(base); ok {
		t.Fatal("expected PopDue to withhold an entry not yet due")
	}
	if _, ok := q.PopDue(base.Add(time.Hour)); !ok {
		t.Fatal("expected PopDue to return the entry once its due time arrives")
	}
}

func TestQueue_Push_DedupKeepsEarlierDueTime(t *testing.T) {
	q := queue.New(0, 0, nil)
	base := time.Unix(1000, 0)

	_ = q.Push(context.Background(), entry(t, "a", base.Add(time.Hour)))
	_ = q.Push(context.Background(), entry(t, "a", base.Add(time.Minute)))

	if q.Size() != 1 {
		t.Fatalf("expected dedup to keep a single entry, got size %d", q.Size())
	}
	got, ok := q.PopDue(base.Add(time.Minute))
	if !ok || got.EarliestDueAt != base.Add(time.Minute) {
		t.Fatalf("expected the earlier due-time to win, got %+v (ok=%v)", got, ok)
	}
}

func TestQueue_Push_DedupIgnoresLaterDueTime(t *testing.T) {
	q := queue.New(0, 0, nil)
	base := time.Unix(1000, 0)

	_ = q.Push(context.Background(), entry(t, "a", base.Add(time.Minute)))
	_ = q.Push(context.Background(), entry(t, "a", base.Add(time.Hour)))

	if q.Size() != 1 {
		t.Fatalf("expected dedup to keep a single entry, got size %d", q.Size())
	}
	got, _ := q.PopDue(base.Add(time.Hour))
	if got.EarliestDueAt != base.Add(time.Minute) {
		t.Errorf("a later duplicate push must not override the earlier due-time, got %v", got.EarliestDueAt)
	}
}

func TestQueue_Size_TracksPushesAndPops(t *testing.T) {
	q := queue.New(0, 0, nil)
	base := time.Unix(1000, 0)

	_ = q.Push(context.Background(), entry(t, "a", base))
	_ = q.Push(context.Background(), entry(t, "b", base))
	if q.Size() != 2 {
		t.Fatalf("expected size 2 after two pushes, got %d", q.Size())
	}

	q.PopDue(base)
	if q.Size() != 1 {
		t.Fatalf("expected size 1 after one pop, got %d", q.Size())
	}
}

func TestQueue_Drain_ReturnsEverythingRegardlessOfDueTime(t *testing.T) {
	q := queue.New(0, 0, nil)
	base := time.Unix(1000, 0)

	_ = q.Push(context.Background(), entry(t, "a", base.Add(time.Hour)))
	_ = q.Push(context.Background(), entry(t, "b", base.Add(2*time.Hour)))

	drained := q.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected Drain to return both entries, got %d", len(drained))
	}
	if q.Size() != 0 {
		t.Errorf("expected queue to be empty after Drain, got size %d", q.Size())
	}
}

func TestQueue_Push_BlocksAboveHighWatermarkUntilBelowLow(t *testing.T) {
	q := queue.New(2, 1, nil)
	base := time.Unix(1000, 0)

	if err := q.Push(context.Background(), entry(t, "a", base)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Push(context.Background(), entry(t, "b", base)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Push(context.Background(), entry(t, "c", base))
	}()

	select {
	case <-blocked:
		t.Fatal("expected Push to block at the high watermark")
	case <-time.After(50 * time.Millisecond):
	}

	if _, ok := q.PopDue(base); !ok {
		t.Fatal("expected a due entry to pop")
	}

	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("unexpected error from unblocked Push: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Push to unblock once size dropped to the low watermark")
	}
}

func TestQueue_Push_RespectsContextCancellation(t *testing.T) {
	q := queue.New(1, 0, nil)
	base := time.Unix(1000, 0)
	_ = q.Push(context.Background(), entry(t, "a", base))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Push(ctx, entry(t, "b", base))
	if err == nil {
		t.Fatal("expected Push to return an error when its context is cancelled while blocked")
	}
}

func TestQueue_Close_UnblocksPendingPush(t *testing.T) {
	q := queue.New(1, 0, nil)
	base := time.Unix(1000, 0)
	_ = q.Push(context.Background(), entry(t, "a", base))

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Push(context.Background(), entry(t, "b", base))
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-blocked:
		if err != queue.ErrClosed {
			t.Errorf("expected ErrClosed after Close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Close to unblock a pending Push")
	}
}

type recordingMirror struct {
	pushed, popped []urlmodel.QueueEntry
}

func (m *recordingMirror) OnPush(e urlmodel.QueueEntry) { m.pushed = append(m.pushed, e) }
func (m *recordingMirror) OnPop(e urlmodel.QueueEntry)  { m.popped = append(m.popped, e) }

func TestQueue_Mirror_ReceivesPushAndPop(t *testing.T) {
	mirror := &recordingMirror{}
	q := queue.New(0, 0, mirror)
	base := time.Unix(1000, 0)

	_ = q.Push(context.Background(), entry(t, "a", base))
	q.PopDue(base)

	if len(mirror.pushed) != 1 || mirror.pushed[0].SurtKey != "a" {
		t.Errorf("expected mirror to observe the push, got %+v", mirror.pushed)
	}
	if len(mirror.popped) != 1 || mirror.popped[0].SurtKey != "a" {
		t.Errorf("expected mirror to observe the pop, got %+v", mirror.popped)
	}
}
