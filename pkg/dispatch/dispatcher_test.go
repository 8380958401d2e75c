package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/pixstory/pkg/ratelimit"
)

// progressRecorder collects progress reports.
type progressRecorder struct {
	mu      sync.Mutex
	reports [][2]int
}

func (p *progressRecorder) record(completed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports = append(p.reports, [2]int{completed, total})
}

func (p *progressRecorder) snapshot() [][2]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][2]int(nil), p.reports...)
}

func TestRun_PreservesOrder(t *testing.T) {
	items := []int{5, 4, 3, 2, 1}
	d := New[int, string](ratelimit.NewSpacer(0), DefaultConfig())

	// Later items finish first.
	worker := func(ctx context.Context, index int, item int) (string, error) {
		time.Sleep(time.Duration(item) * 5 * time.Millisecond)
		return fmt.Sprintf("item-%d", item), nil
	}

	results, err := d.Run(context.Background(), items, worker, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != len(items) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(items))
	}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("results[%d].Index = %d", i, r.Index)
		}
		if want := fmt.Sprintf("item-%d", items[i]); r.Value != want {
			t.Errorf("results[%d].Value = %q, want %q", i, r.Value, want)
		}
	}
}

func TestRun_ProgressIsMonotonic(t *testing.T) {
	const n = 20
	items := make([]int, n)
	d := New[int, int](ratelimit.NewSpacer(0), DefaultConfig())
	rec := &progressRecorder{}

	_, err := d.Run(context.Background(), items, func(ctx context.Context, index int, _ int) (int, error) {
		time.Sleep(time.Duration(n-index) * time.Millisecond)
		return index, nil
	}, rec.record)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	reports := rec.snapshot()
	if len(reports) != n {
		t.Fatalf("got %d progress reports, want %d", len(reports), n)
	}
	for i, r := range reports {
		if r[0] != i+1 || r[1] != n {
			t.Errorf("report %d = %v, want [%d %d]", i, r, i+1, n)
		}
	}
}

func TestRun_SpacesDispatchStarts(t *testing.T) {
	const interval = 100 * time.Millisecond
	d := New[string, string](ratelimit.NewSpacer(interval), DefaultConfig())
	rec := &progressRecorder{}

	start := time.Now()
	results, err := d.Run(context.Background(), []string{"a", "b", "c"}, func(ctx context.Context, index int, item string) (string, error) {
		return item + item, nil
	}, rec.record)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed < 2*interval {
		t.Errorf("batch took %v, want >= %v", elapsed, 2*interval)
	}
	if results[2].Value != "cc" {
		t.Errorf("results[2] = %q, want cc", results[2].Value)
	}

	want := [][2]int{{1, 3}, {2, 3}, {3, 3}}
	got := rec.snapshot()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("progress = %v, want %v", got, want)
	}
}

func TestRun_FirstErrorFailsBatch(t *testing.T) {
	boom := errors.New("boom")
	d := New[int, int](ratelimit.NewSpacer(20*time.Millisecond), DefaultConfig())
	rec := &progressRecorder{}

	results, err := d.Run(context.Background(), []int{0, 1, 2, 3, 4}, func(ctx context.Context, index int, _ int) (int, error) {
		if index == 1 {
			return 0, boom
		}
		return index, nil
	}, rec.record)

	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}

	var itemErr *ItemError
	if !errors.As(err, &itemErr) {
		t.Fatalf("Run() error = %v, want *ItemError", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error does not wrap cause: %v", err)
	}
	if itemErr.Index != 1 {
		t.Errorf("ItemError.Index = %d, want 1", itemErr.Index)
	}
	for _, r := range rec.snapshot() {
		if r[0] >= 5 {
			t.Errorf("progress reported a complete batch: %v", r)
		}
	}
}

func TestRun_TimeoutFailsItem(t *testing.T) {
	d := New[int, int](ratelimit.NewSpacer(0), Config{Timeout: 20 * time.Millisecond})

	_, err := d.Run(context.Background(), []int{0, 1}, func(ctx context.Context, index int, _ int) (int, error) {
		if index == 0 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 1, nil
	}, nil)

	var itemErr *ItemError
	if !errors.As(err, &itemErr) {
		t.Fatalf("Run() error = %v, want *ItemError", err)
	}
	if itemErr.Index != 0 {
		t.Errorf("ItemError.Index = %d, want 0", itemErr.Index)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestRun_CancelStopsWaitingItems(t *testing.T) {
	d := New[int, int](ratelimit.NewSpacer(time.Second), DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := d.Run(ctx, []int{0, 1, 2, 3}, func(ctx context.Context, index int, _ int) (int, error) {
		calls.Add(1)
		return index, nil
	}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("worker calls = %d, want 1", n)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("cancelled batch returned after %v", elapsed)
	}
}

func TestRun_EmptyBatch(t *testing.T) {
	d := New[int, int](nil, DefaultConfig())
	results, err := d.Run(context.Background(), nil, func(ctx context.Context, index int, _ int) (int, error) {
		t.Fatal("worker called for empty batch")
		return 0, nil
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("results = %v, want empty non-nil", results)
	}
}

func TestItemError(t *testing.T) {
	cause := errors.New("provider down")
	err := &ItemError{Index: 3, Err: cause}

	if got, want := err.Error(), "item 3: provider down"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}
