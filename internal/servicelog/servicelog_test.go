package servicelog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAppendAndTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "service.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for i, o := range []Outcome{OutcomeNoViolation, OutcomeViolationFound, OutcomeError} {
		if err := l.Append(context.Background(), Record{Outcome: o, Detail: fmt.Sprintf("tick %d", i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	recs, err := l.Tail(2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Outcome != OutcomeViolationFound || recs[1].Detail != "tick 2" {
		t.Errorf("unexpected tail: %+v", recs)
	}
	if recs[1].Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	all, _ := Tail(path, 0)
	if len(all) != 3 {
		t.Errorf("expected 3 records, got %d", len(all))
	}
}

func TestChainSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.jsonl")
	l, _ := Open(path)
	_ = l.Append(context.Background(), Record{Outcome: OutcomeNoViolation, Detail: "first"})

	l2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = l2.Append(context.Background(), Record{Outcome: OutcomeError, Detail: "second"})

	n, err := Verify(path)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 records, got %d", n)
	}
}

func TestVerifyDetectsEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.jsonl")
	l, _ := Open(path)
	for i := 0; i < 3; i++ {
		_ = l.Append(context.Background(), Record{Outcome: OutcomeNoViolation, Detail: fmt.Sprintf("tick %d", i)})
	}

	data, _ := os.ReadFile(path)
	tampered := strings.Replace(string(data), `"detail":"tick 1"`, `"detail":"tick X"`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0o600); err != nil {
		t.Fatal(err)
	}

	n, err := Verify(path)
	if !errors.Is(err, ErrChainBroken) {
		t.Fatalf("expected ErrChainBroken, got %v", err)
	}
	if n != 1 {
		t.Errorf("expected break at index 1, got %d", n)
	}
}

func TestConcurrentAppendsStayWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.jsonl")
	l, _ := Open(path)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Append(context.Background(), Record{Outcome: OutcomeNoViolation, Detail: fmt.Sprintf("tick %d", i)})
		}(i)
	}
	wg.Wait()

	n, err := Verify(path)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if n != 50 {
		t.Errorf("expected 50 records, got %d", n)
	}
}

func TestTailMissingFile(t *testing.T) {
	recs, err := Tail(filepath.Join(t.TempDir(), "none.jsonl"), 10)
	if err != nil || len(recs) != 0 {
		t.Errorf("expected empty tail, got %v, %v", recs, err)
	}
}

type memoryAppender struct {
	mu   sync.Mutex
	recs []Record
	err  error
}

func (m *memoryAppender) Append(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, r)
	return nil
}

func TestFanout(t *testing.T) {
	primary := &memoryAppender{}
	good := &memoryAppender{}
	bad := &memoryAppender{err: errors.New("broker down")}
	f := &Fanout{Primary: primary, Mirrors: []Appender{bad, good}}

	if err := f.Append(context.Background(), Record{Outcome: OutcomeViolationFound, Detail: "x"}); err != nil {
		t.Fatalf("mirror failure must not fail the append: %v", err)
	}
	if len(primary.recs) != 1 || len(good.recs) != 1 {
		t.Fatalf("expected record in primary and good mirror")
	}
	if !primary.recs[0].Timestamp.Equal(good.recs[0].Timestamp) {
		t.Error("mirrors should see the same timestamp")
	}
	if primary.recs[0].Timestamp.After(time.Now()) {
		t.Error("timestamp in the future")
	}

	primary.err = errors.New("disk full")
	if err := f.Append(context.Background(), Record{Outcome: OutcomeError}); err == nil {
		t.Error("expected primary failure to surface")
	}
}
