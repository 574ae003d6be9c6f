// Package servicelog is the append-only record of scheduler ticks.
//
// Records are stored one JSON object per line. Each line carries the hash of
// its predecessor so truncation or edits in the middle of the file can be
// detected with Verify.
package servicelog

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Outcome tags a tick.
type Outcome string

const (
	OutcomeNoViolation    Outcome = "no-violation"
	OutcomeViolationFound Outcome = "violation-found"
	OutcomeError          Outcome = "error"
)

// ErrChainBroken is returned by Verify when a line does not link to its
// predecessor.
var ErrChainBroken = errors.New("service log hash chain broken")

// Record is one line of the service log.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	Outcome    Outcome   `json:"outcome"`
	Detail     string    `json:"detail"`
	Job        string    `json:"job,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	Iterations int       `json:"iterations,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	PrevHash   string    `json:"prev_hash,omitempty"`
	Hash       string    `json:"hash,omitempty"`
}

func (r Record) computeHash() string {
	r.Hash = ""
	data, _ := json.Marshal(r)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Appender accepts service log records.
type Appender interface {
	Append(ctx context.Context, r Record) error
}

// FileLog is the single writer of a service log file. Appends are
// serialized and keep their call order.
type FileLog struct {
	mu       sync.Mutex
	path     string
	lastHash string
}

// Open prepares path for appending, creating its directory, and picks up the
// chain where the existing file ends.
func Open(path string) (*FileLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create service log directory: %w", err)
	}
	recs, err := readAll(path)
	if err != nil {
		return nil, err
	}
	l := &FileLog{path: path}
	if len(recs) > 0 {
		l.lastHash = recs[len(recs)-1].Hash
	}
	return l, nil
}

// Path returns the file location.
func (l *FileLog) Path() string { return l.path }

// Append writes r as one line. A zero timestamp is set to now.
func (l *FileLog) Append(_ context.Context, r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	r.PrevHash = l.lastHash
	r.Hash = r.computeHash()
	line, err := json.Marshal(r)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open service log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append service log: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	l.lastHash = r.Hash
	return nil
}

// Tail returns the last n records, oldest first. n <= 0 returns all.
func (l *FileLog) Tail(n int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Tail(l.path, n)
}

// Tail reads the last n records of the file at path.
func Tail(path string, n int) ([]Record, error) {
	recs, err := readAll(path)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	return recs, nil
}

// Verify checks the hash chain of the file and returns the number of
// records.
func Verify(path string) (int, error) {
	recs, err := readAll(path)
	if err != nil {
		return 0, err
	}
	prev := ""
	for i, r := range recs {
		if r.PrevHash != prev || r.Hash != r.computeHash() {
			return i, fmt.Errorf("%w at record %d", ErrChainBroken, i+1)
		}
		prev = r.Hash
	}
	return len(recs), nil
}

func readAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var recs []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("invalid service log line %d: %w", line, err)
		}
		recs = append(recs, r)
	}
	return recs, sc.Err()
}

// Fanout writes to a primary log and mirrors each record to secondary
// appenders. Only the primary can fail an append.
type Fanout struct {
	Primary Appender
	Mirrors []Appender
	Logger  *slog.Logger
}

// Append implements Appender.
func (f *Fanout) Append(ctx context.Context, r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if err := f.Primary.Append(ctx, r); err != nil {
		return err
	}
	for _, m := range f.Mirrors {
		if err := m.Append(ctx, r); err != nil {
			f.logger().Warn("Service log mirror failed", "outcome", r.Outcome, "error", err)
		}
	}
	return nil
}

func (f *Fanout) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}
