package persistence

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// RecordKind identifies the payload of a journal record.
type RecordKind uint8

const (
	// RecordLabels is a batch of applied user labels.
	RecordLabels RecordKind = 1
	// RecordRound is the completion of one round.
	RecordRound RecordKind = 2
	// RecordIssued is a solution id handed to a client, written before the
	// round is queued.
	RecordIssued RecordKind = 3
)

// LabelEntry is one journaled label.
type LabelEntry struct {
	U     uint64
	V     uint64
	Label int
}

// Record is one journal entry. Only the fields of its Kind are set.
type Record struct {
	Kind RecordKind
	Time int64 // Unix nano

	Labels []LabelEntry

	SolutionID uint64
	Outcome    int
}

// Journal is an append-only log of framed, gob-encoded records.
// Every Append is flushed to the OS before returning; SyncEvery controls how
// often an fsync follows (0 means every append).
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	frames *FrameWriter
	path   string

	syncEvery time.Duration
	lastSync  time.Time
	closed    bool
}

// OpenJournal opens or creates the journal at path and replays every intact
// record through replay (which may be nil). A torn or corrupt tail is
// truncated away and logged; the records before it are kept.
func OpenJournal(path string, syncEvery time.Duration, replay func(Record) error) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	valid, count, err := replayFrom(file, replay)
	if err != nil {
		file.Close()
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat journal: %w", err)
	}
	if info.Size() > valid {
		slog.Warn("Journal has a corrupt tail, truncating",
			"path", path,
			"valid_bytes", valid,
			"file_bytes", info.Size(),
		)
		if err := file.Truncate(valid); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to truncate journal: %w", err)
		}
	}
	if _, err := file.Seek(valid, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to seek journal: %w", err)
	}

	slog.Info("Journal opened", "path", path, "records", count)

	j := &Journal{
		file:      file,
		buf:       bufio.NewWriter(file),
		path:      path,
		syncEvery: syncEvery,
		lastSync:  time.Now(),
	}
	j.frames = NewFrameWriter(j.buf)
	return j, nil
}

// replayFrom decodes frames from the start of f and returns the offset just
// past the last intact record together with the number of records replayed.
func replayFrom(f *os.File, replay func(Record) error) (int64, int, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, 0, fmt.Errorf("failed to seek journal: %w", err)
	}
	r := bufio.NewReader(f)

	var offset int64
	count := 0
	for {
		_, payload, n, err := ReadFrame(r)
		if err == io.EOF {
			return offset, count, nil
		}
		if err != nil {
			// ErrIncompleteFrame, ErrChecksumMismatch, ErrInvalidMagic: stop at the
			// last good boundary.
			return offset, count, nil
		}

		var rec Record
		if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&rec); err != nil {
			return offset, count, nil
		}
		if replay != nil {
			if err := replay(rec); err != nil {
				return 0, 0, fmt.Errorf("journal replay at offset %d: %w", offset, err)
			}
		}
		offset += int64(n)
		count++
	}
}

// Append writes one record and flushes it to the OS.
func (j *Journal) Append(rec Record) error {
	if rec.Time == 0 {
		rec.Time = time.Now().UnixNano()
	}
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(&rec); err != nil {
		return fmt.Errorf("encoding journal record: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return errors.New("journal is closed")
	}
	if err := j.frames.WriteFrame(FlagLast, payload.Bytes()); err != nil {
		return err
	}
	if err := j.buf.Flush(); err != nil {
		return err
	}
	if time.Since(j.lastSync) >= j.syncEvery {
		j.lastSync = time.Now()
		return j.file.Sync()
	}
	return nil
}

// AppendLabels journals a batch of applied labels.
func (j *Journal) AppendLabels(entries []LabelEntry) error {
	return j.Append(Record{Kind: RecordLabels, Labels: entries})
}

// AppendRound journals a round completion.
func (j *Journal) AppendRound(solutionID uint64, outcome int) error {
	return j.Append(Record{Kind: RecordRound, SolutionID: solutionID, Outcome: outcome})
}

// AppendIssued journals a newly issued solution id.
func (j *Journal) AppendIssued(solutionID uint64) error {
	return j.Append(Record{Kind: RecordIssued, SolutionID: solutionID})
}

// Recovery accumulates the state a restart needs from a journal replay.
// Pass its Apply method to OpenJournal.
type Recovery struct {
	Labels         []LabelEntry
	LastSolutionID uint64 // highest id ever issued or completed
}

// Apply folds one replayed record into r.
func (r *Recovery) Apply(rec Record) error {
	switch rec.Kind {
	case RecordLabels:
		r.Labels = append(r.Labels, rec.Labels...)
	case RecordRound, RecordIssued:
		r.LastSolutionID = max(r.LastSolutionID, rec.SolutionID)
	}
	return nil
}

// Sync forces a flush to disk (fsync).
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.buf.Flush(); err != nil {
		return err
	}
	return j.file.Sync()
}

// Path returns the file path.
func (j *Journal) Path() string {
	return j.path
}

// Close flushes, syncs and closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if err := j.buf.Flush(); err != nil {
		_ = j.file.Close()
		return err
	}
	if err := j.file.Sync(); err != nil {
		_ = j.file.Close()
		return err
	}
	return j.file.Close()
}
