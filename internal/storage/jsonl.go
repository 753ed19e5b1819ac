// Package storage persists chart events as JSON lines, one directory per
// UTC day, rotated by size with lumberjack.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/perpchart/internal/chart"
)

var (
	ErrJournalClosed = errors.New("storage: journal closed")
	ErrBufferFull    = errors.New("storage: journal buffer full")
)

// Entry is one journal line.
type Entry struct {
	Market string `json:"market"`
	chart.Event
}

// Journal writes entries asynchronously to
// {baseDir}/{YYYY-MM-DD}/{name}.jsonl. It implements chart.Recorder.
type Journal struct {
	baseDir   string
	name      string
	market    string
	maxSizeMB int

	writeCh chan Entry
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
	now         func() time.Time
}

// NewJournal starts the writer goroutine. name is the file base name,
// usually the market.
func NewJournal(baseDir, name, market string, bufferSize, maxSizeMB int) *Journal {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	j := &Journal{
		baseDir:   baseDir,
		name:      name,
		market:    market,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan Entry, bufferSize),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j
}

// Record queues a chart event. It never blocks the chart.
func (j *Journal) Record(e chart.Event) {
	if err := j.Write(Entry{Market: j.market, Event: e}); err != nil {
		slog.Debug("storage journal record dropped", "kind", e.Kind, "error", err)
	}
}

func (j *Journal) Write(entry Entry) error {
	select {
	case <-j.done:
		return ErrJournalClosed
	default:
	}
	select {
	case j.writeCh <- entry:
		return nil
	default:
		slog.Warn("storage journal buffer full, dropping entry", "name", j.name)
		return ErrBufferFull
	}
}

// Close flushes queued entries and closes the current file.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() { close(j.done) })
	j.wg.Wait()

	timeout := time.After(5 * time.Second)
drain:
	for {
		select {
		case entry := <-j.writeCh:
			j.writeEntry(entry)
		case <-timeout:
			slog.Warn("storage journal close timeout, some entries may be lost", "name", j.name)
			break drain
		default:
			break drain
		}
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.logger != nil {
		err := j.logger.Close()
		j.logger = nil
		return err
	}
	return nil
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for {
		select {
		case entry := <-j.writeCh:
			j.writeEntry(entry)
		case <-j.done:
			return
		}
	}
}

func (j *Journal) writeEntry(entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Error("storage journal marshal failed", "error", err, "name", j.name)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	date := j.now().UTC().Format("2006-01-02")
	if date != j.currentDate || j.logger == nil {
		if err := j.rotateForDate(date); err != nil {
			slog.Error("storage journal rotate failed", "error", err, "date", date)
			return
		}
	}
	if _, err := j.logger.Write(append(data, '\n')); err != nil {
		slog.Error("storage journal write failed", "error", err, "name", j.name)
	}
}

func (j *Journal) rotateForDate(date string) error {
	if j.logger != nil {
		_ = j.logger.Close()
		j.logger = nil
	}
	dir := filepath.Join(j.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: create %s: %w", dir, err)
	}
	filename := filepath.Join(dir, SafeName(j.name)+".jsonl")
	j.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    j.maxSizeMB,
		MaxBackups: 30,
		MaxAge:     30,
		LocalTime:  false,
	}
	j.currentDate = date
	slog.Info("storage journal opened", "file", filename)
	return nil
}
