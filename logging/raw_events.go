// Package logging keeps a verbatim copy of the report input next to the
// Allure results, so a run can be replayed or fed to other tools later.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
	errs    atomic.Int32
}

// NewAsyncFile creates path, including its parent directories, and starts the
// background writer.
func NewAsyncFile(path string) (*AsyncFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100),
	}
	af.wg.Add(1)
	go af.processQueue()
	return af, nil
}

// Write queues a copy of data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	af.queue <- dataCopy
	return nil
}

func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			af.errs.Add(1)
		}
	}
}

// Close drains the queue and closes the file. It reports an error when any
// queued write failed. Later calls do nothing.
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if af.stopped {
		af.mu.Unlock()
		return nil
	}
	af.stopped = true
	close(af.queue)
	af.mu.Unlock()

	af.wg.Wait()
	closeErr := af.file.Close()
	if n := af.errs.Load(); n > 0 {
		return fmt.Errorf("%d writes to %s failed", n, af.file.Name())
	}
	return closeErr
}

// asyncFileWriterAdapter adapts AsyncFile to io.Writer.
type asyncFileWriterAdapter struct {
	writer *AsyncFile
}

func (a asyncFileWriterAdapter) Write(p []byte) (int, error) {
	if err := a.writer.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// RawEventsLog records the bytes of the report input as they are consumed.
type RawEventsLog struct {
	path string
	file *AsyncFile
}

func NewRawEventsLog(path string) (*RawEventsLog, error) {
	file, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}
	return &RawEventsLog{path: path, file: file}, nil
}

// Tee returns a reader that copies everything read from r into the log.
func (l *RawEventsLog) Tee(r io.Reader) io.Reader {
	return io.TeeReader(r, asyncFileWriterAdapter{writer: l.file})
}

func (l *RawEventsLog) Path() string {
	return l.path
}

// Close flushes pending writes.
func (l *RawEventsLog) Close() error {
	return l.file.Close()
}
