package sink

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lcx/emflog/log"
)

// _asyncByteSizePerIOWrite caps a single batched write at 10MB to keep the
// accumulation buffer from growing without bound.
const _asyncByteSizePerIOWrite = 10 << 20

// FileSinkCfg configures a FileSink. Zero values select the defaults
// applied by Validate.
type FileSinkCfg struct {
	Tag  string `mapstructure:"tag"`
	Path string `mapstructure:"path"`

	// FileSplitMB rotates the file once it reaches this many megabytes.
	// Unset selects 50.
	FileSplitMB int `mapstructure:"fileSplitMB"`

	// FileSplitHour rotates the file when the clock crosses this hour of
	// day. 0 disables time-based rotation.
	FileSplitHour int `mapstructure:"fileSplitHour"`

	// IsAsync moves disk writes to a dedicated goroutine; Accept then
	// never blocks on I/O.
	IsAsync           bool `mapstructure:"isAsync"`
	AsyncCacheSize    int  `mapstructure:"asyncCacheSize"`
	AsyncWriteMillSec int  `mapstructure:"asyncWriteMillSec"`
}

// GetName returns the configuration name for FileSinkCfg.
func (c *FileSinkCfg) GetName() string {
	return "file_sink"
}

// Validate normalizes the configuration, applying defaults for unset
// fields.
func (c *FileSinkCfg) Validate() error {
	if len(c.Path) == 0 {
		c.Path = "./emf.log"
	}
	if c.FileSplitMB <= 0 {
		c.FileSplitMB = 50
	}
	if c.FileSplitHour < 0 {
		c.FileSplitHour = 24
	}
	if c.IsAsync {
		if c.AsyncCacheSize <= 0 {
			c.AsyncCacheSize = 1024
		}
		if c.AsyncWriteMillSec <= 0 {
			c.AsyncWriteMillSec = 200
		}
	}
	return nil
}

// FileSink appends each document as one JSON line to a file, rotating by
// size and hour of day. In async mode documents are queued through pooled
// buffers to a writer goroutine that batches them to disk.
type FileSink struct {
	cfg FileSinkCfg

	fileName      string
	fileSplitMB   int
	fileSplitHour int
	isAsync       bool

	fileFd         *os.File
	fileCreateTime time.Time
	lock           sync.Mutex

	bufferPool   sync.Pool
	bufChan      chan *bytes.Buffer
	ntfChan      chan chan struct{}
	asyncSendBuf *bytes.Buffer
	writerDone   chan struct{}

	stateMu sync.RWMutex
	closed  bool
}

// NewFileSink validates cfg and, in async mode, starts the writer
// goroutine. The file itself is opened lazily on first write.
func NewFileSink(cfg *FileSinkCfg) (*FileSink, error) {
	if cfg == nil {
		cfg = &FileSinkCfg{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &FileSink{
		cfg:           *cfg,
		fileName:      cfg.Path,
		fileSplitMB:   cfg.FileSplitMB,
		fileSplitHour: cfg.FileSplitHour,
		isAsync:       cfg.IsAsync,
	}

	if cfg.IsAsync {
		s.bufferPool = sync.Pool{
			New: func() any {
				return &bytes.Buffer{}
			},
		}
		s.asyncSendBuf = bytes.NewBuffer(make([]byte, 0, _asyncByteSizePerIOWrite))
		s.bufChan = make(chan *bytes.Buffer, cfg.AsyncCacheSize)
		s.ntfChan = make(chan chan struct{})
		s.writerDone = make(chan struct{})
		go s.asyncWriteLoop(cfg.AsyncWriteMillSec)
	}

	return s, nil
}

// Name implements Sink.
func (s *FileSink) Name() string { return "file" }

// FactoryName implements plugin.Plugin.
func (s *FileSink) FactoryName() string { return "file" }

// Accept appends each document as its own line. In async mode the write
// happens on the writer goroutine and Accept never blocks on disk.
func (s *FileSink) Accept(events []string) error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.closed {
		return errors.New("file sink is closed")
	}

	for _, ev := range events {
		if s.isAsync {
			s.writeAsync(ev)
			continue
		}

		line := make([]byte, 0, len(ev)+1)
		line = append(line, ev...)
		line = append(line, '\n')
		if _, err := s.writeSync(line); err != nil {
			return fmt.Errorf("file sink write: %w", err)
		}
	}
	return nil
}

// Refresh blocks until everything queued so far is written and synced to
// disk. Sync mode has nothing buffered.
func (s *FileSink) Refresh() error {
	if !s.isAsync {
		return nil
	}

	s.stateMu.RLock()
	if s.closed {
		s.stateMu.RUnlock()
		return nil
	}
	doneChan := make(chan struct{})
	s.ntfChan <- doneChan
	s.stateMu.RUnlock()

	<-doneChan
	return nil
}

// Close flushes pending documents, stops the writer goroutine and closes
// the file. Further Accept calls fail.
func (s *FileSink) Close() error {
	s.stateMu.Lock()
	if s.closed {
		s.stateMu.Unlock()
		return nil
	}
	s.closed = true
	if s.isAsync {
		close(s.ntfChan)
	}
	s.stateMu.Unlock()

	if s.isAsync {
		<-s.writerDone
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.fileFd != nil {
		err := s.fileFd.Close()
		s.fileFd = nil
		return err
	}
	return nil
}

// config returns a snapshot of the effective configuration.
func (s *FileSink) config() FileSinkCfg {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.cfg
}

// updateRotation swaps the rotation thresholds in place; the plugin
// factory uses it for lightweight reloads.
func (s *FileSink) updateRotation(splitMB, splitHour int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.fileSplitMB = splitMB
	s.fileSplitHour = splitHour
	s.cfg.FileSplitMB = splitMB
	s.cfg.FileSplitHour = splitHour
}

// writeSync rotates if due and appends buf to the file.
func (s *FileSink) writeSync(buf []byte) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	newFd, createTime, err := updateFileFd(s.fileName, s.fileSplitHour, s.fileSplitMB,
		s.fileFd, s.fileCreateTime)
	if err != nil {
		return 0, err
	}
	if newFd == nil {
		return 0, errors.New("no file descriptor after rotation")
	}
	s.fileFd = newFd
	s.fileCreateTime = createTime
	return s.fileFd.Write(buf)
}

// writeAsync queues one document for the writer goroutine. When the queue
// is full it either squeezes the buffer in or kicks the writer into an
// immediate flush and retries, so the document is never dropped.
func (s *FileSink) writeAsync(ev string) {
	buffer := s.bufferPool.Get().(*bytes.Buffer)
	buffer.Reset()
	buffer.WriteString(ev)
	buffer.WriteByte('\n')

	select {
	case s.bufChan <- buffer:
	default:
		select {
		case s.bufChan <- buffer:
		case s.ntfChan <- nil:
			s.bufChan <- buffer
		}
	}
}

// writeAll drains the queue into the accumulation buffer and flushes it in
// batches. Only the writer goroutine calls it.
func (s *FileSink) writeAll() {
	for {
		select {
		case buffer := <-s.bufChan:
			if s.asyncSendBuf.Len()+buffer.Len() > _asyncByteSizePerIOWrite {
				s.flushSendBuf()
			}
			s.asyncSendBuf.Write(buffer.Bytes())

			buffer.Reset()
			s.bufferPool.Put(buffer)
		default:
			if s.asyncSendBuf.Len() > 0 {
				s.flushSendBuf()
			}
			return
		}
	}
}

func (s *FileSink) flushSendBuf() {
	if _, err := s.writeSync(s.asyncSendBuf.Bytes()); err != nil {
		log.Error().Err(err).Str("path", s.fileName).Msg("file sink flush failed")
	}
	s.asyncSendBuf.Reset()
}

// asyncWriteLoop flushes the queue on a ticker and on demand. Refresh
// sends a done channel through ntfChan; Close closes ntfChan after the
// final notifications.
func (s *FileSink) asyncWriteLoop(writeMillSec int) {
	defer close(s.writerDone)

	ticker := time.NewTicker(time.Duration(writeMillSec) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case doneChan, ok := <-s.ntfChan:
			s.writeAll()
			if doneChan != nil {
				s.syncFile()
				doneChan <- struct{}{}
			}
			if !ok {
				return
			}
		case <-ticker.C:
			s.writeAll()
		}
	}
}

func (s *FileSink) syncFile() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.fileFd != nil {
		_ = s.fileFd.Sync()
	}
}
