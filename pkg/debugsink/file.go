package debugsink

import (
	"bufio"
	"os"
	"path/filepath"
	"time"

	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/ajitpratap0/zerowire/pkg/metrics"
	"github.com/ajitpratap0/zerowire/pkg/pool"
	"go.uber.org/zap"
)

// writers recycles write buffers across rotations of every mirror.
var writers = pool.New(
	func() *bufio.Writer { return bufio.NewWriterSize(nil, 64*1024) },
	func(w *bufio.Writer) { w.Reset(nil) },
)

// maxOpenAttempts bounds the names skipped because a file already exists.
const maxOpenAttempts = 100

// rotatingFile is the append-only file behind one mirror. It opens lazily:
// after a rotation the next write creates the next file.
type rotatingFile struct {
	dir      string
	format   string
	ext      string
	maxSize  int64
	maxFiles int
	now      func() time.Time
	stats    *metrics.Collector
	logger   *zap.Logger

	state   FileState
	file    *os.File
	buf     *bufio.Writer
	written int64
}

type fileConfig struct {
	dir      string
	base     string
	ext      string
	maxSize  int64
	maxFiles int
	now      func() time.Time
	stats    *metrics.Collector
}

func newRotatingFile(cfg fileConfig, logger *zap.Logger) (*rotatingFile, error) {
	if err := os.MkdirAll(cfg.dir, 0o755); err != nil {
		return nil, ingesterrors.Wrap(err, ingesterrors.ErrorTypeFile, "failed to create debug directory").
			WithDetail("dir", cfg.dir)
	}
	rf := &rotatingFile{
		dir:      cfg.dir,
		format:   filepath.Base(cfg.dir),
		ext:      cfg.ext,
		maxSize:  cfg.maxSize,
		maxFiles: cfg.maxFiles,
		now:      cfg.now,
		stats:    cfg.stats,
		logger:   logger,
		state:    newFileState(cfg.base, cfg.ext),
	}
	rf.resume()
	return rf, nil
}

// resume continues ordering after files left by an earlier process.
func (rf *rotatingFile) resume() {
	files, err := closedFiles(rf.dir, rf.state.BaseName, rf.ext, "")
	if err != nil || len(files) == 0 {
		return
	}
	last := files[len(files)-1]
	if last.stamped {
		rf.state.LastStamp = time.Unix(last.key/stampSlots, 0).UTC()
		rf.state.StampSeq = int(last.key % stampSlots)
		return
	}
	rf.state.SequenceMode = true
	rf.state.Sequence = int(last.key)
}

// Write implements io.Writer, opening the next file when none is active.
func (rf *rotatingFile) Write(p []byte) (int, error) {
	if rf.file == nil {
		if err := rf.open(); err != nil {
			return 0, err
		}
	}
	n, err := rf.buf.Write(p)
	rf.written += int64(n)
	if err != nil {
		return n, ingesterrors.Wrap(err, ingesterrors.ErrorTypeFile, "failed to write debug file").
			WithDetail("path", rf.state.CurrentPath)
	}
	return n, nil
}

// open creates the next file. A closed file is never reopened: a name that
// already exists is skipped.
func (rf *rotatingFile) open() error {
	var (
		f    *os.File
		path string
	)
	for attempt := 1; ; attempt++ {
		path = filepath.Join(rf.dir, rf.state.next(rf.ext, rf.now()))
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644) //nolint:gosec // G304: path is built from configured directory
		if err == nil {
			break
		}
		if !os.IsExist(err) || attempt == maxOpenAttempts {
			return ingesterrors.Wrap(err, ingesterrors.ErrorTypeFile, "failed to open debug file").
				WithDetail("path", path)
		}
		rf.logger.Debug("debug file already exists, skipping name", zap.String("path", path))
	}
	rf.state.CurrentPath = path
	rf.file = f
	rf.buf = writers.Get()
	rf.buf.Reset(f)
	rf.written = 0
	rf.logger.Debug("debug file opened", zap.String("path", path))
	return nil
}

// active reports whether a file is open.
func (rf *rotatingFile) active() bool {
	return rf.file != nil
}

// full reports whether the active file reached the size limit.
func (rf *rotatingFile) full() bool {
	return rf.file != nil && rf.maxSize > 0 && rf.written >= rf.maxSize
}

func (rf *rotatingFile) flush() error {
	if rf.file == nil {
		return nil
	}
	if err := rf.buf.Flush(); err != nil {
		return ingesterrors.Wrap(err, ingesterrors.ErrorTypeFile, "failed to flush debug file").
			WithDetail("path", rf.state.CurrentPath)
	}
	return nil
}

// closeActive flushes and closes the active file and applies retention.
func (rf *rotatingFile) closeActive() error {
	if rf.file == nil {
		return nil
	}
	ferr := rf.flush()
	cerr := rf.file.Close()
	writers.Put(rf.buf)
	rf.file = nil
	rf.buf = nil

	deleted := enforceRetention(rf.dir, rf.state.BaseName, rf.ext, "", rf.maxFiles, rf.logger)
	rf.stats.RecordDebugRotation(rf.format, len(deleted))

	if ferr != nil {
		return ferr
	}
	if cerr != nil {
		return ingesterrors.Wrap(cerr, ingesterrors.ErrorTypeFile, "failed to close debug file").
			WithDetail("path", rf.state.CurrentPath)
	}
	return nil
}

// State returns a copy of the naming state.
func (rf *rotatingFile) State() FileState {
	return rf.state
}
