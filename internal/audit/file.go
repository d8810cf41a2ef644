package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileShipper appends audit records to a local file, one JSON object per
// line, with size-based rotation. The format is what log collectors
// (filebeat, vector, fluent-bit) tail natively.
type FileShipper struct {
	conf *FileConfig

	mu   sync.Mutex
	f    *os.File
	size int64
}

// NewFileShipper opens (or creates) the target file for appending. Parent
// directories are created as needed.
func NewFileShipper(conf *FileConfig) (*FileShipper, error) {
	if conf.Path == "" {
		return nil, fmt.Errorf("file path is required")
	}

	if dir := filepath.Dir(conf.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit log directory: %w", err)
		}
	}

	f, err := os.OpenFile(conf.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log file: %w", err)
	}

	fs := &FileShipper{conf: conf, f: f}
	if info, err := f.Stat(); err == nil {
		fs.size = info.Size()
	}
	return fs, nil
}

// Ship appends one record as a JSON line, rotating first if the write would
// push the file past its size limit.
func (fs *FileShipper) Ship(_ context.Context, entry *LogEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.f == nil {
		return fmt.Errorf("audit log file is closed")
	}

	if max := int64(fs.conf.MaxSizeMB) * 1024 * 1024; max > 0 && fs.size+int64(len(line)) > max {
		if err := fs.rotateLocked(); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}

	n, err := fs.f.Write(line)
	fs.size += int64(n)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// rotateLocked shifts backups up one slot (path.1 becomes path.2 and so on,
// the oldest falling off the end), moves the live file to path.1, and
// reopens a fresh live file. Caller holds fs.mu.
func (fs *FileShipper) rotateLocked() error {
	if err := fs.f.Close(); err != nil {
		return err
	}

	backups := fs.conf.MaxBackups
	if backups <= 0 {
		backups = 1
	}

	os.Remove(fmt.Sprintf("%s.%d", fs.conf.Path, backups))
	for i := backups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d", fs.conf.Path, i)
		if _, err := os.Stat(from); err == nil {
			os.Rename(from, fmt.Sprintf("%s.%d", fs.conf.Path, i+1))
		}
	}
	if err := os.Rename(fs.conf.Path, fs.conf.Path+".1"); err != nil {
		return err
	}

	f, err := os.OpenFile(fs.conf.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	fs.f = f
	fs.size = 0
	return nil
}

// Close flushes and closes the file. Ship calls after Close fail.
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.f == nil {
		return nil
	}
	err := fs.f.Close()
	fs.f = nil
	return err
}
