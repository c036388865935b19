// Package file implements the FILE adapter pair: a sender that consumes the
// oldest matching file from a directory and a receiver that writes one file
// per message.
package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// Header keys set on received messages
const (
	HeaderFileName = "file_name"
	HeaderFilePath = "file_path"
)

// Sender reads files from a directory
type Sender struct {
	*adapter.Base
	cfg *SenderConfig
	now func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	kept     map[string]struct{}
}

// NewSender creates a FILE sender. No I/O happens until Initialize.
func NewSender(cfg *SenderConfig, deps adapter.Dependencies) *Sender {
	s := &Sender{
		cfg:      cfg,
		now:      time.Now,
		inflight: make(map[string]struct{}),
		kept:     make(map[string]struct{}),
	}
	s.Base = adapter.NewBase(adapter.TypeFILE, adapter.ModeSender, deps, adapter.Hooks{
		Connect: s.connect,
		Test:    func(context.Context) error { return checkDir(cfg.Directory) },
	})
	return s
}

func (s *Sender) connect(context.Context) error {
	if err := checkDir(s.cfg.Directory); err != nil {
		return err
	}
	if s.cfg.post() == PostArchive {
		if err := os.MkdirAll(s.cfg.ArchiveDirectory, 0o755); err != nil {
			return fmt.Errorf("create archive directory: %w", err)
		}
	}
	return nil
}

// Receive returns the oldest eligible file. The file is archived, deleted or
// remembered when the message is acknowledged; until then it is not handed
// out again.
func (s *Sender) Receive(ctx context.Context) (*adapter.Message, error) {
	if err := s.ValidateReady("receive"); err != nil {
		return nil, err
	}
	start := time.Now()

	s.mu.Lock()
	path, err := s.next()
	if err == nil {
		s.inflight[path] = struct{}{}
	}
	s.mu.Unlock()
	if err != nil {
		return nil, s.Observe("receive", start, 0, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.release(path)
		return nil, s.Observe("receive", start, 0, fmt.Errorf("read %s: %w", filepath.Base(path), err))
	}

	msg := adapter.NewMessage(data, "", path)
	msg.Headers[HeaderFileName] = filepath.Base(path)
	msg.Headers[HeaderFilePath] = path
	msg.WithAck(func(ctx context.Context) error { return s.consume(ctx, path) })
	s.Logger().Debug("File picked up", "file", filepath.Base(path), "bytes", len(data))
	return msg, s.Observe("receive", start, len(data), nil)
}

// next finds the oldest file not yet in flight. Caller holds s.mu.
func (s *Sender) next() (string, error) {
	entries, err := os.ReadDir(s.cfg.Directory)
	if err != nil {
		return "", errors.WrapTransient(err, "file", "Receive", "list directory")
	}

	type candidate struct {
		path string
		mod  time.Time
	}
	var found []candidate
	cutoff := s.now().Add(-s.cfg.MinAge.Duration())
	for _, e := range entries {
		if !e.Type().IsRegular() || !s.matches(e.Name()) {
			continue
		}
		path := filepath.Join(s.cfg.Directory, e.Name())
		if _, busy := s.inflight[path]; busy {
			continue
		}
		if _, done := s.kept[path]; done {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if s.cfg.MinAge > 0 && info.ModTime().After(cutoff) {
			continue
		}
		found = append(found, candidate{path: path, mod: info.ModTime()})
	}
	if len(found) == 0 {
		return "", errors.ErrNoMessage
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].mod.Equal(found[j].mod) {
			return found[i].path < found[j].path
		}
		return found[i].mod.Before(found[j].mod)
	})
	return found[0].path, nil
}

func (s *Sender) matches(name string) bool {
	if ok, _ := filepath.Match(s.cfg.pattern(), name); !ok {
		return false
	}
	if s.cfg.Exclude != "" {
		if excluded, _ := filepath.Match(s.cfg.Exclude, name); excluded {
			return false
		}
	}
	return true
}

func (s *Sender) consume(_ context.Context, path string) error {
	defer s.release(path)

	switch s.cfg.post() {
	case PostKeep:
		s.mu.Lock()
		s.kept[path] = struct{}{}
		s.mu.Unlock()
		return nil
	case PostArchive:
		dst := filepath.Join(s.cfg.ArchiveDirectory, filepath.Base(path))
		if _, err := os.Stat(dst); err == nil {
			dst += "." + s.now().Format("20060102150405.000000000")
		}
		if err := os.Rename(path, dst); err != nil {
			return s.Fail("ack", fmt.Errorf("archive %s: %w", filepath.Base(path), err))
		}
		s.Logger().Debug("File archived", "file", filepath.Base(path), "archive", dst)
		return nil
	default:
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return s.Fail("ack", fmt.Errorf("delete %s: %w", filepath.Base(path), err))
		}
		return nil
	}
}

func (s *Sender) release(path string) {
	s.mu.Lock()
	delete(s.inflight, path)
	s.mu.Unlock()
}

// Receiver writes each message to its own file
type Receiver struct {
	*adapter.Base
	cfg *ReceiverConfig
	now func() time.Time

	mu sync.Mutex
}

// NewReceiver creates a FILE receiver
func NewReceiver(cfg *ReceiverConfig, deps adapter.Dependencies) *Receiver {
	r := &Receiver{cfg: cfg, now: time.Now}
	r.Base = adapter.NewBase(adapter.TypeFILE, adapter.ModeReceiver, deps, adapter.Hooks{
		Connect: func(context.Context) error {
			if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
				return fmt.Errorf("create target directory: %w", err)
			}
			return nil
		},
		Test: func(context.Context) error { return checkDir(cfg.Directory) },
	})
	return r
}

// Send writes msg.Payload according to the write mode
func (r *Receiver) Send(_ context.Context, msg *adapter.Message) (*adapter.SendResult, error) {
	if err := r.ValidateReady("send"); err != nil {
		return nil, err
	}
	if err := r.CheckMessage(msg); err != nil {
		return nil, err
	}
	start := time.Now()

	name := adapter.DefaultFileName(r.now())
	if r.cfg.FileName != "" {
		name = adapter.ExpandName(r.cfg.FileName, r.now(), msg.Headers)
	}
	name = filepath.Base(name)
	path := filepath.Join(r.cfg.Directory, name)

	r.mu.Lock()
	err := r.write(path, msg.Payload)
	r.mu.Unlock()
	if err := r.Observe("send", start, len(msg.Payload), err); err != nil {
		return nil, err
	}

	return &adapter.SendResult{
		Success:   true,
		Message:   "File written: " + name,
		BytesSent: len(msg.Payload),
		Details:   map[string]any{"file": path, "write_mode": r.cfg.mode()},
	}, nil
}

func (r *Receiver) write(path string, data []byte) error {
	perm := fs.FileMode(0o644)
	if r.cfg.Permissions != 0 {
		perm = fs.FileMode(r.cfg.Permissions)
	}

	flags := os.O_WRONLY | os.O_CREATE
	switch r.cfg.mode() {
	case WriteAppend:
		flags |= os.O_APPEND
	case WriteOverwrite:
		flags |= os.O_TRUNC
	default:
		flags |= os.O_EXCL
	}

	target := path
	if r.cfg.TempSuffix != "" {
		if r.cfg.mode() == WriteCreate {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("write %s: %w", filepath.Base(path), fs.ErrExist)
			}
		}
		target = path + r.cfg.TempSuffix
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	f, err := os.OpenFile(target, flags, perm)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(target), err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(target), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(target), err)
	}
	if target != path {
		if err := os.Rename(target, path); err != nil {
			return fmt.Errorf("rename %s: %w", filepath.Base(target), err)
		}
	}
	return nil
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
