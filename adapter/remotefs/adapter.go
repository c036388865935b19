package remotefs

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pkg/retry"
)

// session owns one FS and redials after a failed operation
type session struct {
	dial  Dialer
	retry retry.Config

	mu sync.Mutex
	fs FS
}

func newSession(dial Dialer, policy adapter.RetryPolicy) *session {
	return &session{dial: dial, retry: policy.RetryConfig()}
}

func (s *session) open(ctx context.Context) error {
	return retry.Do(ctx, s.retry, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.connectLocked(ctx)
	})
}

func (s *session) connectLocked(ctx context.Context) error {
	if s.fs != nil {
		return nil
	}
	fs, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.fs = fs
	return nil
}

// do runs fn on a live session. A failed attempt drops the session so the
// next attempt dials again. Errors marked non-retryable keep the session.
func (s *session) do(ctx context.Context, fn func(FS) error) error {
	return retry.Do(ctx, s.retry, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.connectLocked(ctx); err != nil {
			return err
		}
		err := fn(s.fs)
		if err != nil && !retry.IsNonRetryable(err) {
			_ = s.fs.Close()
			s.fs = nil
		}
		return err
	})
}

func (s *session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fs == nil {
		return nil
	}
	err := s.fs.Close()
	s.fs = nil
	return err
}

func (s *session) ping(ctx context.Context) error {
	return s.do(ctx, func(fs FS) error { return fs.Ping(ctx) })
}

// Header keys set on received messages
const (
	HeaderFileName = "file_name"
	HeaderFilePath = "file_path"
)

// Sender consumes the oldest matching remote file
type Sender struct {
	*adapter.Base
	opts    SenderOptions
	session *session
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	kept     map[string]struct{}
}

// NewSender creates a sender of type t over dial
func NewSender(t adapter.Type, opts SenderOptions, policy adapter.RetryPolicy, dial Dialer, deps adapter.Dependencies) *Sender {
	s := &Sender{
		opts:     opts,
		session:  newSession(dial, policy),
		now:      time.Now,
		inflight: make(map[string]struct{}),
		kept:     make(map[string]struct{}),
	}
	s.Base = adapter.NewBase(t, adapter.ModeSender, deps, adapter.Hooks{
		Connect:    s.session.open,
		Disconnect: func(context.Context) error { return s.session.close() },
		Test:       s.session.ping,
	})
	return s
}

// Receive downloads the oldest eligible file. Acknowledging the message
// deletes, archives or remembers it.
func (s *Sender) Receive(ctx context.Context) (*adapter.Message, error) {
	if err := s.ValidateReady("receive"); err != nil {
		return nil, err
	}
	start := time.Now()

	var name string
	var data []byte
	err := s.session.do(ctx, func(fs FS) error {
		entries, err := fs.List(ctx, s.opts.Directory)
		if err != nil {
			return fmt.Errorf("list %s: %w", s.opts.Directory, err)
		}
		name = s.pick(entries)
		if name == "" {
			return retry.NonRetryable(errors.ErrNoMessage)
		}
		data, err = fs.Read(ctx, path.Join(s.opts.Directory, name))
		if err != nil {
			s.release(path.Join(s.opts.Directory, name))
			return fmt.Errorf("read %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errors.ErrNoMessage) {
			err = errors.ErrNoMessage
		}
		return nil, s.Observe("receive", start, 0, err)
	}

	full := path.Join(s.opts.Directory, name)

	msg := adapter.NewMessage(data, "", full)
	msg.Headers[HeaderFileName] = name
	msg.Headers[HeaderFilePath] = full
	msg.WithAck(func(ctx context.Context) error { return s.consume(ctx, name) })
	s.Logger().Debug("Remote file downloaded", "file", full, "bytes", len(data))
	return msg, s.Observe("receive", start, len(data), nil)
}

// pick chooses the oldest eligible file and marks it in flight
func (s *Sender) pick(entries []Entry) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var files []Entry
	for _, e := range entries {
		if e.Dir {
			continue
		}
		if ok, _ := path.Match(s.opts.pattern(), e.Name); !ok {
			continue
		}
		full := path.Join(s.opts.Directory, e.Name)
		if _, busy := s.inflight[full]; busy {
			continue
		}
		if _, done := s.kept[full]; done {
			continue
		}
		files = append(files, e)
	}
	if len(files) == 0 {
		return ""
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].Name < files[j].Name
		}
		return files[i].ModTime.Before(files[j].ModTime)
	})
	s.inflight[path.Join(s.opts.Directory, files[0].Name)] = struct{}{}
	return files[0].Name
}

func (s *Sender) release(full string) {
	s.mu.Lock()
	delete(s.inflight, full)
	s.mu.Unlock()
}

func (s *Sender) consume(ctx context.Context, name string) error {
	full := path.Join(s.opts.Directory, name)
	defer s.release(full)

	var err error
	switch s.opts.post() {
	case PostKeep:
		s.mu.Lock()
		s.kept[full] = struct{}{}
		s.mu.Unlock()
		return nil
	case PostArchive:
		dst := path.Join(s.opts.ArchiveDirectory, name)
		err = s.session.do(ctx, func(fs FS) error { return fs.Rename(ctx, full, dst) })
	default:
		err = s.session.do(ctx, func(fs FS) error { return fs.Remove(ctx, full) })
	}
	if err != nil {
		return s.Fail("ack", fmt.Errorf("%s %s: %w", s.opts.post(), full, err))
	}
	return nil
}

// Receiver uploads one file per message
type Receiver struct {
	*adapter.Base
	opts    ReceiverOptions
	session *session
	now     func() time.Time
}

// NewReceiver creates a receiver of type t over dial
func NewReceiver(t adapter.Type, opts ReceiverOptions, policy adapter.RetryPolicy, dial Dialer, deps adapter.Dependencies) *Receiver {
	r := &Receiver{opts: opts, session: newSession(dial, policy), now: time.Now}
	r.Base = adapter.NewBase(t, adapter.ModeReceiver, deps, adapter.Hooks{
		Connect:    r.session.open,
		Disconnect: func(context.Context) error { return r.session.close() },
		Test:       r.session.ping,
	})
	return r
}

// Send uploads msg.Payload according to the write mode
func (r *Receiver) Send(ctx context.Context, msg *adapter.Message) (*adapter.SendResult, error) {
	if err := r.ValidateReady("send"); err != nil {
		return nil, err
	}
	if err := r.CheckMessage(msg); err != nil {
		return nil, err
	}
	start := time.Now()

	name := adapter.DefaultFileName(r.now())
	if r.opts.FileName != "" {
		name = path.Base(adapter.ExpandName(r.opts.FileName, r.now(), msg.Headers))
	}
	full := path.Join(r.opts.Directory, name)

	err := r.session.do(ctx, func(fs FS) error { return r.upload(ctx, fs, full, msg.Payload) })
	if err := r.Observe("send", start, len(msg.Payload), err); err != nil {
		return nil, err
	}
	return &adapter.SendResult{
		Success:   true,
		Message:   "File uploaded: " + name,
		BytesSent: len(msg.Payload),
		Details:   map[string]any{"file": full, "write_mode": r.opts.mode()},
	}, nil
}

func (r *Receiver) upload(ctx context.Context, fs FS, full string, data []byte) error {
	if r.opts.mode() == WriteCreate {
		entries, err := fs.List(ctx, r.opts.Directory)
		if err != nil {
			return fmt.Errorf("list %s: %w", r.opts.Directory, err)
		}
		for _, e := range entries {
			if e.Name == path.Base(full) {
				return retry.NonRetryable(fmt.Errorf("%w: %s", errors.ErrAlreadyExists, full))
			}
		}
	}
	if r.opts.TempSuffix == "" {
		return fs.Write(ctx, full, data, r.opts.mode() == WriteAppend)
	}
	tmp := full + r.opts.TempSuffix
	if err := fs.Write(ctx, tmp, data, false); err != nil {
		return err
	}
	if r.opts.mode() == WriteOverwrite {
		_ = fs.Remove(ctx, full)
	}
	return fs.Rename(ctx, tmp, full)
}
