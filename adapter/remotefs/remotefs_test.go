package remotefs

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

type memFile struct {
	data []byte
	mod  time.Time
}

// memServer is the remote side; every dial returns a session onto it
type memServer struct {
	mu       sync.Mutex
	files    map[string]memFile
	dials    int
	failNext int
}

func newMemServer() *memServer {
	return &memServer{files: map[string]memFile{}}
}

func (m *memServer) put(p, data string, mod time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = memFile{data: []byte(data), mod: mod}
}

func (m *memServer) has(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[p]
	return ok
}

func (m *memServer) content(p string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.files[p].data)
}

func (m *memServer) dial(context.Context) (FS, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dials++
	return &memFS{srv: m}, nil
}

type memFS struct {
	srv    *memServer
	closed bool
}

func (f *memFS) check() error {
	if f.closed {
		return errors.ErrConnectionLost
	}
	if f.srv.failNext > 0 {
		f.srv.failNext--
		return fmt.Errorf("%w: connection reset", errors.ErrConnectionLost)
	}
	return nil
}

func (f *memFS) List(_ context.Context, dir string) ([]Entry, error) {
	f.srv.mu.Lock()
	defer f.srv.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	var out []Entry
	for p, file := range f.srv.files {
		if path.Dir(p) == path.Clean(dir) {
			out = append(out, Entry{Name: path.Base(p), Size: int64(len(file.data)), ModTime: file.mod})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name > out[j].Name })
	return out, nil
}

func (f *memFS) Read(_ context.Context, p string) ([]byte, error) {
	f.srv.mu.Lock()
	defer f.srv.mu.Unlock()
	if err := f.check(); err != nil {
		return nil, err
	}
	file, ok := f.srv.files[p]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return file.data, nil
}

func (f *memFS) Write(_ context.Context, p string, data []byte, appendMode bool) error {
	f.srv.mu.Lock()
	defer f.srv.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	if appendMode {
		data = append(append([]byte{}, f.srv.files[p].data...), data...)
	}
	f.srv.files[p] = memFile{data: data, mod: time.Now()}
	return nil
}

func (f *memFS) Remove(_ context.Context, p string) error {
	f.srv.mu.Lock()
	defer f.srv.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	if _, ok := f.srv.files[p]; !ok {
		return errors.ErrNotFound
	}
	delete(f.srv.files, p)
	return nil
}

func (f *memFS) Rename(_ context.Context, from, to string) error {
	f.srv.mu.Lock()
	defer f.srv.mu.Unlock()
	if err := f.check(); err != nil {
		return err
	}
	file, ok := f.srv.files[from]
	if !ok {
		return errors.ErrNotFound
	}
	delete(f.srv.files, from)
	f.srv.files[to] = file
	return nil
}

func (f *memFS) Ping(context.Context) error {
	f.srv.mu.Lock()
	defer f.srv.mu.Unlock()
	return f.check()
}

func (f *memFS) Close() error {
	f.closed = true
	return nil
}

var fastRetry = adapter.RetryPolicy{MaxAttempts: 3, InitialDelay: config.Duration(time.Millisecond)}

func TestSender_PicksOldestAndDeletes(t *testing.T) {
	srv := newMemServer()
	base := time.Now().Add(-time.Hour)
	srv.put("/in/b.xml", "<b/>", base)
	srv.put("/in/a.xml", "<a/>", base)
	srv.put("/in/c.xml", "<c/>", base.Add(-time.Minute))
	srv.put("/in/skip.txt", "no", base.Add(-2*time.Minute))

	opts := SenderOptions{Directory: "/in", Pattern: "*.xml"}
	require.NoError(t, opts.Validate())
	s := NewSender(adapter.TypeFTP, opts, fastRetry, srv.dial, adapter.Dependencies{})
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	var order []string
	for i := 0; i < 3; i++ {
		msg, err := s.Receive(ctx)
		require.NoError(t, err)
		order = append(order, msg.Headers[HeaderFileName])
		require.NoError(t, msg.Ack(ctx))
	}
	assert.Equal(t, []string{"c.xml", "a.xml", "b.xml"}, order)
	assert.False(t, srv.has("/in/a.xml"))
	assert.True(t, srv.has("/in/skip.txt"))

	_, err := s.Receive(ctx)
	assert.ErrorIs(t, err, errors.ErrNoMessage)
}

func TestSender_InflightNotRedelivered(t *testing.T) {
	srv := newMemServer()
	srv.put("/in/one.csv", "1", time.Now())

	s := NewSender(adapter.TypeSFTP, SenderOptions{Directory: "/in"}, fastRetry, srv.dial, adapter.Dependencies{})
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))

	msg, err := s.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", string(msg.Payload))

	_, err = s.Receive(ctx)
	assert.ErrorIs(t, err, errors.ErrNoMessage)
}

func TestSender_ArchiveAndKeep(t *testing.T) {
	srv := newMemServer()
	srv.put("/in/x.xml", "<x/>", time.Now())
	ctx := context.Background()

	archive := NewSender(adapter.TypeFTP, SenderOptions{Directory: "/in", PostProcessing: PostArchive, ArchiveDirectory: "/done"},
		fastRetry, srv.dial, adapter.Dependencies{})
	require.NoError(t, archive.Initialize(ctx))
	msg, err := archive.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, msg.Ack(ctx))
	assert.False(t, srv.has("/in/x.xml"))
	assert.Equal(t, "<x/>", srv.content("/done/x.xml"))

	srv.put("/in/y.xml", "<y/>", time.Now())
	keep := NewSender(adapter.TypeFTP, SenderOptions{Directory: "/in", PostProcessing: PostKeep}, fastRetry, srv.dial, adapter.Dependencies{})
	require.NoError(t, keep.Initialize(ctx))
	msg, err = keep.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, msg.Ack(ctx))
	assert.True(t, srv.has("/in/y.xml"))
	_, err = keep.Receive(ctx)
	assert.ErrorIs(t, err, errors.ErrNoMessage)
}

func TestSender_ReconnectsAfterDrop(t *testing.T) {
	srv := newMemServer()
	srv.put("/in/z.json", `{"z":1}`, time.Now())

	s := NewSender(adapter.TypeSFTP, SenderOptions{Directory: "/in"}, fastRetry, srv.dial, adapter.Dependencies{})
	ctx := context.Background()
	require.NoError(t, s.Initialize(ctx))
	require.Equal(t, 1, srv.dials)

	srv.mu.Lock()
	srv.failNext = 1
	srv.mu.Unlock()

	msg, err := s.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1}`, string(msg.Payload))
	assert.Equal(t, 2, srv.dials)
}

func TestReceiver_WriteModes(t *testing.T) {
	srv := newMemServer()
	ctx := context.Background()

	create := NewReceiver(adapter.TypeFTP, ReceiverOptions{Directory: "/out", FileName: "order_${header.id}.xml"},
		fastRetry, srv.dial, adapter.Dependencies{})
	require.NoError(t, create.Initialize(ctx))

	msg := adapter.NewMessage([]byte("<o/>"), "", "test")
	msg.Headers["id"] = "7"
	res, err := create.Send(ctx, msg)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "<o/>", srv.content("/out/order_7.xml"))

	_, err = create.Send(ctx, msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyExists)
	assert.Equal(t, 1, srv.dials)

	appendR := NewReceiver(adapter.TypeFTP, ReceiverOptions{Directory: "/out", FileName: "log.txt", WriteMode: WriteAppend},
		fastRetry, srv.dial, adapter.Dependencies{})
	require.NoError(t, appendR.Initialize(ctx))
	for _, line := range []string{"a\n", "b\n"} {
		_, err := appendR.Send(ctx, adapter.NewMessage([]byte(line), "", "test"))
		require.NoError(t, err)
	}
	assert.Equal(t, "a\nb\n", srv.content("/out/log.txt"))
}

func TestReceiver_TempSuffixRenames(t *testing.T) {
	srv := newMemServer()
	srv.put("/out/data.xml", "old", time.Now())
	ctx := context.Background()

	r := NewReceiver(adapter.TypeSFTP, ReceiverOptions{Directory: "/out", FileName: "data.xml", WriteMode: WriteOverwrite, TempSuffix: ".part"},
		fastRetry, srv.dial, adapter.Dependencies{})
	require.NoError(t, r.Initialize(ctx))
	_, err := r.Send(ctx, adapter.NewMessage([]byte("new"), "", "test"))
	require.NoError(t, err)
	assert.Equal(t, "new", srv.content("/out/data.xml"))
	assert.False(t, srv.has("/out/data.xml.part"))
}

func TestOptionsValidate(t *testing.T) {
	assert.ErrorIs(t, SenderOptions{}.Validate(), errors.ErrMissingConfig)
	assert.ErrorIs(t, SenderOptions{Directory: "/in", PostProcessing: PostArchive}.Validate(), errors.ErrMissingConfig)
	assert.ErrorIs(t, SenderOptions{Directory: "/in", PostProcessing: "shred"}.Validate(), errors.ErrInvalidConfig)
	assert.ErrorIs(t, SenderOptions{Directory: "/in", Pattern: "["}.Validate(), errors.ErrInvalidConfig)

	assert.ErrorIs(t, ReceiverOptions{Directory: "/out", FileName: "a/b"}.Validate(), errors.ErrInvalidConfig)
	assert.ErrorIs(t, ReceiverOptions{Directory: "/out", WriteMode: WriteAppend, TempSuffix: ".tmp"}.Validate(), errors.ErrInvalidConfig)
	assert.NoError(t, ReceiverOptions{Directory: "/out", WriteMode: strings.ToUpper(WriteOverwrite)}.Validate())
}
