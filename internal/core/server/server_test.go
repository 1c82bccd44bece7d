package server

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transform_nexus/internal/errorlog"
	"transform_nexus/internal/shared/codec"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func upper(s string) string { return strings.ToUpper(s) }

func openServer(t *testing.T, transform TransformFunc, opts ...Option) (*Server, string) {
	t.Helper()
	s := New(transform, opts...)
	require.NoError(t, s.Listen("127.0.0.1", 0, 4, 64))
	t.Cleanup(s.Close)
	return s, s.Addr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// exchange writes msg and reads exactly len(want) bytes back.
func exchange(t *testing.T, conn net.Conn, msg, want []byte) {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(waitFor)))
	_, err := conn.Write(msg)
	require.NoError(t, err)
	got := make([]byte, len(want))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func newErrorLog(t *testing.T) *errorlog.Writer {
	t.Helper()
	w := errorlog.New(filepath.Join(t.TempDir(), "errors.csv"), errorlog.WithRetryInterval(20*time.Millisecond))
	require.NoError(t, w.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = w.Shutdown(ctx)
	})
	return w
}

func errorLogText(t *testing.T, w *errorlog.Writer) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, w.Flush(ctx))
	raw, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	text, err := codec.ShiftJIS().Decode(raw)
	require.NoError(t, err)
	return text
}

func TestOpen_TwiceIsNoop(t *testing.T) {
	s, addr := openServer(t, upper)

	assert.True(t, s.Open("127.0.0.1", 0, 4, 64))
	assert.True(t, s.IsOpen())
	assert.Equal(t, addr, s.Addr().String(), "second Open must not rebind")
}

func TestOpen_InvalidAddress(t *testing.T) {
	s := New(upper)
	defer s.Close()

	assert.False(t, s.Open("not-an-ip", 0, 2, 64))
	assert.False(t, s.IsOpen())
	assert.Nil(t, s.Addr())

	err := s.Listen("999.1.1.1", 0, 2, 64)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, "999.1.1.1", cfgErr.Address)
}

func TestOpen_AddressNotOnHost(t *testing.T) {
	s := New(upper)
	defer s.Close()

	assert.False(t, s.Open("203.0.113.5", 0, 2, 64))
	assert.False(t, s.IsOpen())
	assert.ErrorIs(t, s.Listen("203.0.113.5", 0, 2, 64), ErrAddressNotLocal)
}

func TestOpen_HostAddressLookup(t *testing.T) {
	calls := 0
	s := New(upper, WithHostAddrs(func() ([]net.IP, error) {
		calls++
		return []net.IP{net.ParseIP("192.0.2.10")}, nil
	}))
	defer s.Close()

	_, err := s.validateAddress("192.0.2.10")
	assert.NoError(t, err)
	_, err = s.validateAddress("192.0.2.11")
	assert.ErrorIs(t, err, ErrAddressNotLocal)
	_, err = s.validateAddress("::1")
	assert.NoError(t, err, "loopback skips the host lookup")
	assert.Equal(t, 2, calls)
}

func TestOpen_InvalidParameters(t *testing.T) {
	s := New(upper)
	defer s.Close()

	assert.ErrorIs(t, s.Listen("127.0.0.1", 0, 0, 64), ErrInvalidParameter)
	assert.ErrorIs(t, s.Listen("127.0.0.1", 0, 2, 0), ErrInvalidParameter)
	assert.ErrorIs(t, s.Listen("127.0.0.1", 70000, 2, 64), ErrInvalidParameter)
	assert.False(t, s.IsOpen())
}

func TestOpen_PortInUse(t *testing.T) {
	_, addr := openServer(t, upper)
	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := net.LookupPort("tcp", portStr)
	require.NoError(t, err)

	other := New(upper)
	defer other.Close()
	assert.False(t, other.Open("127.0.0.1", port, 2, 64))
	assert.False(t, other.IsOpen())
}

func TestOpen_ConfigErrorIsLoggedAndNotified(t *testing.T) {
	w := newErrorLog(t)
	var titles, messages []string
	s := New(upper, WithErrorLog(w), WithNotifier(func(title, message string) {
		titles = append(titles, title)
		messages = append(messages, message)
	}))
	defer s.Close()

	assert.False(t, s.Open("not-an-ip", 0, 2, 64))

	require.Len(t, messages, 1)
	assert.Equal(t, NotifyTitle, titles[0])
	assert.Contains(t, messages[0], ErrInvalidAddress.Error())
	assert.Contains(t, errorLogText(t, w), ErrInvalidAddress.Error())
}

func TestServer_ConcurrentClients(t *testing.T) {
	const k = 8
	s, addr := openServer(t, upper)

	conns := make([]net.Conn, k)
	for i := range conns {
		conns[i] = dial(t, addr)
	}
	require.Eventually(t, func() bool { return s.ClientCount() == k }, waitFor, tick)
	assert.Len(t, s.Clients(), k)

	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn net.Conn) {
			defer wg.Done()
			msg := []byte(strings.Repeat(string(rune('a'+i)), i+1))
			_ = conn.SetDeadline(time.Now().Add(waitFor))
			if _, err := conn.Write(msg); !assert.NoError(t, err) {
				return
			}
			got := make([]byte, len(msg))
			if _, err := io.ReadFull(conn, got); assert.NoError(t, err) {
				assert.Equal(t, strings.ToUpper(string(msg)), string(got))
			}
		}(i, conn)
	}
	wg.Wait()
	assert.Equal(t, k, s.ClientCount())
}

func TestServer_SlowTransformDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	s, addr := openServer(t, func(text string) string {
		if text == "slow" {
			<-release
		}
		return text
	})
	defer close(release)

	slow := dial(t, addr)
	_, err := slow.Write([]byte("slow"))
	require.NoError(t, err)

	fast := dial(t, addr)
	exchange(t, fast, []byte("fast"), []byte("fast"))
	require.Eventually(t, func() bool { return s.ClientCount() == 2 }, waitFor, tick)
}

func TestServer_PeerShutdownDeregisters(t *testing.T) {
	s, addr := openServer(t, upper)

	leaving := dial(t, addr)
	staying := dial(t, addr)
	require.Eventually(t, func() bool { return s.ClientCount() == 2 }, waitFor, tick)

	require.NoError(t, leaving.(*net.TCPConn).CloseWrite())
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, waitFor, tick)

	exchange(t, staying, []byte("still here"), []byte("STILL HERE"))
}

func TestServer_AbruptDisconnectIsNotLogged(t *testing.T) {
	w := newErrorLog(t)
	s, addr := openServer(t, upper, WithErrorLog(w))

	conn := dial(t, addr)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, waitFor, tick)
	require.NoError(t, conn.(*net.TCPConn).SetLinger(0))
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return s.ClientCount() == 0 }, waitFor, tick)
	assert.Empty(t, errorLogText(t, w))
}

func TestServer_CloseDisconnectsEveryone(t *testing.T) {
	const k = 5
	s, addr := openServer(t, upper)

	conns := make([]net.Conn, k)
	for i := range conns {
		conns[i] = dial(t, addr)
	}
	require.Eventually(t, func() bool { return s.ClientCount() == k }, waitFor, tick)

	s.Close()
	assert.False(t, s.IsOpen())
	assert.Zero(t, s.ClientCount())
	assert.Nil(t, s.Addr())

	for _, conn := range conns {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
		_, err := conn.Read(make([]byte, 1))
		assert.Error(t, err, "server side must be closed")
	}

	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := net.LookupPort("tcp", portStr)
	require.NoError(t, err)
	require.True(t, s.Open("127.0.0.1", port, 4, 64), "reopen with the same parameters")
	exchange(t, dial(t, addr), []byte("again"), []byte("AGAIN"))
}

func TestServer_CloseIsIdempotent(t *testing.T) {
	s := New(upper)
	s.Close()
	s.Close()
	assert.False(t, s.IsOpen())

	require.True(t, s.Open("127.0.0.1", 0, 2, 64))
	s.Close()
	s.Close()
	assert.False(t, s.IsOpen())
}

func TestServer_RoundTripShiftJIS(t *testing.T) {
	_, addr := openServer(t, func(text string) string { return "受信:" + text })
	conn := dial(t, addr)
	sjis := codec.ShiftJIS()

	for _, s := range []string{"hello", "こんにちは", "ﾃｽﾄ 123"} {
		msg, err := sjis.Encode(s)
		require.NoError(t, err)
		want, err := sjis.Encode("受信:" + s)
		require.NoError(t, err)
		exchange(t, conn, msg, want)
	}
}

func TestServer_BufferReuseDoesNotLeakPreviousMessage(t *testing.T) {
	_, addr := openServer(t, func(text string) string { return "[" + text + "]" })
	conn := dial(t, addr)

	exchange(t, conn, []byte("a much longer message"), []byte("[a much longer message]"))
	exchange(t, conn, []byte("short"), []byte("[short]"))
	exchange(t, conn, []byte("x\x00\x00"), []byte("[x]"))
}

func TestServer_CustomCodec(t *testing.T) {
	latin1, err := codec.New("windows-1252")
	require.NoError(t, err)
	_, addr := openServer(t, upper, WithCodec(latin1))

	exchange(t, dial(t, addr), []byte{'c', 'a', 'f', 0xe9}, []byte{'C', 'A', 'F', 0xc9})
}

func TestServer_TransformPanicClosesConnection(t *testing.T) {
	w := newErrorLog(t)
	s, addr := openServer(t, func(text string) string {
		if text == "boom" {
			panic("bad input")
		}
		return text
	}, WithErrorLog(w))

	bad := dial(t, addr)
	good := dial(t, addr)
	require.Eventually(t, func() bool { return s.ClientCount() == 2 }, waitFor, tick)

	_, err := bad.Write([]byte("boom"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, waitFor, tick)

	require.NoError(t, bad.SetReadDeadline(time.Now().Add(waitFor)))
	_, err = bad.Read(make([]byte, 1))
	assert.Error(t, err)

	exchange(t, good, []byte("ok"), []byte("ok"))
	assert.Contains(t, errorLogText(t, w), "panic: bad input")
}

func TestServer_UnsupportedRunesAreSubstituted(t *testing.T) {
	w := newErrorLog(t)
	s, addr := openServer(t, nil, WithErrorLog(w))
	conn := dial(t, addr)

	// 0x80 decodes to U+0080, which Shift_JIS cannot encode back.
	exchange(t, conn, []byte{'a', 0x80, 'b'}, []byte{'a', 0x1a, 'b'})
	exchange(t, conn, []byte("still here"), []byte("still here"))
	assert.Equal(t, 1, s.ClientCount())
	assert.Empty(t, errorLogText(t, w))
}

func TestServer_UnencodableReplyIsSubstituted(t *testing.T) {
	w := newErrorLog(t)
	s, addr := openServer(t, func(text string) string { return text + "😀" }, WithErrorLog(w))
	conn := dial(t, addr)

	exchange(t, conn, []byte("hi"), []byte{'h', 'i', 0x1a})
	assert.Equal(t, 1, s.ClientCount())
	assert.Empty(t, errorLogText(t, w))
}

// flakyListener fails the first Accept with a transient error.
type flakyListener struct {
	net.Listener
	failures atomic.Int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures.Add(1) == 1 {
		return nil, errors.New("accept: too many open files")
	}
	return l.Listener.Accept()
}

func TestServer_TransientAcceptErrorIsReported(t *testing.T) {
	w := newErrorLog(t)
	s := New(upper, WithErrorLog(w))
	var flaky *flakyListener
	s.listen = func(ip net.IP, port, backlog int) (net.Listener, error) {
		ln, err := listenTCP(ip, port, backlog)
		if err != nil {
			return nil, err
		}
		flaky = &flakyListener{Listener: ln}
		return flaky, nil
	}
	require.NoError(t, s.Listen("127.0.0.1", 0, 4, 64))
	t.Cleanup(s.Close)

	exchange(t, dial(t, s.Addr().String()), []byte("after"), []byte("AFTER"))
	assert.True(t, s.IsOpen())
	assert.GreaterOrEqual(t, flaky.failures.Load(), int32(2))
	assert.Contains(t, errorLogText(t, w), "too many open files")
}

func TestServer_CloseWaitsForRunningTransform(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	s, addr := openServer(t, func(text string) string {
		close(entered)
		<-release
		return text
	})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	conn := dial(t, addr)
	_, err := conn.Write([]byte("x"))
	require.NoError(t, err)
	<-entered

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a transform was running")
	case <-time.After(100 * time.Millisecond):
	}

	unblock()
	select {
	case <-closed:
	case <-time.After(waitFor):
		t.Fatal("Close did not return after the transform finished")
	}
	assert.False(t, s.IsOpen())
}
