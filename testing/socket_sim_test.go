package testing

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/rtpdispatch/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig() interfaces.SocketConfig {
	return interfaces.SocketConfig{
		UseSimulation:  true,
		PollIntervalMS: 10,
	}
}

func TestNewSimulatedSocket(t *testing.T) {
	sock := NewSimulatedSocket("local", newTestConfig())
	require.NotNil(t, sock)

	assert.Equal(t, "local", sock.LocalAddr().String())
	assert.Equal(t, "sim", sock.LocalAddr().Network())
	assert.Equal(t, 0, sock.Pending())
	assert.Empty(t, sock.GetSendLog())
}

func TestSimulatedSocket_InjectAndReceive(t *testing.T) {
	sock := NewSimulatedSocket("local", newTestConfig())
	from := SimulatedAddr{Name: "remote"}

	data := []byte{1, 2, 3, 4}
	require.NoError(t, sock.Inject(data, from))
	data[0] = 99 // injection copies

	buf := make([]byte, 16)
	n, addr, err := sock.Receive(buf, interfaces.FlagNone)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf[:n])
	assert.Equal(t, from, addr)
}

func TestSimulatedSocket_ReceiveTruncatesToBuffer(t *testing.T) {
	sock := NewSimulatedSocket("local", newTestConfig())
	require.NoError(t, sock.Inject([]byte("0123456789"), nil))

	buf := make([]byte, 4)
	n, _, err := sock.Receive(buf, interfaces.FlagNone)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("0123"), buf)
}

func TestSimulatedSocket_ReceiveWouldBlock(t *testing.T) {
	sock := NewSimulatedSocket("local", newTestConfig())
	buf := make([]byte, 16)

	start := time.Now()
	_, _, err := sock.Receive(buf, interfaces.FlagNone)
	assert.ErrorIs(t, err, interfaces.ErrWouldBlock)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	start = time.Now()
	_, _, err = sock.Receive(buf, interfaces.FlagNonBlocking)
	assert.ErrorIs(t, err, interfaces.ErrWouldBlock)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, interfaces.FlagNonBlocking, sock.LastFlags())
	assert.Equal(t, int64(2), sock.ReceiveCalls())
}

func TestSimulatedSocket_FailReceiveWakesBlockedReader(t *testing.T) {
	sock := NewSimulatedSocket("local", interfaces.SocketConfig{PollIntervalMS: 5000})
	hardErr := errors.New("network unreachable")

	done := make(chan error, 1)
	go func() {
		_, _, err := sock.Receive(make([]byte, 8), interfaces.FlagNone)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	sock.FailReceive(hardErr)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, hardErr)
	case <-time.After(time.Second):
		t.Fatal("FailReceive did not wake the blocked reader")
	}

	_, _, err := sock.Receive(make([]byte, 8), interfaces.FlagNone)
	assert.ErrorIs(t, err, hardErr)
}

func TestSimulatedSocket_SetReadDeadlineKicksReader(t *testing.T) {
	sock := NewSimulatedSocket("local", interfaces.SocketConfig{PollIntervalMS: 5000})

	done := make(chan error, 1)
	go func() {
		_, _, err := sock.Receive(make([]byte, 8), interfaces.FlagNone)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sock.SetReadDeadline(time.Now()))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, interfaces.ErrWouldBlock)
	case <-time.After(time.Second):
		t.Fatal("SetReadDeadline did not interrupt the blocked reader")
	}

	// a future deadline is ignored
	assert.NoError(t, sock.SetReadDeadline(time.Now().Add(time.Hour)))
}

func TestSimulatedSocket_Close(t *testing.T) {
	sock := NewSimulatedSocket("local", newTestConfig())
	require.NoError(t, sock.Close())
	require.NoError(t, sock.Close())

	_, _, err := sock.Receive(make([]byte, 8), interfaces.FlagNone)
	assert.ErrorIs(t, err, interfaces.ErrSocketClosed)

	_, err = sock.Send([]byte{1}, SimulatedAddr{Name: "x"})
	assert.ErrorIs(t, err, interfaces.ErrSocketClosed)

	assert.ErrorIs(t, sock.Inject([]byte{1}, nil), interfaces.ErrSocketClosed)
}

func TestSimulatedPair_Delivery(t *testing.T) {
	a, b := NewSimulatedPair("a", "b", newTestConfig())

	n, err := a.Send([]byte("hello"), b.LocalAddr())
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// addressed elsewhere: recorded, not delivered
	_, err = a.Send([]byte("lost"), SimulatedAddr{Name: "nowhere"})
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, from, err := b.Receive(buf, interfaces.FlagNone)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, a.LocalAddr(), from)
	assert.Equal(t, 0, b.Pending())

	log := a.GetSendLog()
	require.Len(t, log, 2)
	assert.True(t, log[0].Delivered)
	assert.False(t, log[1].Delivered)

	stats := a.GetStats()
	assert.Equal(t, 2, stats["total_sends"])
	assert.Equal(t, 1, stats["delivered_sends"])
	assert.Equal(t, true, stats["is_simulation"])

	a.ClearSendLog()
	assert.Empty(t, a.GetSendLog())
}

func TestSimulatedSocket_FailSend(t *testing.T) {
	a, b := NewSimulatedPair("a", "b", newTestConfig())
	a.FailSend(interfaces.ErrUnreachable)

	_, err := a.Send([]byte("x"), b.LocalAddr())
	assert.ErrorIs(t, err, interfaces.ErrUnreachable)
	assert.Equal(t, 0, b.Pending())

	a.FailSend(nil)
	_, err = a.Send([]byte("x"), b.LocalAddr())
	assert.NoError(t, err)
	assert.Equal(t, 1, b.Pending())

	stats := a.GetStats()
	assert.Equal(t, 1, stats["failed_sends"])
}

func TestSimulatedSocket_ConcurrentInject(t *testing.T) {
	sock := NewSimulatedSocket("local", newTestConfig())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = sock.Inject([]byte{byte(i), byte(j)}, nil)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, sock.Pending())
}
