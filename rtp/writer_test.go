package rtp

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/opd-ai/rtpdispatch/factory"
	"github.com/opd-ai/rtpdispatch/interfaces"
	"github.com/opd-ai/rtpdispatch/limits"
	testsim "github.com/opd-ai/rtpdispatch/testing"
	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var simConfig = interfaces.SocketConfig{UseSimulation: true, PollIntervalMS: 5}

// packetHandler completes one frame per RTP packet.
func packetHandler() Handler {
	return HandlerFunc(func(datagram []byte, flags interfaces.Flags) (*Frame, Status) {
		var p pionrtp.Packet
		if err := p.Unmarshal(datagram); err != nil {
			return nil, StatusMalformed
		}
		return NewFrame(p.Header, p.Payload), StatusComplete
	})
}

func sentPackets(t *testing.T, sock *testsim.SimulatedSocket) []pionrtp.Packet {
	t.Helper()
	var packets []pionrtp.Packet
	for _, rec := range sock.GetSendLog() {
		var p pionrtp.Packet
		require.NoError(t, p.Unmarshal(rec.Data))
		packets = append(packets, p)
	}
	return packets
}

func startSimWriter(t *testing.T, opts WriterOptions) (*Writer, *testsim.SimulatedSocket, *testsim.SimulatedSocket) {
	t.Helper()
	local, remote := testsim.NewSimulatedPair("127.0.0.1:6000", "127.0.0.1:6004", simConfig)
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})

	w := NewWriterWithOptions("127.0.0.1", 6004, 6000, opts)
	require.NoError(t, w.StartWithSocket(local))
	t.Cleanup(func() { w.Stop() })
	return w, local, remote
}

func TestWriter_PushFrameValidation(t *testing.T) {
	w := NewWriter("127.0.0.1", 6004)

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"empty", nil, ErrInvalidValue},
		{"too large", make([]byte, limits.MaxFrameSize+1), limits.ErrFrameTooLarge},
		{"not started", []byte{1, 2, 3}, ErrNotStarted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, w.PushFrame(tt.data, PushNone), tt.wantErr)
		})
	}
}

func TestWriter_Start(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		port    int
		opts    WriterOptions
		wantErr error
	}{
		{"valid", "127.0.0.1", 6004, DefaultWriterOptions(), nil},
		{"zero port", "127.0.0.1", 0, DefaultWriterOptions(), ErrInvalidValue},
		{"port out of range", "127.0.0.1", 70000, DefaultWriterOptions(), ErrInvalidValue},
		{"empty host", "", 6004, DefaultWriterOptions(), ErrInvalidValue},
		{"mtu too small", "127.0.0.1", 6004, WriterOptions{PayloadType: 96, ClockRate: 90000, MTU: 12}, ErrInvalidValue},
		{"zero clock rate", "127.0.0.1", 6004, WriterOptions{PayloadType: 96, MTU: 1200}, ErrInvalidValue},
		{"payload type overflow", "127.0.0.1", 6004, WriterOptions{PayloadType: 200, ClockRate: 8000, MTU: 1200}, ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sock := testsim.NewSimulatedSocket("127.0.0.1:6000", simConfig)
			defer sock.Close()

			w := NewWriterWithOptions(tt.host, tt.port, 0, tt.opts)
			defer w.Stop()
			assert.Nil(t, w.GetOutAddress())

			err := w.StartWithSocket(sock)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "127.0.0.1:6004", w.GetOutAddress().String())
			assert.NotZero(t, w.SSRC())
			assert.ErrorIs(t, w.Start(), ErrAlreadyStarted)
		})
	}
}

func TestWriter_PacketizesFrame(t *testing.T) {
	opts := DefaultWriterOptions()
	opts.MTU = 112
	opts.SSRC = 0xCAFEBABE
	w, local, _ := startSimWriter(t, opts)

	frame := make([]byte, 250)
	for i := range frame {
		frame[i] = byte(i)
	}
	require.NoError(t, w.PushFrame(frame, PushNone))

	packets := sentPackets(t, local)
	require.Len(t, packets, 3, "100 payload bytes per packet")

	var payload []byte
	for i, p := range packets {
		assert.Equal(t, uint32(0xCAFEBABE), p.SSRC)
		assert.Equal(t, uint8(96), p.PayloadType)
		assert.Equal(t, packets[0].Timestamp, p.Timestamp)
		assert.Equal(t, packets[0].SequenceNumber+uint16(i), p.SequenceNumber)
		assert.Equal(t, i == len(packets)-1, p.Marker)
		payload = append(payload, p.Payload...)
	}
	assert.Equal(t, frame, payload)

	stats := w.GetStatistics()
	assert.Equal(t, uint64(1), stats.FramesSent)
	assert.Equal(t, uint64(3), stats.PacketsSent)
	assert.Equal(t, uint64(250+3*limits.RTPHeaderSize), stats.BytesSent)
}

func TestWriter_PushFlags(t *testing.T) {
	opts := DefaultWriterOptions()
	w, local, _ := startSimWriter(t, opts)

	require.NoError(t, w.PushFrame([]byte("slice-1"), PushHoldTimestamp|PushNoMarker))
	require.NoError(t, w.PushFrame([]byte("slice-2"), PushNone))
	require.NoError(t, w.PushFrame([]byte("next"), PushNone))

	packets := sentPackets(t, local)
	require.Len(t, packets, 3)

	assert.False(t, packets[0].Marker)
	assert.True(t, packets[1].Marker)
	assert.Equal(t, packets[0].Timestamp, packets[1].Timestamp)
	assert.Equal(t, packets[1].Timestamp+opts.SamplesPerFrame, packets[2].Timestamp)
}

func TestWriter_SendErrorsAreWrapped(t *testing.T) {
	w, local, _ := startSimWriter(t, DefaultWriterOptions())

	local.FailSend(interfaces.ErrWouldBlock)
	err := w.PushFrame([]byte("frame"), PushNone)
	assert.ErrorIs(t, err, interfaces.ErrWouldBlock)
	assert.Equal(t, uint64(1), w.GetStatistics().SendErrors)

	local.FailSend(nil)
	assert.NoError(t, w.PushFrame([]byte("frame"), PushNone))
}

func TestWriter_StopKeepsCallerSocket(t *testing.T) {
	w, local, _ := startSimWriter(t, DefaultWriterOptions())

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.ErrorIs(t, w.PushFrame([]byte("late"), PushNone), ErrNotStarted)
	assert.ErrorIs(t, w.Start(), ErrAlreadyStarted)

	// the socket was provided by the caller and stays open
	assert.NoError(t, local.Inject([]byte{1}, nil))
}

func TestWriterToDispatcherSimulated(t *testing.T) {
	w, _, remote := startSimWriter(t, DefaultWriterOptions())

	d := NewDispatcher()
	require.NoError(t, d.InstallHandler(packetHandler()))
	startDispatcher(t, d, remote, interfaces.FlagNone)

	require.NoError(t, w.PushFrame([]byte("hello"), PushNone))

	frame, err := d.PullFrameTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), frame.Payload)
	assert.Equal(t, w.SSRC(), frame.Header.SSRC)
	assert.Equal(t, "127.0.0.1:6000", frame.Source.String())
}

func realFactory(t *testing.T) *factory.SocketFactory {
	t.Helper()
	f, err := factory.NewSocketFactoryWithConfig(interfaces.SocketConfig{PollIntervalMS: 10})
	require.NoError(t, err)
	return f
}

func TestWriterToReaderLoopback(t *testing.T) {
	r := NewReader("127.0.0.1", 0)
	require.NoError(t, r.SetSocketFactory(realFactory(t)))
	require.NoError(t, r.Dispatcher().InstallHandler(packetHandler()))
	require.NoError(t, r.Start(interfaces.FlagNone))
	defer r.Stop()

	port := r.LocalAddr().(*net.UDPAddr).Port

	opts := DefaultWriterOptions()
	opts.MTU = 200
	w := NewWriterWithOptions("127.0.0.1", port, 0, opts)
	require.NoError(t, w.SetSocketFactory(realFactory(t)))
	require.NoError(t, w.Start())
	defer w.Stop()
	assert.ErrorIs(t, w.SetFlags(interfaces.FlagNonBlocking), ErrAlreadyStarted)

	require.NotNil(t, w.LocalAddr())
	assert.NotEqual(t, w.ID(), r.ID())

	frames := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	for _, f := range frames {
		require.NoError(t, w.PushFrame(f, PushNone))
	}

	for _, want := range frames {
		got, err := r.PullFrameTimeout(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, got.Payload)
		assert.True(t, got.Header.Marker)
	}
}

func TestReader_Lifecycle(t *testing.T) {
	r := NewReader("127.0.0.1", 0)
	require.NoError(t, r.SetSocketFactory(realFactory(t)))
	require.NoError(t, r.Start(interfaces.FlagNone))

	assert.ErrorIs(t, r.Start(interfaces.FlagNone), ErrAlreadyStarted)
	assert.ErrorIs(t, r.SetSocketFactory(realFactory(t)), ErrAlreadyStarted)
	assert.ErrorIs(t, r.Dispatcher().InstallHandler(packetHandler()), ErrAlreadyStarted)

	sock := r.Socket()
	require.NoError(t, r.Stop())
	assert.Equal(t, StateStopped, r.Dispatcher().State())

	_, err := sock.Send([]byte{1}, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9})
	assert.True(t, errors.Is(err, interfaces.ErrSocketClosed), "owned socket closed by Stop: %v", err)
	assert.NoError(t, r.Stop())
}

func TestReader_StartWithSocket(t *testing.T) {
	sock := testsim.NewSimulatedSocket("reader", simConfig)
	defer sock.Close()

	r := NewReaderWithOptions("", 0, Options{ReceiveBufferSize: 1500})
	require.NoError(t, r.Dispatcher().InstallHandler(twelveByteHandler()))
	assert.ErrorIs(t, r.StartWithSocket(nil, interfaces.FlagNone), ErrInvalidValue)
	require.NoError(t, r.StartWithSocket(sock, interfaces.FlagNonBlocking))

	require.NoError(t, sock.Inject(datagramN(4, 12), nil))
	frame, err := r.PullFrame()
	require.NoError(t, err)
	assert.Equal(t, datagramN(4, 12), frame.Payload)

	require.NoError(t, r.Stop())
	assert.NoError(t, sock.Inject([]byte{1}, nil), "caller socket stays open")
}

func TestReader_StartFailureReleasesSocket(t *testing.T) {
	r := NewReaderWithOptions("127.0.0.1", 0, Options{ReceiveBufferSize: -1})
	require.NoError(t, r.SetSocketFactory(realFactory(t)))

	err := r.Start(interfaces.FlagNone)
	assert.ErrorIs(t, err, ErrMemory)

	sock := r.Socket()
	require.NotNil(t, sock)
	_, err = sock.Send([]byte{1}, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9})
	assert.ErrorIs(t, err, interfaces.ErrSocketClosed)
}
