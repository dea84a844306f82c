package acquisition

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/pulsectl/internal/errors"
	"codeberg.org/mutker/pulsectl/internal/logger"
	"codeberg.org/mutker/pulsectl/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub accepts one connection, records every command and starts sending
// data once streaming is enabled.
type fakeHub struct {
	ln       net.Listener
	mu       sync.Mutex
	commands []string
	done     chan struct{}
}

func newFakeHub(t *testing.T, data []string) *fakeHub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := &fakeHub{ln: ln, done: make(chan struct{})}
	go h.serve(data)
	t.Cleanup(func() {
		ln.Close()
		<-h.done
	})
	return h
}

func (h *fakeHub) serve(data []string) {
	defer close(h.done)
	conn, err := h.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		cmd := scanner.Text()
		h.mu.Lock()
		h.commands = append(h.commands, cmd)
		h.mu.Unlock()

		if cmd == "GYRO ON" {
			for _, d := range data {
				if _, err := io.WriteString(conn, d); err != nil {
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
		}
	}
}

func (h *fakeHub) port() int {
	return h.ln.Addr().(*net.TCPAddr).Port
}

func (h *fakeHub) received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.commands...)
}

func drainFrames(t *testing.T, b Backend, want int) []sensor.Frame {
	t.Helper()
	var frames []sensor.Frame
	require.Eventually(t, func() bool {
		for {
			f, ok, err := b.PollFrame()
			require.NoError(t, err)
			if !ok {
				break
			}
			frames = append(frames, f)
		}
		return len(frames) >= want
	}, 3*time.Second, 10*time.Millisecond)
	return frames
}

func TestSocketStreamsLines(t *testing.T) {
	hub := newFakeHub(t, []string{
		"OK\n",
		"1000,PG,51000\n",
		"1040,E",
		"A,1.2\n",
		"broken,line\n",
		"1080,AZ,9.8\n",
	})

	cfg := DefaultConfig()
	cfg.Kind = KindSocket
	cfg.Address = "127.0.0.1"
	cfg.Port = hub.port()
	s := NewSocket(cfg, logger.Nop())

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.StartStreaming(ctx))

	frames := drainFrames(t, s, 3)
	require.Len(t, frames, 3)

	assert.Equal(t, []float64{51000}, frames[0].Channels[sensor.ChannelPPG])
	assert.Equal(t, []float64{1.2}, frames[1].Channels[sensor.ChannelEDA])
	assert.Equal(t, []float64{9.8}, frames[2].Channels[sensor.ChannelAccelZ])
	assert.Equal(t, 40*time.Millisecond, frames[1].Timestamps[0].Sub(frames[0].Timestamps[0]))

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(3), stats.Parsed)

	require.NoError(t, s.Disconnect(ctx))

	require.Eventually(t, func() bool {
		cmds := hub.received()
		return len(cmds) > 0 && cmds[len(cmds)-1] == "GOODBYE"
	}, 2*time.Second, 10*time.Millisecond)

	cmds := hub.received()
	assert.Equal(t, "HELLO", cmds[0])
	assert.Equal(t, socketStartCommands, cmds[1:1+len(socketStartCommands)])
	assert.Contains(t, cmds, "STOP RECORDING")
	assert.Contains(t, cmds, "DATA OFF")
}

func TestSocketInterleavedChannelsKeepSpacing(t *testing.T) {
	hub := newFakeHub(t, []string{
		"1000,AX,0.1\n",
		"1000,PG,1,2,3,4,5,6,7,8\n",
		"1040,AX,0.2\n",
	})

	cfg := DefaultConfig()
	cfg.Kind = KindSocket
	cfg.Address = "127.0.0.1"
	cfg.Port = hub.port()
	s := NewSocket(cfg, logger.Nop())

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.StartStreaming(ctx))
	t.Cleanup(func() { _ = s.Disconnect(ctx) })

	frames := drainFrames(t, s, 3)
	require.Len(t, frames, 3)

	accel := frames[0].Timestamps
	ppg := frames[1].Timestamps
	require.Len(t, ppg, 8)
	assert.Equal(t, accel[0], ppg[7])
	for i := 1; i < len(ppg); i++ {
		assert.Equal(t, 40*time.Millisecond, ppg[i].Sub(ppg[i-1]), "sample %d", i)
	}
	assert.Equal(t, 40*time.Millisecond, frames[2].Timestamps[0].Sub(accel[0]))
}

func TestSocketConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1"
	cfg.Port = port
	cfg.ConnectTimeout = 500 * time.Millisecond
	s := NewSocket(cfg, logger.Nop())

	err = s.Connect(context.Background())
	assert.True(t, errors.HasCode(err, ErrConnection))
}

func TestSocketConnectionLossIsReported(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewScanner(conn)
		for r.Scan() {
			if r.Text() == "GYRO ON" {
				conn.Close()
				return
			}
		}
	}()

	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1"
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	s := NewSocket(cfg, logger.Nop())

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.StartStreaming(ctx))

	require.Eventually(t, func() bool {
		_, _, err := s.PollFrame()
		return errors.HasCode(err, ErrConnection)
	}, 2*time.Second, 10*time.Millisecond)

	_ = s.Disconnect(ctx)
}

func TestDiscover(t *testing.T) {
	responder, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer responder.Close()

	go func() {
		buf := make([]byte, 64)
		n, addr, err := responder.ReadFromUDP(buf)
		if err != nil || string(buf[:n]) != discoveryMessage {
			return
		}
		_, _ = responder.WriteToUDP([]byte("EmotiBit"), addr)
	}()

	host, err := discover(context.Background(), responder.LocalAddr().(*net.UDPAddr), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
}

func TestDiscoverTimeout(t *testing.T) {
	silent, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer silent.Close()

	_, err = discover(context.Background(), silent.LocalAddr().(*net.UDPAddr), 200*time.Millisecond)
	assert.True(t, errors.HasCode(err, ErrDiscovery))
}

func TestSocketDiscoversWhenUnaddressed(t *testing.T) {
	hub := newFakeHub(t, nil)

	responder, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer responder.Close()
	go func() {
		buf := make([]byte, 64)
		_, addr, err := responder.ReadFromUDP(buf)
		if err == nil {
			_, _ = responder.WriteToUDP([]byte("hub:"+strconv.Itoa(hub.port())), addr)
		}
	}()

	cfg := DefaultConfig()
	cfg.Port = hub.port()
	s := NewSocket(cfg, logger.Nop())
	s.discoveryTarget = responder.LocalAddr().(*net.UDPAddr)

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, "127.0.0.1", s.Capabilities().Device)
	require.NoError(t, s.Disconnect(context.Background()))
}
