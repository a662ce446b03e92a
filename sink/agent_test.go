package sink

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentSinkCfgValidate(t *testing.T) {
	cfg := &AgentSinkCfg{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "tcp://127.0.0.1:25888", cfg.Endpoint)
	assert.Equal(t, 1024, cfg.SendChannelSize)
	assert.Equal(t, 30, cfg.WriteTimeoutSec)
	assert.Equal(t, "agent_sink", cfg.GetName())

	bad := &AgentSinkCfg{Endpoint: "http://localhost:9"}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported agent endpoint scheme")
}

func TestParseAgentEndpoint(t *testing.T) {
	network, address, err := parseAgentEndpoint("udp://10.0.0.1:1234")
	require.NoError(t, err)
	assert.Equal(t, "udp", network)
	assert.Equal(t, "10.0.0.1:1234", address)

	_, _, err = parseAgentEndpoint("tcp://")
	assert.Error(t, err)
}

func waitRecv(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for document")
		return ""
	}
}

func TestAgentSinkDeliversOverTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	received := make(chan string, 4)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			received <- scanner.Text()
		}
	}()

	s, err := NewAgentSink(&AgentSinkCfg{Endpoint: "tcp://" + l.Addr().String()})
	require.NoError(t, err)

	require.NoError(t, s.Accept([]string{`{"a":1}`, `{"b":2}`}))
	require.NoError(t, s.Refresh())

	assert.Equal(t, `{"a":1}`, waitRecv(t, received))
	assert.Equal(t, `{"b":2}`, waitRecv(t, received))

	require.NoError(t, s.Close())
}

func TestAgentSinkDeliversOverUDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	s, err := NewAgentSink(&AgentSinkCfg{Endpoint: "udp://" + pc.LocalAddr().String()})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Accept([]string{`{"a":1}`}))
	require.NoError(t, s.Refresh())

	require.NoError(t, pc.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 64*1024)
	n, _, err := pc.ReadFrom(buf)
	require.NoError(t, err)

	// One datagram per document, no newline framing on UDP.
	assert.Equal(t, `{"a":1}`, string(buf[:n]))
}

func TestAgentSinkRejectsOverRateLimit(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	s, err := NewAgentSink(&AgentSinkCfg{
		Endpoint:         "udp://" + pc.LocalAddr().String(),
		MaxBatchesPerSec: 1,
		Burst:            1,
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Accept([]string{`{"a":1}`}))

	err = s.Accept([]string{`{"b":2}`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "over rate limit")
}

func TestAgentSinkSendChannelFull(t *testing.T) {
	// Nothing listens on port 1, so the sender stalls in dial backoff
	// while the queue fills.
	s, err := NewAgentSink(&AgentSinkCfg{
		Endpoint:        "tcp://127.0.0.1:1",
		SendChannelSize: 1,
	})
	require.NoError(t, err)
	defer s.Close()

	err = s.Accept([]string{`{"a":1}`, `{"b":2}`, `{"c":3}`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send channel is full")
}

func TestAgentSinkCloseIdempotent(t *testing.T) {
	s, err := NewAgentSink(nil)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	err = s.Accept([]string{`{}`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}
