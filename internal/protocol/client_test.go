package protocol

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePeer accepts connections on loopback and answers every request with
// reply(request). It records the requests it saw.
func fakePeer(t *testing.T, reply func(string) string) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	seen := make(chan string, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				raw, err := ReadRequest(conn)
				if err != nil {
					return
				}
				seen <- string(raw)
				if out := reply(string(raw)); out != "" {
					_, _ = conn.Write([]byte(out))
				}
			}()
		}
	}()
	return ln.Addr().String(), seen
}

func TestClientPing(t *testing.T) {
	addr, seen := fakePeer(t, func(string) string { return "pong" })
	c := NewClient(time.Second)

	require.NoError(t, c.Ping(context.Background(), addr, time.Second))
	assert.Equal(t, "ping", <-seen)
}

func TestClientPingWrongReply(t *testing.T) {
	addr, _ := fakePeer(t, func(string) string { return "OK" })
	c := NewClient(time.Second)

	err := c.Ping(context.Background(), addr, time.Second)
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestClientPingTimeout(t *testing.T) {
	addr, _ := fakePeer(t, func(string) string {
		time.Sleep(500 * time.Millisecond)
		return ""
	})
	c := NewClient(time.Second)

	start := time.Now()
	err := c.Ping(context.Background(), addr, 100*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 450*time.Millisecond)
}

func TestClientPingRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewClient(time.Second)
	assert.Error(t, c.Ping(context.Background(), addr, 200*time.Millisecond))
}

func TestClientRunTest(t *testing.T) {
	addr, seen := fakePeer(t, func(req string) string {
		if req == "runtest:abc123" {
			return "OK"
		}
		return "BUSY"
	})
	c := NewClient(time.Second)

	ok, err := c.RunTest(context.Background(), addr, "abc123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "runtest:abc123", <-seen)

	ok, err = c.RunTest(context.Background(), addr, "other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientSendTrimsReply(t *testing.T) {
	addr, _ := fakePeer(t, func(string) string { return "OK\n" })
	reply, err := NewClient(0).Send(context.Background(), addr, "status")
	require.NoError(t, err)
	assert.Equal(t, "OK", reply)
}
