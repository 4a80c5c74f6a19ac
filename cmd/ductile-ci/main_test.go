package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ductile-ci/internal/config"
	"github.com/mattjoyce/ductile-ci/internal/log"
	"github.com/mattjoyce/ductile-ci/internal/protocol"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := runCLI(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunCLIUsage(t *testing.T) {
	code, _, stderr := run()
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage:")

	code, stdout, _ := run("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "dispatch <commit>")

	code, _, stderr = run("frobnicate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")
}

func TestRunVersion(t *testing.T) {
	code, stdout, _ := run("version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "ductile-ci ")

	code, stdout, _ = run("version", "--json")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, `"version"`)
}

func TestShortenCommit(t *testing.T) {
	assert.Equal(t, "abc", shortenCommit("abc"))
	assert.Equal(t, "0123456789ab", shortenCommit("0123456789abcdef"))
}

func TestServeRejectsBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("heartbeat:\n  interval: 0s\n"), 0o644))

	code, _, stderr := run("serve", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "heartbeat.interval")
}

func TestCheckReportsWarnings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfgYAML := "listen:\n  host: 0.0.0.0\n" +
		"results:\n  dir: " + filepath.Join(dir, "results") + "\n" +
		"state:\n  path: " + filepath.Join(dir, "results.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(cfgYAML), 0o644))

	code, stdout, _ := run("check", "--config", path)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Configuration valid (1 warning(s))")
	assert.Contains(t, stdout, "listen.host")

	code, stdout, _ = run("check", "--config", path, "--json")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, `"valid": true`)
}

func TestDispatchRequiresCommit(t *testing.T) {
	code, _, stderr := run("dispatch")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Usage: ductile-ci dispatch")
}

func TestStatusUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	code, _, stderr := run("status", "--host", "127.0.0.1", "--port", strconv.Itoa(port), "--timeout", "200ms")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unreachable")
}

// startServe runs the full dispatcher on ephemeral ports.
func startServe(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()

	cfg := config.Defaults()
	cfg.Listen.Host = "127.0.0.1"
	cfg.Listen.Port = 0
	cfg.Heartbeat.Interval = 50 * time.Millisecond
	cfg.Heartbeat.Timeout = 200 * time.Millisecond
	cfg.Dispatch.Backoff = 20 * time.Millisecond
	cfg.Dispatch.ProbeTimeout = 500 * time.Millisecond
	cfg.Redistribute.Interval = 50 * time.Millisecond
	cfg.Results.Dir = filepath.Join(root, "test_results")
	cfg.State.Path = filepath.Join(root, "data", "results.db")
	require.NoError(t, config.Validate(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("serve did not stop")
		}
	})
	return addr, cfg.Results.Dir
}

// runnerStub accepts every runtest and answers ping.
func runnerStub(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				raw, err := protocol.ReadRequest(conn)
				if err != nil {
					return
				}
				if strings.TrimSpace(string(raw)) == protocol.CmdPing {
					_, _ = conn.Write([]byte(protocol.ReplyPong))
					return
				}
				_, _ = conn.Write([]byte(protocol.ReplyOK))
			}()
		}
	}()
	return "127.0.0.1", ln.Addr().(*net.TCPAddr).Port
}

func TestServeEndToEnd(t *testing.T) {
	addr, resultsDir := startServe(t)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	code, stdout, _ := run("status", "--host", host, "--port", portStr)
	assert.Equal(t, 0, code)
	assert.Equal(t, "OK\n", stdout)

	code, stdout, _ = run("dispatch", "--host", host, "--port", portStr, "abc123")
	assert.Equal(t, 1, code)
	assert.Equal(t, "No runners registered\n", stdout)

	client := protocol.NewClient(time.Second)
	rhost, rport := runnerStub(t)
	reply, err := client.Send(context.Background(), addr, "register:"+rhost+":"+strconv.Itoa(rport))
	require.NoError(t, err)
	require.Equal(t, "OK", reply)

	code, stdout, _ = run("dispatch", "--host", host, "--port", portStr, "abc123")
	assert.Equal(t, 0, code)
	assert.Equal(t, "OK\n", stdout)

	reply, err = client.Send(context.Background(), addr, "results:abc123:11:hello world")
	require.NoError(t, err)
	require.Equal(t, "OK", reply)

	b, err := os.ReadFile(filepath.Join(resultsDir, "abc123"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(b))
}
