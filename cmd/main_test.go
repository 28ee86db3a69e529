package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func startEchoDevice(t *testing.T) *net.UDPAddr {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buffer := make([]byte, 65535)
		for {
			n, from, err := conn.ReadFromUDP(buffer)
			if err != nil {
				return
			}
			conn.WriteToUDP(buffer[:n], from)
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr)
}

// writeConfig writes a config file that points at addr.
func writeConfig(t *testing.T, addr *net.UDPAddr) string {
	t.Helper()

	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	cfg := fmt.Sprintf("[target]\nip = %q\nport = %d\n[exchange]\nbind = \"127.0.0.1:0\"\ntimeout = 0.1\nretries = 0\n", addr.IP.String(), addr.Port)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))
	return cfgPath
}

// runApp runs the CLI against a config file that points at addr.
func runApp(t *testing.T, addr *net.UDPAddr, stdin string, args ...string) (string, string, error) {
	t.Helper()

	cfgPath := writeConfig(t, addr)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	app := newApp(strings.NewReader(stdin), stdout, stderr)
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.RunContext(context.Background(), append([]string{"marstek", "--config", cfgPath}, args...))
	return stdout.String(), stderr.String(), err
}

func exitCode(err error) int {
	if ec, ok := err.(cli.ExitCoder); ok {
		return ec.ExitCode()
	}
	return -1
}

func TestSendRequiresExactlyOneSource(t *testing.T) {
	a := assert.New(t)
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 30000}

	_, _, err := runApp(t, addr, "", "send")
	a.Equal(2, exitCode(err))

	_, _, err = runApp(t, addr, "{}", "send", "--json", "{}", "--stdin")
	a.Equal(2, exitCode(err))

	_, _, err = runApp(t, addr, "", "send", "--json", "{not json")
	a.Equal(2, exitCode(err))
}

func TestSendPrettyPrintsReply(t *testing.T) {
	a := assert.New(t)
	addr := startEchoDevice(t)

	stdout, _, err := runApp(t, addr, "", "send", "--json", `{"b":1,"a":2}`)
	require.NoError(t, err)
	a.Equal("{\n  \"a\": 2,\n  \"b\": 1\n}\n", stdout)

	stdout, _, err = runApp(t, addr, `{"b":1,"a":2}`, "--no-pretty", "send", "--stdin")
	require.NoError(t, err)
	a.Equal("{\"b\":1,\"a\":2}\n", stdout)
}

func TestSendNoReply(t *testing.T) {
	a := assert.New(t)
	addr := startEchoDevice(t)

	stdout, _, err := runApp(t, addr, "", "send", "--json", `{"id":0}`, "--no-reply")
	require.NoError(t, err)
	a.Empty(stdout)
}

func TestFlagsOverrideConfig(t *testing.T) {
	a := assert.New(t)
	addr := startEchoDevice(t)
	unused := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}

	stdout, _, err := runApp(t, unused, "", "--port", strconv.Itoa(addr.Port), "--raw", "status")
	require.NoError(t, err)
	a.Contains(stdout, `|{"cmd":"read_sta|`)
}

func TestAllStatusSummary(t *testing.T) {
	a := assert.New(t)
	addr := startEchoDevice(t)

	stdout, _, err := runApp(t, addr, "", "--no-pretty", "all-status", "--summary")
	require.NoError(t, err)

	a.Contains(stdout, `{"id":0,"method":"Marstek.GetDevice","params":{"ble_mac":"0"}}`)
	a.Contains(stdout, `{"id":1,"method":"ES.GetMode","params":{"id":0}}`)
	a.Contains(stdout, "ES.GetMode")
	a.Contains(stdout, "replied")
	a.Equal(7, strings.Count(stdout, "replied"))
}

func TestInvalidBind(t *testing.T) {
	a := assert.New(t)
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 30000}

	_, _, err := runApp(t, addr, "", "--bind", "nope", "status")
	a.Equal(2, exitCode(err))
}

func TestSendStdinInterrupted(t *testing.T) {
	a := assert.New(t)
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 30000}

	pr, pw := io.Pipe()
	defer pw.Close()

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	app := newApp(pr, stdout, stderr)
	app.ExitErrHandler = func(*cli.Context, error) {}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		done <- app.RunContext(ctx, []string{"marstek", "--config", writeConfig(t, addr), "send", "--stdin"})
	}()

	select {
	case err := <-done:
		a.ErrorIs(err, context.Canceled)
		a.Empty(stdout.String())
		a.Empty(stderr.String())
	case <-time.After(2 * time.Second):
		t.Fatal("send --stdin still waiting after the context was cancelled")
	}
}

func TestDotEnvOverridesConfigFile(t *testing.T) {
	a := assert.New(t)
	addr := startEchoDevice(t)
	unused := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
	cfgPath := writeConfig(t, unused)

	for _, key := range []string{"MARSTEK_PORT", "MARSTEK_RETRIES"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	dir := t.TempDir()
	env := fmt.Sprintf("MARSTEK_PORT=%d\nMARSTEK_RETRIES=1\n", addr.Port)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o644))
	wd, wdErr := os.Getwd()
	require.NoError(t, wdErr)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	err := run(context.Background(), []string{"marstek", "--config", cfgPath, "--no-pretty", "status"}, strings.NewReader(""), stdout, stderr)
	require.NoError(t, err)
	a.Equal("{\"cmd\":\"read_status\"}\n", stdout.String())
	a.Empty(stderr.String())
}

func TestEnvVarsOverrideConfigFile(t *testing.T) {
	a := assert.New(t)
	addr := startEchoDevice(t)

	t.Setenv("MARSTEK_TIMEOUT", "0.05")
	t.Setenv("MARSTEK_RETRIES", "3")

	// Nothing listens on port 9, so every attempt times out.
	unused := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
	start := time.Now()
	_, stderr, err := runApp(t, unused, "", "status")
	require.NoError(t, err)
	a.Contains(stderr, "attempts=4")
	a.Less(time.Since(start), time.Second)

	_, _, err = runApp(t, addr, "", "status")
	a.NoError(err)
}
