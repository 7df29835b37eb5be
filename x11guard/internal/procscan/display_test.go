package procscan

import (
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const netUnixHeader = "Num       RefCount Protocol Flags    Type St Inode Path\n"

const ssOutput = `u_str ESTAB 0 0 /tmp/.X11-unix/X0 5001 * 111
u_str ESTAB 0 0 /tmp/.X11-unix/X0 5002 * 222
u_str LISTEN 0 4096 /tmp/.X11-unix/X0 20001 * 0
u_str ESTAB 0 0 /run/user/1000/bus 6001 * 333
`

func TestParseDisplay(t *testing.T) {
	tests := []struct {
		name    string
		display Display
		local   bool
		err     bool
	}{
		{":0", Display{"", 0}, true, false},
		{":1.0", Display{"", 1}, true, false},
		{"unix:2", Display{"unix", 2}, true, false},
		{"localhost:10.0", Display{"localhost", 10}, false, false},
		{"0", Display{}, false, true},
		{":x", Display{}, false, true},
		{"", Display{}, false, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d, err := ParseDisplay(test.name)
			if test.err {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, test.display, d)
			assert.Equal(t, test.local, d.Local())
		})
	}

	d := Display{Number: 3}
	assert.Equal(t, "/tmp/.X11-unix/X3", d.SocketPath(DefaultSocketDir))
	assert.Equal(t, 6003, d.Port())
}

func TestPeerInode(t *testing.T) {
	const path = "/tmp/.X11-unix/X0"

	tests := []struct {
		line  string
		inode uint64
		ok    bool
	}{
		{"u_str ESTAB 0 0 /tmp/.X11-unix/X0 5001 * 111", 111, true},
		{"u_str ESTAB 0 0 @/tmp/.X11-unix/X0 5003 * 444", 444, true},
		{"u_str ESTAB 0 0 /tmp/.X11-unix/X0 5001", 0, false},
		{"u_str LISTEN 0 4096 /tmp/.X11-unix/X0 20001 * 0", 0, false},
		{"u_str ESTAB 0 0 /tmp/.X11-unix/X0 5001 /x 111", 0, false},
		{"u_str ESTAB 0 0 /tmp/.X11-unix/X1 5001 * 111", 0, false},
		{"Netid State Recv-Q Send-Q Local Address:Port Peer Address:Port", 0, false},
	}

	for _, test := range tests {
		inode, ok := peerInode(strings.Fields(test.line), path)
		assert.Equal(t, test.ok, ok, test.line)
		assert.Equal(t, test.inode, inode, test.line)
	}
}

func TestRunTimeout(t *testing.T) {
	out, err := runTimeout(time.Second)("echo", "ok")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(out))

	start := time.Now()
	_, err = runTimeout(50*time.Millisecond)("sleep", "5")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "hung command is killed")
}

func TestUnixDisplay(t *testing.T) {
	newSource := func(t *testing.T, table string) (*UnixDisplay, *[]string) {
		proc := newFakeProc(t)
		proc.writeNet("unix", netUnixHeader+table)

		src, err := NewUnixDisplay(proc.root, "/tmp/.X11-unix/X0")
		require.NoError(t, err)

		var calls []string
		src.run = func(name string, args ...string) ([]byte, error) {
			calls = append(calls, strings.Join(args, " "))
			if args[len(args)-1] == "@/tmp/.X11-unix/X0" {
				return nil, errors.New("exit status 1")
			}
			return []byte(ssOutput), nil
		}

		return src, &calls
	}

	t.Run("server listening", func(t *testing.T) {
		src, calls := newSource(t,
			"0000000000000000: 00000002 00000000 00010000 0001 01 20001 /tmp/.X11-unix/X0\n")

		peers, err := src.PeerInodes()
		require.NoError(t, err)
		assert.Equal(t, map[uint64]struct{}{111: {}, 222: {}}, peers)
		assert.Equal(t, []string{
			"-xnH src @/tmp/.X11-unix/X0",
			"-xnH src /tmp/.X11-unix/X0",
		}, *calls)
	})

	t.Run("abstract server socket", func(t *testing.T) {
		src, calls := newSource(t,
			"0000000000000000: 00000002 00000000 00010000 0001 01 20002 @/tmp/.X11-unix/X0\n")

		peers, err := src.PeerInodes()
		require.NoError(t, err)
		assert.Len(t, peers, 2)
		assert.Len(t, *calls, 2)
	})

	t.Run("no server", func(t *testing.T) {
		src, calls := newSource(t,
			"0000000000000000: 00000002 00000000 00010000 0001 01 20003 /run/user/1000/bus\n")

		peers, err := src.PeerInodes()
		require.NoError(t, err)
		assert.Empty(t, peers)
		assert.Empty(t, *calls)
	})

	t.Run("check missing ss", func(t *testing.T) {
		src, _ := newSource(t, "")
		src.ss = "ss-does-not-exist"
		assert.Error(t, src.Check())
	})
}

func TestTCPDisplay(t *testing.T) {
	const header = "  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode\n"

	proc := newFakeProc(t)
	proc.writeNet("tcp", header+
		// 127.0.0.1:40000 -> 127.0.0.1:6010 established
		"   0: 0100007F:9C40 0100007F:177A 01 00000000:00000000 00:00000000 00000000  1000        0 7001 1 0000000000000000 20 4 30 10 -1\n"+
		// 127.0.0.1:40001 -> 127.0.0.1:6010 time wait
		"   1: 0100007F:9C41 0100007F:177A 06 00000000:00000000 00:00000000 00000000  1000        0 7002 1 0000000000000000 20 4 30 10 -1\n"+
		// 127.0.0.1:40002 -> 127.0.0.1:443 established
		"   2: 0100007F:9C42 0100007F:01BB 01 00000000:00000000 00:00000000 00000000  1000        0 7003 1 0000000000000000 20 4 30 10 -1\n")

	src, err := NewTCPDisplay(proc.root, Display{Host: "localhost", Number: 10}.Port())
	require.NoError(t, err)
	require.NoError(t, src.Check())

	peers, err := src.PeerInodes()
	require.NoError(t, err)
	assert.Equal(t, map[uint64]struct{}{7001: {}}, peers)
}

func TestDisplaySources(t *testing.T) {
	proc := newFakeProc(t)

	srcs, err := Display{Number: 0}.Sources(proc.root, DefaultSocketDir)
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.Equal(t, "unix:/tmp/.X11-unix/X0", srcs[0].Name())

	srcs, err = Display{Host: "remote", Number: 2}.Sources(proc.root, DefaultSocketDir)
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.Equal(t, "tcp:6002", srcs[0].Name())
}
