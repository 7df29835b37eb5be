package procscan

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	osexec "os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

// DefaultSocketDir is where X servers place their UNIX sockets.
const DefaultSocketDir = "/tmp/.X11-unix"

// x11BasePort is the TCP port of display 0.
const x11BasePort = 6000

// ssTimeout bounds a single ss invocation.
const ssTimeout = 2 * time.Second

// tcpEstablished is the TCP_ESTABLISHED state in /proc/net/tcp.
const tcpEstablished = 1

// Display is a parsed X11 display name of the form [host]:number[.screen].
type Display struct {
	Host   string
	Number int
}

// ParseDisplay parses a display name such as ":0", ":1.0" or "localhost:10".
func ParseDisplay(name string) (Display, error) {
	i := strings.LastIndexByte(name, ':')
	if i < 0 {
		return Display{}, errors.Errorf("invalid display %q", name)
	}

	num := name[i+1:]
	if j := strings.IndexByte(num, '.'); j >= 0 {
		num = num[:j]
	}

	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return Display{}, errors.Errorf("invalid display %q", name)
	}

	return Display{Host: name[:i], Number: n}, nil
}

func (d Display) String() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Number)
}

// Local returns true if clients reach the display over a UNIX socket.
func (d Display) Local() bool {
	return d.Host == "" || d.Host == "unix"
}

// SocketPath returns the UNIX socket path of the display inside dir.
func (d Display) SocketPath(dir string) string {
	return filepath.Join(dir, "X"+strconv.Itoa(d.Number))
}

// Port returns the TCP port of the display.
func (d Display) Port() int {
	return x11BasePort + d.Number
}

// Sources returns the connection sources that identify the display's
// connections, reading socket tables from the proc filesystem at root.
func (d Display) Sources(root, socketDir string) ([]PeerSource, error) {
	if d.Local() {
		src, err := NewUnixDisplay(root, d.SocketPath(socketDir))
		if err != nil {
			return nil, err
		}
		return []PeerSource{src}, nil
	}

	src, err := NewTCPDisplay(root, d.Port())
	if err != nil {
		return nil, err
	}
	return []PeerSource{src}, nil
}

// UnixDisplay finds connections to a display's UNIX socket. The kernel only
// exposes socket peers through sock_diag, so the peer inodes are taken from
// ss(8).
type UnixDisplay struct {
	Path string

	fs  procfs.FS
	ss  string
	run func(name string, args ...string) ([]byte, error)
}

var _ PeerSource = (*UnixDisplay)(nil)

// NewUnixDisplay creates a source for the server socket at path.
func NewUnixDisplay(root, path string) (*UnixDisplay, error) {
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open proc filesystem")
	}

	return &UnixDisplay{
		Path: path,
		fs:   fs,
		ss:   "ss",
		run:  runTimeout(ssTimeout),
	}, nil
}

// runTimeout returns a command runner that kills the command after timeout.
func runTimeout(timeout time.Duration) func(string, ...string) ([]byte, error) {
	return func(name string, args ...string) ([]byte, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		out, err := osexec.CommandContext(ctx, name, args...).Output()
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "%s timed out", name)
		}
		return out, err
	}
}

func (u *UnixDisplay) Name() string { return "unix:" + u.Path }

func (u *UnixDisplay) Check() error {
	if _, err := u.fs.NetUNIX(); err != nil {
		return errors.Wrap(err, "failed to read UNIX socket table")
	}
	if _, err := osexec.LookPath(u.ss); err != nil {
		return errors.Wrap(err, "ss from iproute2 is required")
	}
	return nil
}

// PeerInodes returns the inodes of client sockets connected to the server
// socket, in both its filesystem and abstract forms.
func (u *UnixDisplay) PeerInodes() (map[uint64]struct{}, error) {
	peers := map[uint64]struct{}{}

	listening, err := u.serverListening()
	if err != nil {
		return nil, err
	}
	if !listening {
		return peers, nil
	}

	for _, src := range []string{"@" + u.Path, u.Path} {
		out, err := u.run(u.ss, "-xnH", "src", src)
		if err != nil {
			// Older ss builds reject one of the two forms.
			continue
		}

		scanner := bufio.NewScanner(bytes.NewReader(out))
		for scanner.Scan() {
			if inode, ok := peerInode(strings.Fields(scanner.Text()), u.Path); ok {
				peers[inode] = struct{}{}
			}
		}
	}

	return peers, nil
}

// serverListening checks /proc/net/unix for the server socket, which saves
// running ss while no display server is up.
func (u *UnixDisplay) serverListening() (bool, error) {
	table, err := u.fs.NetUNIX()
	if err != nil {
		return false, errors.Wrap(err, "failed to read UNIX socket table")
	}

	for _, row := range table.Rows {
		if row.Path == u.Path || row.Path == "@"+u.Path {
			return true, nil
		}
	}

	return false, nil
}

// peerInode extracts the peer inode from the fields of an ss -x row:
//
//	u_str ESTAB 0 0 /tmp/.X11-unix/X0 31337 * 31336
//
// Listening rows have a peer inode of 0 and are skipped.
func peerInode(fields []string, path string) (uint64, bool) {
	for i, field := range fields {
		if field != path && field != "@"+path {
			continue
		}

		if i+3 >= len(fields) || fields[i+2] != "*" {
			return 0, false
		}

		inode, err := strconv.ParseUint(fields[i+3], 10, 64)
		if err != nil || inode == 0 {
			return 0, false
		}

		return inode, true
	}

	return 0, false
}

// TCPDisplay finds connections to a display over TCP. The client end of each
// established connection to the display port is in the process's own table,
// so the inodes of those rows are the client sockets.
type TCPDisplay struct {
	Port uint64
	fs   procfs.FS
}

var _ PeerSource = (*TCPDisplay)(nil)

// NewTCPDisplay creates a source for connections to the given TCP port.
func NewTCPDisplay(root string, port int) (*TCPDisplay, error) {
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open proc filesystem")
	}

	return &TCPDisplay{Port: uint64(port), fs: fs}, nil
}

func (t *TCPDisplay) Name() string { return "tcp:" + strconv.FormatUint(t.Port, 10) }

func (t *TCPDisplay) Check() error {
	if _, err := t.fs.NetTCP(); err != nil {
		return errors.Wrap(err, "failed to read TCP socket table")
	}
	return nil
}

func (t *TCPDisplay) PeerInodes() (map[uint64]struct{}, error) {
	peers := map[uint64]struct{}{}

	tcp, err := t.fs.NetTCP()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read TCP socket table")
	}

	for _, row := range tcp {
		if row.RemPort == t.Port && row.St == tcpEstablished {
			peers[row.Inode] = struct{}{}
		}
	}

	// IPv6 may be disabled entirely.
	if tcp6, err := t.fs.NetTCP6(); err == nil {
		for _, row := range tcp6 {
			if row.RemPort == t.Port && row.St == tcpEstablished {
				peers[row.Inode] = struct{}{}
			}
		}
	}

	return peers, nil
}
