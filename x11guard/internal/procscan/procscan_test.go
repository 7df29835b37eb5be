package procscan

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProc builds a minimal proc filesystem inside a temporary directory.
type fakeProc struct {
	t    *testing.T
	root string
}

func newFakeProc(t *testing.T) *fakeProc {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "net"), 0755))

	return &fakeProc{t: t, root: root}
}

// addProcess creates /proc/<pid> with a comm and a full-length stat line.
func (f *fakeProc) addProcess(pid, ppid int, comm string, start uint64) {
	f.t.Helper()

	dir := filepath.Join(f.root, strconv.Itoa(pid))
	require.NoError(f.t, os.MkdirAll(filepath.Join(dir, "fd"), 0755))
	require.NoError(f.t, os.WriteFile(filepath.Join(dir, "comm"), []byte(comm+"\n"), 0644))

	// Fields 3 through 52 of proc(5); starttime is field 22.
	fields := make([]string, 50)
	for i := range fields {
		fields[i] = "0"
	}
	fields[0] = "S"
	fields[1] = strconv.Itoa(ppid)
	fields[19] = strconv.FormatUint(start, 10)

	stat := fmt.Sprintf("%d (%s) %s\n", pid, comm, strings.Join(fields, " "))
	require.NoError(f.t, os.WriteFile(filepath.Join(dir, "stat"), []byte(stat), 0644))
}

func (f *fakeProc) addExe(pid int, exe string) {
	f.t.Helper()
	link := filepath.Join(f.root, strconv.Itoa(pid), "exe")
	require.NoError(f.t, os.Symlink(exe, link))
}

func (f *fakeProc) addFD(pid, fd int, target string) {
	f.t.Helper()
	link := filepath.Join(f.root, strconv.Itoa(pid), "fd", strconv.Itoa(fd))
	require.NoError(f.t, os.Symlink(target, link))
}

// addSelf points /proc/self at pid.
func (f *fakeProc) addSelf(pid int) {
	f.t.Helper()
	require.NoError(f.t, os.Symlink(strconv.Itoa(pid), filepath.Join(f.root, "self")))
}

func (f *fakeProc) writeNet(name, content string) {
	f.t.Helper()
	require.NoError(f.t, os.WriteFile(filepath.Join(f.root, "net", name), []byte(content), 0644))
}

type staticSource map[uint64]struct{}

func (s staticSource) Name() string                             { return "static" }
func (s staticSource) Check() error                             { return nil }
func (s staticSource) PeerInodes() (map[uint64]struct{}, error) { return s, nil }

func inodes(ns ...uint64) staticSource {
	s := staticSource{}
	for _, n := range ns {
		s[n] = struct{}{}
	}
	return s
}

func TestLocatorResolve(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		proc := newFakeProc(t)
		proc.addProcess(10, 1, "bash", 5)

		l, err := NewLocator(proc.root)
		require.NoError(t, err)

		pid, found, err := l.Resolve("qq")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Zero(t, pid)
	})

	t.Run("exact comm", func(t *testing.T) {
		proc := newFakeProc(t)
		proc.addProcess(10, 1, "bash", 5)
		proc.addProcess(20, 1, "qq", 7)

		l, err := NewLocator(proc.root)
		require.NoError(t, err)

		pid, found, err := l.Resolve("qq")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 20, pid)
	})

	t.Run("root of process tree", func(t *testing.T) {
		proc := newFakeProc(t)
		proc.addProcess(30, 1, "qq", 100)
		proc.addProcess(31, 30, "qq", 101) // renderer
		proc.addProcess(32, 30, "qq", 102) // gpu process

		l, err := NewLocator(proc.root)
		require.NoError(t, err)

		pid, found, err := l.Resolve("qq")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 30, pid)
	})

	t.Run("oldest root wins", func(t *testing.T) {
		proc := newFakeProc(t)
		proc.addProcess(50, 1, "qq", 300)
		proc.addProcess(40, 1, "qq", 200)

		l, err := NewLocator(proc.root)
		require.NoError(t, err)

		pid, _, err := l.Resolve("qq")
		require.NoError(t, err)
		assert.Equal(t, 40, pid)
	})

	t.Run("truncated comm", func(t *testing.T) {
		proc := newFakeProc(t)
		proc.addProcess(60, 1, "telegram-deskto", 1)

		l, err := NewLocator(proc.root)
		require.NoError(t, err)

		pid, found, err := l.Resolve("telegram-desktop")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 60, pid)
	})

	t.Run("executable basename", func(t *testing.T) {
		proc := newFakeProc(t)
		proc.addProcess(70, 1, "MainThread", 1)
		proc.addExe(70, "/opt/QQ/qq")

		l, err := NewLocator(proc.root)
		require.NoError(t, err)

		pid, found, err := l.Resolve("qq")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 70, pid)
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := NewLocator(filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})
}

func TestCounterCount(t *testing.T) {
	proc := newFakeProc(t)
	proc.addProcess(100, 1, "qq", 1)
	proc.addFD(100, 0, "/dev/null")
	proc.addFD(100, 3, "socket:[111]")
	proc.addFD(100, 4, "socket:[222]")
	proc.addFD(100, 5, "socket:[333]")
	proc.addFD(100, 6, "pipe:[444]")

	t.Run("intersection", func(t *testing.T) {
		c, err := NewCounter(proc.root, inodes(111, 333, 999))
		require.NoError(t, err)

		n, err := c.Count(100)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("sources do not double count", func(t *testing.T) {
		c, err := NewCounter(proc.root, inodes(111), inodes(111, 222))
		require.NoError(t, err)

		n, err := c.Count(100)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("no display peers", func(t *testing.T) {
		c, err := NewCounter(proc.root, inodes())
		require.NoError(t, err)

		n, err := c.Count(100)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("process gone", func(t *testing.T) {
		c, err := NewCounter(proc.root, inodes(111))
		require.NoError(t, err)

		_, err = c.Count(4242)
		assert.True(t, errors.Is(err, ErrProcessGone), "got %v", err)
	})

	t.Run("check without sources", func(t *testing.T) {
		c, err := NewCounter(proc.root)
		require.NoError(t, err)
		assert.Error(t, c.Check())
	})

	t.Run("check without descriptor table", func(t *testing.T) {
		c, err := NewCounter(proc.root, inodes(111))
		require.NoError(t, err)
		assert.Error(t, c.Check(), "no /proc/self")
	})

	t.Run("check", func(t *testing.T) {
		proc.addSelf(100)

		c, err := NewCounter(proc.root, inodes(111))
		require.NoError(t, err)
		assert.NoError(t, c.Check())
	})
}

func TestParseSocketInode(t *testing.T) {
	tests := []struct {
		target string
		inode  uint64
		ok     bool
	}{
		{"socket:[12345]", 12345, true},
		{"socket:[]", 0, false},
		{"socket:[12a]", 0, false},
		{"pipe:[12345]", 0, false},
		{"/tmp/.X11-unix/X0", 0, false},
		{"", 0, false},
	}

	for _, test := range tests {
		t.Run(test.target, func(t *testing.T) {
			inode, ok := parseSocketInode(test.target)
			assert.Equal(t, test.ok, ok)
			assert.Equal(t, test.inode, inode)
		})
	}
}
