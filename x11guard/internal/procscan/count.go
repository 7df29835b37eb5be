package procscan

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

// PeerSource identifies display connections. It is the pluggable predicate of
// the counter: PeerInodes returns the inodes of client-side sockets that are
// connected to the display server.
type PeerSource interface {
	Name() string
	PeerInodes() (map[uint64]struct{}, error)
	// Check fails if the source can never work on this system.
	Check() error
}

// Counter counts the display connections held by a process.
type Counter struct {
	fs      procfs.FS
	root    string
	sources []PeerSource
}

// NewCounter creates a counter over the proc filesystem mounted at root.
func NewCounter(root string, sources ...PeerSource) (*Counter, error) {
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open proc filesystem")
	}

	return &Counter{fs: fs, root: root, sources: sources}, nil
}

// Check verifies that descriptor tables can be read and that every source is
// usable.
func (c *Counter) Check() error {
	if len(c.sources) == 0 {
		return errors.New("no display connection source configured")
	}

	self, err := c.fs.Self()
	if err != nil {
		return errors.Wrap(err, "failed to open own process")
	}
	if _, err := self.FileDescriptorTargets(); err != nil {
		return errors.Wrap(err, "failed to read descriptor table")
	}

	for _, src := range c.sources {
		if err := src.Check(); err != nil {
			return errors.Wrapf(err, "source %s unusable", src.Name())
		}
	}

	return nil
}

// Count returns the number of sockets held by pid that are connected to the
// display. ErrProcessGone is returned if the process no longer exists.
func (c *Counter) Count(pid int) (int, error) {
	inodes, err := c.socketInodes(pid)
	if err != nil {
		return 0, err
	}

	if len(inodes) == 0 {
		return 0, nil
	}

	var count int

	for _, src := range c.sources {
		peers, err := src.PeerInodes()
		if err != nil {
			return 0, errors.Wrapf(err, "failed to read peers of %s", src.Name())
		}

		for inode := range peers {
			if _, ok := inodes[inode]; ok {
				count++
				// Never count the same socket twice across sources.
				delete(inodes, inode)
			}
		}
	}

	return count, nil
}

// socketInodes returns the inodes of every socket in the descriptor table of
// pid. Descriptors closed during the scan are skipped.
func (c *Counter) socketInodes(pid int) (map[uint64]struct{}, error) {
	proc, err := c.fs.Proc(pid)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrProcessGone
		}
		return nil, errors.Wrap(err, "failed to open process")
	}

	targets, err := proc.FileDescriptorTargets()
	if err != nil {
		if !c.exists(pid) {
			return nil, ErrProcessGone
		}
		return nil, errors.Wrap(err, "failed to read descriptor table")
	}

	inodes := make(map[uint64]struct{}, len(targets))

	for _, target := range targets {
		if inode, ok := parseSocketInode(target); ok {
			inodes[inode] = struct{}{}
		}
	}

	return inodes, nil
}

func (c *Counter) exists(pid int) bool {
	_, err := os.Stat(filepath.Join(c.root, strconv.Itoa(pid)))
	return err == nil
}

// parseSocketInode parses a descriptor link target of the form socket:[1234].
func parseSocketInode(target string) (uint64, bool) {
	if !strings.HasPrefix(target, "socket:[") || !strings.HasSuffix(target, "]") {
		return 0, false
	}

	inode, err := strconv.ParseUint(target[len("socket:["):len(target)-1], 10, 64)
	if err != nil {
		return 0, false
	}

	return inode, true
}
