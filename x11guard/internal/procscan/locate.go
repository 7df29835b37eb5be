// Package procscan reads process, descriptor and socket tables from the proc
// filesystem to locate the target process and count its display connections.
package procscan

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

// DefaultRoot is the usual mount point of the proc filesystem.
const DefaultRoot = procfs.DefaultMountPoint

// commLen is the longest name the kernel keeps in /proc/<pid>/comm.
const commLen = 15

// ErrProcessGone is returned when a process disappears between being located
// and being measured.
var ErrProcessGone = errors.New("process is gone")

// Locator finds processes by name.
type Locator struct {
	fs   procfs.FS
	self int
}

// NewLocator creates a locator over the proc filesystem mounted at root.
func NewLocator(root string) (*Locator, error) {
	fs, err := procfs.NewFS(root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open proc filesystem")
	}

	return &Locator{fs: fs, self: os.Getpid()}, nil
}

// Check reads the process table once, failing if it cannot be read at all.
func (l *Locator) Check() error {
	if _, err := l.fs.AllProcs(); err != nil {
		return errors.Wrap(err, "failed to read process table")
	}
	return nil
}

// Resolve returns the PID of the process with the given name. A process whose
// comm matches exactly is preferred; otherwise the kernel-truncated comm or the
// executable basename is matched. If several processes match, the root of the
// matching process tree is returned, oldest first. found is false if nothing
// matches; an error is only returned if the process table cannot be read.
func (l *Locator) Resolve(name string) (pid int, found bool, err error) {
	procs, err := l.fs.AllProcs()
	if err != nil {
		return 0, false, errors.Wrap(err, "failed to read process table")
	}

	var exact, truncated procfs.Procs
	comms := make(map[int]string, len(procs))

	for _, p := range procs {
		if p.PID == l.self {
			continue
		}

		comm, err := p.Comm()
		if err != nil {
			// Exited while scanning.
			continue
		}
		comms[p.PID] = comm

		switch {
		case comm == name:
			exact = append(exact, p)
		case len(name) > commLen && comm == name[:commLen]:
			truncated = append(truncated, p)
		}
	}

	matches := exact
	if len(matches) == 0 {
		matches = truncated
	}

	if len(matches) == 0 {
		for _, p := range procs {
			if _, ok := comms[p.PID]; !ok {
				continue
			}

			exe, err := p.Executable()
			if err != nil || exe == "" {
				continue
			}

			if filepath.Base(exe) == name {
				matches = append(matches, p)
			}
		}
	}

	if len(matches) == 0 {
		return 0, false, nil
	}

	return pickRoot(matches)
}

type match struct {
	pid   int
	ppid  int
	start uint64
}

// pickRoot returns the oldest match whose parent is not itself a match.
func pickRoot(procs procfs.Procs) (int, bool, error) {
	matches := make([]match, 0, len(procs))
	pids := make(map[int]struct{}, len(procs))

	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil {
			continue
		}

		matches = append(matches, match{p.PID, stat.PPID, stat.Starttime})
		pids[p.PID] = struct{}{}
	}

	if len(matches) == 0 {
		return 0, false, nil
	}

	roots := matches[:0:0]
	for _, m := range matches {
		if _, ok := pids[m.ppid]; !ok {
			roots = append(roots, m)
		}
	}

	if len(roots) == 0 {
		roots = matches
	}

	sort.Slice(roots, func(i, j int) bool {
		if roots[i].start != roots[j].start {
			return roots[i].start < roots[j].start
		}
		return roots[i].pid < roots[j].pid
	})

	return roots[0].pid, true, nil
}
