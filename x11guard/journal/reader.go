package journal

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"git.unix.lgbt/diamondburned/x11guard/x11guard"
	"github.com/diamondburned/backwardio"
	"github.com/pkg/errors"
)

// Entry is a single decoded journal line.
type Entry struct {
	Time  time.Time
	Event x11guard.Event
}

// Reader implements a primitive reader that parses journals written by Writer
// from the bottom up, so the newest entry comes first.
type Reader struct {
	b *backwardio.Scanner
}

// NewReader creates a new journal reader.
func NewReader(r io.ReadSeeker) *Reader {
	return &Reader{backwardio.NewScanner(r)}
}

// Read reads a single entry, starting from the bottom of the file. An EOF error
// is returned if the file has been fully consumed.
func (r *Reader) Read() (Entry, error) {
	var line []byte
	var err error

	for {
		line, err = r.b.ReadUntil('\n')
		if err != nil {
			return Entry{}, err
		}
		if len(line) > 0 {
			break
		}
	}

	var rawEvent struct {
		Time time.Time       `json:"time"`
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	if err := json.Unmarshal(line, &rawEvent); err != nil {
		return Entry{}, errors.Wrap(err, "failed to decode JSON")
	}

	event := x11guard.NewEvent(rawEvent.Type)
	if event == nil {
		return Entry{}, errors.Errorf("unknown event %q", rawEvent.Type)
	}

	if err := json.Unmarshal(rawEvent.Data, event); err != nil {
		return Entry{}, errors.Wrap(err, "failed to decode event data")
	}

	return Entry{Time: rawEvent.Time, Event: event}, nil
}

// ReadRecent reads at most n of the newest entries of the journal at path,
// newest first. All entries are read if n is not positive.
func ReadRecent(path string, n int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := NewReader(f)

	var entries []Entry
	for n <= 0 || len(entries) < n {
		entry, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return entries, err
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
