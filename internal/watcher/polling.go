package watcher

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"time"
)

// poller detects changes by comparing successive directory scans.
type poller struct {
	root  string
	opts  Options
	state map[string]fileStamp
}

type fileStamp struct {
	mod  time.Time
	size int64
}

func newPoller(root string, opts Options) *poller {
	return &poller{root: root, opts: opts, state: make(map[string]fileStamp)}
}

// scan walks the tree and calls emit for every difference from the previous
// scan. emit may be nil to only record a baseline.
func (p *poller) scan(emit func(Event)) error {
	now := time.Now()
	current := make(map[string]fileStamp, len(p.state))

	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, rerr := filepath.Rel(p.root, path)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if skipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !p.opts.wants(rel) {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		stamp := fileStamp{mod: info.ModTime(), size: info.Size()}
		current[rel] = stamp

		if emit == nil {
			return nil
		}
		prev, seen := p.state[rel]
		switch {
		case !seen:
			emit(Event{Path: rel, Op: OpCreate, Timestamp: now})
		case prev != stamp:
			emit(Event{Path: rel, Op: OpModify, Timestamp: now})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", p.root, err)
	}

	if emit != nil {
		for rel := range p.state {
			if _, ok := current[rel]; !ok {
				emit(Event{Path: rel, Op: OpDelete, Timestamp: now})
			}
		}
	}
	p.state = current
	return nil
}
