// Package artifacts implements the inference-artifact ingestion side
// of the orchestrator: an HTTP webserver devices PUT images and
// inference results to, a FIFO that pairs the two sides of each
// capture by timestamp stem, an in-memory preview buffer, and a
// storage watcher enforcing per-device disk quotas.
package artifacts

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Group is one capture's paired files, keyed by extension (without
// the dot). A side missing at eviction time stays absent from Files.
type Group struct {
	Stem    string
	Files   map[string]string // ext -> absolute path
	Evicted bool
}

// Path returns the file registered under ext, or "" if that side
// never arrived.
func (g Group) Path(ext string) string { return g.Files[ext] }

// complete reports whether every expected extension is present.
func (g Group) complete(exts []string) bool {
	for _, ext := range exts {
		if _, ok := g.Files[ext]; !ok {
			return false
		}
	}
	return true
}

// FileGroupingError reports a file registered under a folder the
// grouping was never configured for.
type FileGroupingError struct {
	Path   string
	Parent string
}

func (e *FileGroupingError) Error() string {
	return "file " + e.Path + " arrived under unknown folder " + e.Parent
}

// defaultRetention is how long an incomplete group may wait for its
// missing side before being evicted.
const defaultRetention = 30 * time.Second

// Grouping pairs files arriving in sibling folders by their shared
// name stem (the capture timestamp). Groups are emitted to onGroup in
// first-arrival order: a completed group waits behind older
// incomplete ones until they complete or evict, so consumers observe
// captures in capture order.
type Grouping struct {
	parents   map[string]struct{}
	exts      []string
	retention time.Duration
	onGroup   func(Group)
	log       *logrus.Entry

	mu      sync.Mutex
	order   []string // stems in first-arrival order
	pending map[string]*pendingGroup
	evicted int
}

type pendingGroup struct {
	group    Group
	deadline time.Time
}

// NewGrouping builds a Grouping over the named parent folders (e.g.
// "Images", "Metadata") expecting one file per extension in exts for
// each stem. retention <= 0 selects the default window. onGroup runs
// on whichever goroutine completes or evicts a group.
func NewGrouping(parents []string, exts []string, retention time.Duration, onGroup func(Group), log *logrus.Logger) *Grouping {
	if retention <= 0 {
		retention = defaultRetention
	}
	if log == nil {
		log = logrus.New()
	}
	g := &Grouping{
		parents:   make(map[string]struct{}, len(parents)),
		exts:      exts,
		retention: retention,
		onGroup:   onGroup,
		log:       log.WithField("component", "artifacts.grouping"),
		pending:   make(map[string]*pendingGroup),
	}
	for _, p := range parents {
		g.parents[p] = struct{}{}
	}
	return g
}

// Register records an arrived file under its parent folder's name and
// stem, emitting any groups that became ready. The path must be at
// least two segments deep (parent/file).
func (g *Grouping) Register(path string) error {
	parent := filepath.Base(filepath.Dir(path))
	if _, ok := g.parents[parent]; !ok {
		return &FileGroupingError{Path: path, Parent: parent}
	}

	name := filepath.Base(path)
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	g.mu.Lock()
	p, ok := g.pending[stem]
	if !ok {
		p = &pendingGroup{
			group:    Group{Stem: stem, Files: make(map[string]string)},
			deadline: time.Now().Add(g.retention),
		}
		g.pending[stem] = p
		g.order = append(g.order, stem)
	}
	p.group.Files[ext] = path
	ready := g.drainLocked(time.Now())
	g.mu.Unlock()

	g.emit(ready)
	return nil
}

// Sweep evicts groups whose retention window has passed, emitting
// them with their missing sides absent. Call it periodically; it is
// what unblocks younger completed groups stuck behind an abandoned
// older one.
func (g *Grouping) Sweep() {
	g.mu.Lock()
	ready := g.drainLocked(time.Now())
	g.mu.Unlock()

	g.emit(ready)
}

// drainLocked pops groups off the head of the FIFO while the head is
// either complete or past its deadline. Caller holds g.mu.
func (g *Grouping) drainLocked(now time.Time) []Group {
	var ready []Group
	for len(g.order) > 0 {
		stem := g.order[0]
		p := g.pending[stem]

		switch {
		case p.group.complete(g.exts):
		case !now.Before(p.deadline):
			p.group.Evicted = true
		default:
			return ready
		}

		if p.group.Evicted {
			g.evicted++
		}
		ready = append(ready, p.group)
		g.order = g.order[1:]
		delete(g.pending, stem)
	}
	return ready
}

func (g *Grouping) emit(groups []Group) {
	for _, grp := range groups {
		if grp.Evicted {
			g.log.WithField("stem", grp.Stem).Warn("artifact group evicted before completing")
		}
		if g.onGroup != nil {
			g.onGroup(grp)
		}
	}
}

// EvictedCount reports how many groups have been evicted incomplete.
func (g *Grouping) EvictedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.evicted
}

// PendingCount reports how many stems are still waiting for a side.
func (g *Grouping) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
