// Package prefetch implements the PrefetchPlanner of spec §4.5: it watches
// UI-visible state transitions and injects low-priority Requests into an
// ImapWorker, deduplicating against what it has already asked for.
package prefetch

import (
	"strconv"
	"sync"

	"github.com/dusong7/nmail-go/internal/imapworker"
)

// Level selects how aggressively the planner prefetches.
type Level int

const (
	LevelNone Level = iota
	LevelCurrentMessage
	LevelCurrentView
	LevelFullSync
)

// Submitter is the subset of imapworker.Worker the planner drives.
type Submitter interface {
	Submit(imapworker.Request)
	BumpGeneration() uint64
}

// State is a snapshot of what the UI is currently showing. The caller
// constructs one on every state transition (folder change, selection
// change, view-list change) and hands it to Planner.OnStateChange.
type State struct {
	Folder       string
	Folders      []string // all known folders, used only at LevelFullSync
	VisibleUIDs  []uint32 // UIDs currently rendered in the message list
	SelectedUID  uint32   // 0 if nothing selected
	DateOrdered  []uint32 // all UIDs in the folder, date-descending, for FullSync body prefetch
}

// Planner tracks what it has already requested for the current folder so it
// does not re-queue the same header or body fetch. It does not consult the
// cache; the tracking sets are cleared whenever the folder changes.
type Planner struct {
	worker Submitter
	level  Level

	mu               sync.Mutex
	requestedHeaders map[string]struct{} // folder|uid
	requestedBodies  map[string]struct{} // folder|uid
	lastFolder       string
	lastOnline       bool
}

// New constructs a Planner at the given level.
func New(worker Submitter, level Level) *Planner {
	return &Planner{
		worker:           worker,
		level:            level,
		requestedHeaders: make(map[string]struct{}),
		requestedBodies:  make(map[string]struct{}),
		lastOnline:       true,
	}
}

// SetLevel changes the active prefetch level; takes effect on the next
// OnStateChange.
func (p *Planner) SetLevel(level Level) {
	p.mu.Lock()
	p.level = level
	p.mu.Unlock()
}

// SetOnline bumps the generation (invalidating in-flight prefetch) when
// the online/offline mode flips, per spec §4.5.
func (p *Planner) SetOnline(online bool) {
	p.mu.Lock()
	changed := online != p.lastOnline
	p.lastOnline = online
	p.mu.Unlock()
	if changed {
		p.worker.BumpGeneration()
	}
}

func key(folder string, uid uint32) string {
	return folder + "|" + strconv.FormatUint(uint64(uid), 10)
}

// OnStateChange evaluates the configured level against s and submits any
// newly-needed Requests. A folder change bumps the generation so
// previously queued, now-irrelevant Prefetch entries are dropped by the
// worker at dequeue time.
func (p *Planner) OnStateChange(s State) {
	p.mu.Lock()
	level := p.level
	folderChanged := s.Folder != p.lastFolder
	p.lastFolder = s.Folder
	p.mu.Unlock()

	if folderChanged {
		p.worker.BumpGeneration()
		p.mu.Lock()
		p.requestedHeaders = make(map[string]struct{})
		p.requestedBodies = make(map[string]struct{})
		p.mu.Unlock()
	}

	switch level {
	case LevelNone:
		return
	case LevelCurrentMessage:
		p.prefetchBody(s.Folder, s.SelectedUID)
	case LevelCurrentView:
		p.prefetchHeaders(s.Folder, s.VisibleUIDs)
		p.prefetchBody(s.Folder, s.SelectedUID)
	case LevelFullSync:
		p.prefetchAllFolders(s.Folders)
		p.prefetchHeaders(s.Folder, s.VisibleUIDs)
		p.prefetchBodiesInOrder(s.Folder, s.DateOrdered)
		p.prefetchBody(s.Folder, s.SelectedUID)
	}
}

func (p *Planner) prefetchAllFolders(folders []string) {
	for _, f := range folders {
		p.worker.Submit(imapworker.Request{Kind: imapworker.ListUids, Folder: f, Priority: imapworker.Prefetch})
	}
}

func (p *Planner) prefetchHeaders(folder string, uids []uint32) {
	if folder == "" || len(uids) == 0 {
		return
	}
	var need []uint32
	p.mu.Lock()
	for _, uid := range uids {
		k := key(folder, uid)
		if _, ok := p.requestedHeaders[k]; ok {
			continue
		}
		p.requestedHeaders[k] = struct{}{}
		need = append(need, uid)
	}
	p.mu.Unlock()
	if len(need) == 0 {
		return
	}
	p.worker.Submit(imapworker.Request{Kind: imapworker.FetchHeaders, Folder: folder, UIDs: need, Priority: imapworker.Prefetch})
}

func (p *Planner) prefetchBody(folder string, uid uint32) {
	if folder == "" || uid == 0 {
		return
	}
	k := key(folder, uid)
	p.mu.Lock()
	if _, ok := p.requestedBodies[k]; ok {
		p.mu.Unlock()
		return
	}
	p.requestedBodies[k] = struct{}{}
	p.mu.Unlock()
	p.worker.Submit(imapworker.Request{Kind: imapworker.FetchBody, Folder: folder, UIDs: []uint32{uid}, Priority: imapworker.Prefetch})
}

func (p *Planner) prefetchBodiesInOrder(folder string, uids []uint32) {
	for _, uid := range uids {
		p.prefetchBody(folder, uid)
	}
}
