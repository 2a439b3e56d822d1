package plan

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind describes the type of step file change detected.
type ChangeKind int

const (
	ChangeModified ChangeKind = iota // step .md file edited
	ChangeRemoved                    // step .md file deleted
	ChangeAdded                      // new .md file appeared
)

// Change represents a detected step file change in the plan directory.
type Change struct {
	Kind ChangeKind
	File string // absolute path
}

// Intervention is a control request signaled through marker files in the
// plan directory: STOP for a graceful stop, PAUSE/resume for dispatch
// control.
type Intervention int

const (
	InterventionStop Intervention = iota
	InterventionPause
	InterventionResume
)

// Marker file names recognized in the plan directory.
const (
	StopFile  = "STOP"
	PauseFile = "PAUSE"
)

// Watcher monitors a plan directory for step file changes and intervention
// markers using fsnotify. Step file events are debounced; interventions
// are forwarded immediately.
type Watcher struct {
	Dir           string
	Changes       <-chan Change       // read-only external channel
	Interventions <-chan Intervention // read-only external channel

	changes       chan Change
	interventions chan Intervention
	done          chan struct{}
	watcher       *fsnotify.Watcher
}

// NewWatcher creates a new watcher for the given plan directory.
func NewWatcher(dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ch := make(chan Change, 16)
	ich := make(chan Intervention, 16)
	w := &Watcher{
		Dir:           dir,
		Changes:       ch,
		Interventions: ich,
		changes:       ch,
		interventions: ich,
		done:          make(chan struct{}),
		watcher:       fw,
	}
	return w, nil
}

// Start begins watching the plan directory for changes.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.Dir); err != nil {
		return err
	}
	go w.loop()
	return nil
}

// Stop closes the watcher and channels.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done // wait for loop to exit
	close(w.changes)
	close(w.interventions)
}

func (w *Watcher) loop() {
	defer close(w.done)

	// Debounce: track last event time and kind per step file.
	const debounce = 100 * time.Millisecond
	type pendingChange struct {
		at   time.Time
		kind ChangeKind
	}
	pending := make(map[string]pendingChange)
	ticker := time.NewTicker(debounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				for file, p := range pending {
					w.changes <- Change{Kind: p.kind, File: file}
				}
				return
			}

			if iv, ok := w.interventionFor(event); ok {
				w.interventions <- iv
				continue
			}

			if !IsStepFile(event.Name) {
				continue
			}

			switch {
			case event.Has(fsnotify.Create):
				pending[event.Name] = pendingChange{at: time.Now(), kind: ChangeAdded}
			case event.Has(fsnotify.Write):
				p, seen := pending[event.Name]
				// A write right after create is still an add.
				if seen && p.kind == ChangeAdded {
					pending[event.Name] = pendingChange{at: time.Now(), kind: ChangeAdded}
				} else {
					pending[event.Name] = pendingChange{at: time.Now(), kind: ChangeModified}
				}
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				pending[event.Name] = pendingChange{at: time.Now(), kind: ChangeRemoved}
			}

		case _, ok := <-ticker.C:
			if !ok {
				return
			}
			now := time.Now()
			for file, p := range pending {
				if now.Sub(p.at) >= debounce {
					w.changes <- Change{Kind: p.kind, File: file}
					delete(pending, file)
				}
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are non-fatal.
		}
	}
}

// interventionFor maps marker file events to interventions.
func (w *Watcher) interventionFor(event fsnotify.Event) (Intervention, bool) {
	base := filepath.Base(event.Name)
	switch base {
	case StopFile:
		if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
			return InterventionStop, true
		}
	case PauseFile:
		if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
			return InterventionPause, true
		}
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			return InterventionResume, true
		}
	}
	return 0, false
}
