package syncer

import (
	"time"

	"github.com/openmined/dirsync/internal/archive"
)

// State is a step of a synchronization run.
type State int

const (
	Idle State = iota
	Fingerprinting
	Comparing
	Unchanged
	Archiving
	RequestingUpload
	Uploading
	Committing
	Done
	Aborted

	// pull run
	RequestingDownload
	Downloading
	Extracting
)

var stateNames = map[State]string{
	Idle:               "idle",
	Fingerprinting:     "fingerprinting",
	Comparing:          "comparing",
	Unchanged:          "unchanged",
	Archiving:          "archiving",
	RequestingUpload:   "requesting-upload",
	Uploading:          "uploading",
	Committing:         "committing",
	Done:               "done",
	Aborted:            "aborted",
	RequestingDownload: "requesting-download",
	Downloading:        "downloading",
	Extracting:         "extracting",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether a run stops in s.
func (s State) Terminal() bool {
	return s == Unchanged || s == Done || s == Aborted
}

// Observer is told about every state transition of a run.
type Observer func(from, to State)

// Result describes one finished run, successful or not.
type Result struct {
	RunID       string
	State       State
	AbortedIn   State // meaningful only when State is Aborted
	Previous    string
	Fingerprint string
	ObjectPath  string
	Archive     *archive.Archive
	Entries     []archive.Entry // members extracted by a pull
	Duration    time.Duration
}

// Changed reports whether the run found the tree different from the last commit.
func (r *Result) Changed() bool {
	return r.Fingerprint != "" && r.Fingerprint != r.Previous
}
