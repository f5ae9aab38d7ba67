package archive

import (
	"errors"
)

const (
	partSuffix = ".part"
	dirSuffix  = "/"
	// rootName + dirSuffix is the single member of an archive built from an empty tree
	rootName = "."
)

var (
	ErrEmptyPassword = errors.New("archive: empty password")
	ErrUnsafeName    = errors.New("archive: unsafe member name")
	ErrNotEncrypted  = errors.New("archive: no encrypted member to check the password against")
)

// Entry is one member of an archive, in walk order.
type Entry struct {
	SourcePath string // absolute source path; empty for entries read back from an archive
	Name       string // slash separated path relative to the archived root; directories end with "/"
	IsDir      bool
	Size       int64
}

// Archive is the result of a successful Build.
type Archive struct {
	Path    string
	Root    string
	Entries []Entry
	Size    int64 // size of the container file
}

// Files returns the number of non-directory entries.
func (a *Archive) Files() int {
	n := 0
	for _, e := range a.Entries {
		if !e.IsDir {
			n++
		}
	}
	return n
}
