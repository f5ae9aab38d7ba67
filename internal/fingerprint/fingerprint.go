// Package fingerprint summarizes a directory tree into a single comparable
// "last modified" value.
//
// Only directory modification times are considered. Creating, deleting or
// renaming an entry bumps its parent directory's mtime and therefore changes the
// fingerprint; rewriting an existing file in place does not.
package fingerprint

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/dirsync/internal/syncerr"
)

// Layout is the ctime(3) rendering, e.g. "Tue Jun  3 10:00:00 2025".
const Layout = time.ANSIC

// Sentinel stands for "never synced". It never equals a computed fingerprint.
const Sentinel = ""

var errNoDirectories = errors.New("walk yielded no directories")

// Func computes the fingerprint of a tree. Compute is the production implementation.
type Func func(root string) (string, error)

// Compute walks every directory under root (root included) and renders the latest
// directory mtime in local time.
func Compute(root string) (string, error) {
	latest, err := Latest(root)
	if err != nil {
		return "", err
	}
	return Format(latest), nil
}

// Latest returns the maximum directory mtime under root.
func Latest(root string) (time.Time, error) {
	info, err := os.Stat(root)
	if err != nil {
		return time.Time{}, syncerr.Filesystem("fingerprint", root, err)
	}
	if !info.IsDir() {
		return time.Time{}, syncerr.Filesystem("fingerprint", root, errors.New("not a directory"))
	}

	var latest time.Time
	dirs := 0
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		dinfo, err := d.Info()
		if err != nil {
			return err
		}
		dirs++
		if mt := dinfo.ModTime(); mt.After(latest) {
			latest = mt
		}
		return nil
	})
	if err != nil {
		return time.Time{}, syncerr.Filesystem("fingerprint", root, err)
	}
	if dirs == 0 {
		return time.Time{}, syncerr.Filesystem("fingerprint", root, errNoDirectories)
	}

	return latest, nil
}

// Format renders t the way Compute does.
func Format(t time.Time) string {
	return t.Local().Format(Layout)
}
