package archive

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/openmined/dirsync/internal/syncerr"
	"github.com/openmined/dirsync/internal/utils"
	"github.com/yeka/zip"
)

// List returns the members of the archive. When password is set, it is checked
// against the first encrypted member so a wrong password fails fast.
func List(archivePath string, password string) ([]Entry, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, openError(archivePath, err)
	}
	defer r.Close()

	entries := make([]Entry, 0, len(r.File))
	verified := password == ""
	for _, f := range r.File {
		if !verified && f.IsEncrypted() {
			if err := verifyPassword(f, password); err != nil {
				return nil, err
			}
			verified = true
		}
		entries = append(entries, entryOf(f))
	}
	if !verified && len(r.File) > 0 {
		return nil, syncerr.Archive("archive list", archivePath, ErrNotEncrypted)
	}

	return entries, nil
}

// Extract decrypts every member into dst. Members are first extracted into a
// staging directory beside dst; dst is only touched once all of them decrypted
// and authenticated, so a wrong password never leaves partial output behind.
// An archive without members is an empty tree: dst is created and left empty.
func Extract(archivePath string, password string, dst string) ([]Entry, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, openError(archivePath, err)
	}
	defer r.Close()

	if password != "" && len(r.File) > 0 && !anyEncrypted(r.File) {
		return nil, syncerr.Archive("archive extract", archivePath, ErrNotEncrypted)
	}

	if err := utils.EnsureParent(dst); err != nil {
		return nil, syncerr.Filesystem("archive extract", dst, err)
	}
	staging, err := os.MkdirTemp(filepath.Dir(dst), ".dirsync-extract-*")
	if err != nil {
		return nil, syncerr.Filesystem("archive extract", dst, err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			slog.Warn("archive: remove staging dir", "path", staging, "error", err)
		}
	}()

	entries := make([]Entry, 0, len(r.File))
	for _, f := range r.File {
		if err := extractMember(f, password, staging); err != nil {
			return nil, err
		}
		entries = append(entries, entryOf(f))
	}

	if err := promote(staging, dst); err != nil {
		return nil, err
	}

	return entries, nil
}

func extractMember(f *zip.File, password string, staging string) error {
	name := strings.TrimSuffix(f.Name, dirSuffix)
	clean := filepath.ToSlash(filepath.Clean(name))
	if name == "" || filepath.IsAbs(name) || clean == ".." || strings.HasPrefix(clean, "../") {
		return syncerr.Archive("archive extract", f.Name, ErrUnsafeName)
	}
	target, err := securejoin.SecureJoin(staging, name)
	if err != nil {
		return syncerr.Archive("archive extract", f.Name, fmt.Errorf("%w: %w", ErrUnsafeName, err))
	}

	if f.FileInfo().IsDir() {
		if f.IsEncrypted() {
			if err := verifyPassword(f, password); err != nil {
				return err
			}
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return syncerr.Filesystem("archive extract", target, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return syncerr.Filesystem("archive extract", target, err)
	}

	if f.IsEncrypted() {
		f.SetPassword(password)
	}
	rc, err := f.Open()
	if err != nil {
		return syncerr.Archive("archive decrypt", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return syncerr.Filesystem("archive extract", target, err)
	}

	// the authentication code is only checked once the member is fully read
	_, err = io.Copy(out, rc)
	if cerr := out.Close(); cerr != nil && err == nil {
		return syncerr.Filesystem("archive extract", target, cerr)
	}
	if err != nil {
		return syncerr.Archive("archive decrypt", f.Name, err)
	}
	return nil
}

// promote moves the staged tree into dst, replacing files of the same name.
func promote(staging, dst string) error {
	return filepath.Walk(staging, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return syncerr.Filesystem("archive promote", path, err)
		}

		rel, err := filepath.Rel(staging, path)
		if err != nil {
			return syncerr.Filesystem("archive promote", path, err)
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return syncerr.Filesystem("archive promote", target, err)
			}
			return nil
		}

		if existing, err := os.Lstat(target); err == nil && existing.IsDir() {
			return syncerr.Filesystem("archive promote", target, fmt.Errorf("directory in the way of file"))
		}
		if err := os.Rename(path, target); err != nil {
			return syncerr.Filesystem("archive promote", target, err)
		}
		return nil
	})
}

func anyEncrypted(files []*zip.File) bool {
	for _, f := range files {
		if f.IsEncrypted() {
			return true
		}
	}
	return false
}

func verifyPassword(f *zip.File, password string) error {
	f.SetPassword(password)
	rc, err := f.Open()
	if err != nil {
		return syncerr.Archive("archive verify", f.Name, err)
	}
	defer rc.Close()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return syncerr.Archive("archive verify", f.Name, err)
	}
	return nil
}

func openError(archivePath string, err error) error {
	if os.IsNotExist(err) {
		return syncerr.Filesystem("archive open", archivePath, err)
	}
	return syncerr.Archive("archive open", archivePath, err)
}

func entryOf(f *zip.File) Entry {
	return Entry{
		Name:  f.Name,
		IsDir: f.FileInfo().IsDir(),
		Size:  int64(f.UncompressedSize64),
	}
}
