package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/dirsync/internal/syncerr"
	"github.com/openmined/dirsync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
	"github.com/yeka/zip"
)

// IgnoreFileName is read from the archived root when present. It uses gitignore syntax
// and is applied on top of the exclude patterns.
const IgnoreFileName = ".dirsyncignore"

// every member, directories included, is AES-256 encrypted
const memberEncryption = zip.AES256Encryption

// Builder packs a directory tree into a single password protected zip at a fixed path.
type Builder struct {
	output   string
	exclude  []string
	progress func(e Entry)
}

type BuilderOption func(*Builder)

// WithExclude drops members whose relative path matches any doublestar pattern.
// An excluded directory prunes its whole subtree.
func WithExclude(patterns ...string) BuilderOption {
	return func(b *Builder) {
		b.exclude = append(b.exclude, patterns...)
	}
}

// WithProgress is called after each member is written.
func WithProgress(fn func(e Entry)) BuilderOption {
	return func(b *Builder) {
		b.progress = fn
	}
}

func NewBuilder(outputPath string, opts ...BuilderOption) *Builder {
	b := &Builder{
		output: outputPath,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ValidateExclude checks every pattern is well formed.
func ValidateExclude(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("archive: invalid exclude pattern %q", p)
		}
	}
	return nil
}

// Build walks root and writes every directory and file into the container.
// The container is written next to its final path and renamed into place only
// once it has been finalized, so a failed build never leaves a usable archive.
func (b *Builder) Build(ctx context.Context, root string, password string) (*Archive, error) {
	if password == "" {
		return nil, syncerr.Archive("archive build", b.output, ErrEmptyPassword)
	}
	if err := ValidateExclude(b.exclude); err != nil {
		return nil, syncerr.Archive("archive build", b.output, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, syncerr.Filesystem("archive build", root, err)
	}
	if !info.IsDir() {
		return nil, syncerr.Filesystem("archive build", root, errors.New("not a directory"))
	}

	if err := utils.EnsureParent(b.output); err != nil {
		return nil, syncerr.Archive("archive build", b.output, err)
	}

	partPath := b.output + partSuffix
	file, err := os.Create(partPath)
	if err != nil {
		return nil, syncerr.Archive("archive build", partPath, err)
	}

	ignore, err := loadIgnoreFile(root)
	if err != nil {
		file.Close()
		os.Remove(partPath)
		return nil, err
	}

	w := &treeWriter{
		ctx:      ctx,
		builder:  b,
		root:     root,
		password: password,
		zw:       zip.NewWriter(file),
		skip:     map[string]bool{b.output: true, partPath: true},
		ignore:   ignore,
	}

	entries, err := w.write()
	if err == nil {
		if cerr := w.zw.Close(); cerr != nil {
			err = syncerr.Archive("archive finalize", partPath, cerr)
		}
	}
	if cerr := file.Close(); cerr != nil && err == nil {
		err = syncerr.Archive("archive finalize", partPath, cerr)
	}
	if err != nil {
		if rerr := os.Remove(partPath); rerr != nil && !os.IsNotExist(rerr) {
			slog.Warn("archive: remove partial container", "path", partPath, "error", rerr)
		}
		return nil, err
	}

	if err := os.Rename(partPath, b.output); err != nil {
		os.Remove(partPath)
		return nil, syncerr.Archive("archive finalize", b.output, err)
	}

	stat, err := os.Stat(b.output)
	if err != nil {
		return nil, syncerr.Archive("archive finalize", b.output, err)
	}

	return &Archive{
		Path:    b.output,
		Root:    root,
		Entries: entries,
		Size:    stat.Size(),
	}, nil
}

type treeWriter struct {
	ctx      context.Context
	builder  *Builder
	root     string
	password string
	zw       *zip.Writer
	skip     map[string]bool
	ignore   *gitignore.GitIgnore
	entries  []Entry
}

func loadIgnoreFile(root string) (*gitignore.GitIgnore, error) {
	ignorePath := filepath.Join(root, IgnoreFileName)
	if !utils.FileExists(ignorePath) {
		return nil, nil
	}
	ignore, err := gitignore.CompileIgnoreFile(ignorePath)
	if err != nil {
		return nil, syncerr.Filesystem("archive ignore file", ignorePath, err)
	}
	slog.Debug("archive: loaded ignore file", "path", ignorePath)
	return ignore, nil
}

func (w *treeWriter) write() ([]Entry, error) {
	if err := w.walk(w.root, ""); err != nil {
		return nil, err
	}
	if len(w.entries) == 0 {
		// an empty tree still needs a member the password can be checked against
		if err := w.addDir(w.root, rootName); err != nil {
			return nil, err
		}
	}
	return w.entries, nil
}

// walk writes dir's subdirectories (recursively, pre-order) before its files.
func (w *treeWriter) walk(dir string, rel string) error {
	if err := w.ctx.Err(); err != nil {
		return syncerr.Archive("archive build", dir, err)
	}

	list, err := os.ReadDir(dir)
	if err != nil {
		return syncerr.Filesystem("archive read dir", dir, err)
	}

	var files []fs.DirEntry
	for _, de := range list {
		abs := filepath.Join(dir, de.Name())
		name := path.Join(rel, de.Name())
		if w.skip[abs] || w.excluded(name) {
			continue
		}

		isDir, err := w.resolveDir(abs, de)
		if err != nil {
			return err
		}
		if w.ignored(name, isDir) {
			continue
		}
		if !isDir {
			files = append(files, de)
			continue
		}
		if de.Type()&fs.ModeSymlink != 0 {
			slog.Warn("archive: skipping symlinked directory", "path", abs)
			continue
		}

		if err := w.addDir(abs, name); err != nil {
			return err
		}
		if err := w.walk(abs, name); err != nil {
			return err
		}
	}

	for _, de := range files {
		abs := filepath.Join(dir, de.Name())
		if err := w.addFile(abs, path.Join(rel, de.Name())); err != nil {
			return err
		}
	}

	return nil
}

func (w *treeWriter) excluded(name string) bool {
	for _, pattern := range w.builder.exclude {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// ignored matches name against the root's ignore file. Directories are matched
// with a trailing slash so "logs/" style rules apply to them only.
func (w *treeWriter) ignored(name string, isDir bool) bool {
	if w.ignore == nil {
		return false
	}
	if isDir {
		return w.ignore.MatchesPath(name + dirSuffix)
	}
	return w.ignore.MatchesPath(name)
}

// resolveDir follows symlinks so a link to a directory is not archived as a file.
func (w *treeWriter) resolveDir(abs string, de fs.DirEntry) (bool, error) {
	if de.Type()&fs.ModeSymlink == 0 {
		return de.IsDir(), nil
	}
	info, err := os.Stat(abs)
	if err != nil {
		return false, syncerr.Filesystem("archive stat", abs, err)
	}
	return info.IsDir(), nil
}

// addDir writes a zero-length directory member. It is encrypted like the files
// so every member carries the password verifier.
func (w *treeWriter) addDir(abs, name string) error {
	fh := &zip.FileHeader{
		Name:   name + dirSuffix,
		Method: zip.Deflate,
	}
	if abs != "" {
		if info, err := os.Stat(abs); err == nil {
			fh.SetModTime(info.ModTime())
		}
	}
	fh.SetPassword(w.password)
	fh.SetEncryptionMethod(memberEncryption)
	if _, err := w.zw.CreateHeader(fh); err != nil {
		return syncerr.Archive("archive write", name, err)
	}
	w.record(Entry{SourcePath: abs, Name: name + dirSuffix, IsDir: true})
	return nil
}

func (w *treeWriter) addFile(abs, name string) error {
	src, err := os.Open(abs)
	if err != nil {
		return syncerr.Filesystem("archive open", abs, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return syncerr.Filesystem("archive stat", abs, err)
	}
	if !info.Mode().IsRegular() {
		slog.Warn("archive: skipping special file", "path", abs, "mode", info.Mode().String())
		return nil
	}

	dst, err := w.zw.Encrypt(name, w.password, memberEncryption)
	if err != nil {
		return syncerr.Archive("archive write", name, err)
	}

	n, err := io.Copy(dst, src)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return syncerr.Filesystem("archive read", abs, err)
		}
		return syncerr.Archive("archive write", name, err)
	}

	w.record(Entry{SourcePath: abs, Name: name, Size: n})
	return nil
}

func (w *treeWriter) record(e Entry) {
	w.entries = append(w.entries, e)
	if w.builder.progress != nil {
		w.builder.progress(e)
	}
}
