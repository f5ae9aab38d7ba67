package syncer

import (
	"context"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/openmined/dirsync/internal/fingerprint"
	"github.com/openmined/dirsync/internal/syncerr"
)

// Push synchronizes the tracked directory to the remote object when it changed
// since the last commit. The stored fingerprint moves only after the remote
// confirmed the upload; every failure leaves it untouched.
func (s *Syncer) Push(ctx context.Context) (*Result, error) {
	dir := s.config.TrackedDir
	r := s.newRun("push")
	r.log.Info("push", "dir", dir, "object", s.config.ObjectPath)

	unlock, err := s.store.Lock()
	if err != nil {
		return r.abort(err, syncerr.StateStore, "state lock", dir)
	}
	defer func() {
		if err := unlock(); err != nil {
			slog.Warn("push: release state lock", "error", err)
		}
	}()

	if err := s.store.EnsureInitialized(ctx); err != nil {
		return r.abort(err, syncerr.StateStore, "state init", dir)
	}

	r.enter(Fingerprinting)
	current, err := s.fingerprint(dir)
	if err != nil {
		return r.abort(err, syncerr.Filesystem, "fingerprint", dir)
	}
	r.result.Fingerprint = current

	r.enter(Comparing)
	previous, ok, err := s.store.Get(ctx, dir)
	if err != nil {
		return r.abort(err, syncerr.StateStore, "state get", dir)
	}
	if !ok {
		// never synced: always differs from a real fingerprint
		previous = fingerprint.Sentinel
	}
	r.result.Previous = previous

	if previous == current {
		r.log.Info("push unchanged", "fingerprint", current)
		return r.finish(Unchanged)
	}
	r.log.Info("push changed", "previous", previous, "current", current)

	r.enter(Archiving)
	built, err := s.builder.Build(ctx, dir, s.config.Password)
	if err != nil {
		return r.abort(err, syncerr.Archive, "archive build", dir)
	}
	r.result.Archive = built
	r.log.Info("archive built", "path", built.Path, "entries", len(built.Entries), "size", humanize.Bytes(uint64(built.Size)))

	r.enter(RequestingUpload)
	auth, err := s.transfer.RequestUploadAuthorization(ctx, s.config.ObjectPath, true)
	if err != nil {
		s.cleanupArchive(built.Path)
		return r.abort(err, syncerr.Authorization, "upload authorize", s.config.ObjectPath)
	}

	r.enter(Uploading)
	if err := s.transfer.Upload(ctx, auth, built.Path); err != nil {
		s.cleanupArchive(built.Path)
		return r.abort(err, syncerr.Transfer, "upload", s.config.ObjectPath)
	}

	r.enter(Committing)
	if err := s.store.Upsert(ctx, dir, current); err != nil {
		// the remote already has the new object; the next run uploads it again
		s.cleanupArchive(built.Path)
		return r.abort(err, syncerr.StateStore, "state upsert", dir)
	}

	s.cleanupArchive(built.Path)
	r.log.Info("push done", "fingerprint", current)
	return r.finish(Done)
}

// cleanupArchive removes the transient archive. Failures are logged only.
func (s *Syncer) cleanupArchive(path string) {
	if s.config.KeepArchive || path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove archive", "path", path, "error", err)
	}
}
