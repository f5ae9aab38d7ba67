package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/openmined/dirsync/internal/syncerr"
)

var ErrNoDestination = errors.New("syncer: pull destination is required")

// Pull downloads the remote object, decrypts it and extracts it into dest.
// It never reads or writes the state store, and downloads beside the push
// archive under a per-run name so a concurrent Push keeps its own file.
func (s *Syncer) Pull(ctx context.Context, dest string) (*Result, error) {
	object := s.config.ObjectPath
	r := s.newRun("pull")
	local := pullArchivePath(s.config.ArchivePath, r.result.RunID)
	r.log.Info("pull", "object", object, "dest", dest)

	if dest == "" {
		return r.abort(ErrNoDestination, syncerr.Filesystem, "pull", dest)
	}

	r.enter(RequestingDownload)
	auth, err := s.transfer.RequestDownloadAuthorization(ctx, object)
	if err != nil {
		return r.abort(err, syncerr.Authorization, "download authorize", object)
	}

	r.enter(Downloading)
	if err := s.transfer.Download(ctx, auth, local); err != nil {
		return r.abort(err, syncerr.Transfer, "download", object)
	}

	r.enter(Extracting)
	entries, err := s.extract(local, s.config.Password, dest)
	s.cleanupArchive(local)
	if err != nil {
		return r.abort(err, syncerr.Archive, "extract", local)
	}
	r.result.Entries = entries

	r.log.Info("pull done", "entries", len(entries), "dest", dest)
	return r.finish(Done)
}

// pullArchivePath turns /x/foo.zip into /x/foo.pull-<id>.zip
func pullArchivePath(archivePath, runID string) string {
	ext := filepath.Ext(archivePath)
	stem := strings.TrimSuffix(archivePath, ext)
	return stem + ".pull-" + runID[:8] + ext
}
