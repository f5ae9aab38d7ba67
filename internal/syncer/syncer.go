// Package syncer drives a synchronization run: fingerprint the tracked
// directory, compare against the last commit, archive, upload, and only then
// record the new fingerprint.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/dirsync/internal/archive"
	"github.com/openmined/dirsync/internal/config"
	"github.com/openmined/dirsync/internal/fingerprint"
	"github.com/openmined/dirsync/internal/state"
	"github.com/openmined/dirsync/internal/syncerr"
	"github.com/openmined/dirsync/internal/transfer"
)

type StateStore interface {
	EnsureInitialized(ctx context.Context) error
	Get(ctx context.Context, path string) (string, bool, error)
	Upsert(ctx context.Context, path string, fingerprint string) error
	Lock() (unlock func() error, err error)
}

type ArchiveBuilder interface {
	Build(ctx context.Context, root string, password string) (*archive.Archive, error)
}

type Transfer interface {
	RequestUploadAuthorization(ctx context.Context, objectPath string, overwrite bool) (*transfer.Authorization, error)
	Upload(ctx context.Context, auth *transfer.Authorization, localPath string) error
	RequestDownloadAuthorization(ctx context.Context, objectPath string) (*transfer.Authorization, error)
	Download(ctx context.Context, auth *transfer.Authorization, destPath string) error
}

// ExtractFunc unpacks an archive into a directory.
type ExtractFunc func(archivePath, password, dst string) ([]archive.Entry, error)

// Deps are the collaborators of a Syncer. Fingerprint and Extract default to
// the real implementations when nil.
type Deps struct {
	Store       StateStore
	Builder     ArchiveBuilder
	Transfer    Transfer
	Fingerprint fingerprint.Func
	Extract     ExtractFunc
}

type Option func(*Syncer)

// WithObserver registers fn to be called on every state transition.
func WithObserver(fn Observer) Option {
	return func(s *Syncer) {
		s.observers = append(s.observers, fn)
	}
}

type Syncer struct {
	config      *config.Config
	store       StateStore
	builder     ArchiveBuilder
	transfer    Transfer
	fingerprint fingerprint.Func
	extract     ExtractFunc
	observers   []Observer
}

func New(cfg *config.Config, deps Deps, opts ...Option) (*Syncer, error) {
	if cfg == nil {
		return nil, errors.New("syncer: config is nil")
	}
	if deps.Store == nil || deps.Builder == nil || deps.Transfer == nil {
		return nil, errors.New("syncer: store, builder and transfer are required")
	}

	s := &Syncer{
		config:      cfg,
		store:       deps.Store,
		builder:     deps.Builder,
		transfer:    deps.Transfer,
		fingerprint: deps.Fingerprint,
		extract:     deps.Extract,
	}
	if s.fingerprint == nil {
		s.fingerprint = fingerprint.Compute
	}
	if s.extract == nil {
		s.extract = archive.Extract
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open wires the real collaborators from a validated config. The returned
// close func releases the state store.
func Open(ctx context.Context, cfg *config.Config, progress transfer.ProgressFunc, opts ...Option) (*Syncer, func() error, error) {
	authorizer, err := newAuthorizer(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	store, err := state.Open(cfg.StateDBPath)
	if err != nil {
		return nil, nil, err
	}

	var transferOpts []transfer.Option
	if progress != nil {
		transferOpts = append(transferOpts, transfer.WithProgress(progress))
	}

	s, err := New(cfg, Deps{
		Store:    store,
		Builder:  archive.NewBuilder(cfg.ArchivePath, archive.WithExclude(cfg.Exclude...)),
		Transfer: transfer.New(authorizer, transferOpts...),
	}, opts...)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return s, store.Close, nil
}

func newAuthorizer(ctx context.Context, cfg *config.Config) (transfer.Authorizer, error) {
	switch cfg.Backend {
	case config.BackendS3:
		return transfer.NewS3Authorizer(ctx, cfg.S3AuthConfig())
	case config.BackendAPI, "":
		return transfer.NewAPIAuthorizer(cfg.APIConfig())
	default:
		return nil, fmt.Errorf("%w %q", config.ErrBadBackend, cfg.Backend)
	}
}

// run tracks the state of one Push or Pull
type run struct {
	syncer  *Syncer
	result  *Result
	started time.Time
	log     *slog.Logger
}

func (s *Syncer) newRun(kind string) *run {
	id := uuid.NewString()
	return &run{
		syncer: s,
		result: &Result{
			RunID:      id,
			State:      Idle,
			ObjectPath: s.config.ObjectPath,
		},
		started: time.Now(),
		log:     slog.With("run", id[:8], "kind", kind),
	}
}

func (r *run) enter(to State) {
	from := r.result.State
	r.result.State = to
	r.log.Debug("state", "from", from, "to", to)
	for _, fn := range r.syncer.observers {
		fn(from, to)
	}
}

// abort ends the run in Aborted. Errors without a kind are tagged with fallback.
func (r *run) abort(err error, fallback func(op, path string, err error) error, op, path string) (*Result, error) {
	if !syncerr.Tagged(err) {
		err = fallback(op, path, err)
	}
	r.result.AbortedIn = r.result.State
	r.enter(Aborted)
	r.result.Duration = time.Since(r.started)
	r.log.Error("run aborted", "in", r.result.AbortedIn, "error", err)
	return r.result, err
}

func (r *run) finish(final State) (*Result, error) {
	r.enter(final)
	r.result.Duration = time.Since(r.started)
	return r.result, nil
}
