package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imamik/osbastion/internal/bastion"
)

// Mirror keeps a remote copy of the ledger.
type Mirror interface {
	Upload(ctx context.Context, data []byte) error
	// Download returns an error wrapping bastion.ErrNotFound when no copy exists.
	Download(ctx context.Context) ([]byte, error)
	Location() string
}

// Ledger is an open, locked ledger file.
type Ledger struct {
	path   string
	mirror Mirror
	now    func() time.Time

	mu     sync.Mutex
	doc    Document
	lock   *fileLock
	closed bool
}

// Option configures Open.
type Option func(*Ledger)

// WithMirror restores the ledger from m when no local file exists, and
// enables Sync.
func WithMirror(m Mirror) Option {
	return func(l *Ledger) {
		l.mirror = m
	}
}

// WithClock overrides the time source (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Open locks and loads the ledger at path. The lock is waited for until
// ctx is done, then ErrLocked is returned. A missing file (and missing
// mirror copy) yields an empty ledger with a fresh run ID; nothing is
// written until the first mutation.
func Open(ctx context.Context, path string, opts ...Option) (*Ledger, error) {
	l := &Ledger{path: path, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	lock, err := acquireLock(ctx, path+".lock")
	if err != nil {
		return nil, err
	}
	l.lock = lock

	doc, err := l.load(ctx)
	if err != nil {
		_ = lock.release()
		return nil, err
	}
	l.doc = *doc
	return l, nil
}

func (l *Ledger) load(ctx context.Context) (*Document, error) {
	// #nosec G304
	data, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		return Decode(data)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	if l.mirror != nil {
		data, err := l.mirror.Download(ctx)
		switch {
		case err == nil:
			return Decode(data)
		case !errors.Is(err, bastion.ErrNotFound):
			return nil, fmt.Errorf("failed to restore ledger from %s: %w", l.mirror.Location(), err)
		}
	}

	now := l.now().UTC()
	return &Document{
		Version:   Version,
		RunID:     uuid.NewString(),
		State:     bastion.StateNone,
		CreatedAt: now,
		UpdatedAt: now,
		Resources: []bastion.Record{},
	}, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Exists reports whether the ledger has been written at least once.
func (l *Ledger) Exists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// Document returns a copy of the current document.
func (l *Ledger) Document() Document {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc.clone()
}

// State returns the persisted lifecycle state.
func (l *Ledger) State() bastion.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc.State
}

// All returns the records in append order.
func (l *Ledger) All() []bastion.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bastion.Record(nil), l.doc.Resources...)
}

// Append durably adds rec. Appending a record already present is a no-op.
func (l *Ledger) Append(rec bastion.Record) error {
	if !rec.Kind.Valid() || rec.ProviderID == "" {
		return fmt.Errorf("%w: incomplete record %s", bastion.ErrInvalidConfig, rec)
	}
	return l.update(func(d *Document) bool {
		for _, r := range d.Resources {
			if r.Same(rec) {
				return false
			}
		}
		d.Resources = append(d.Resources, rec)
		return true
	})
}

// Remove durably drops rec. Removing an absent record is a no-op.
func (l *Ledger) Remove(rec bastion.Record) error {
	return l.update(func(d *Document) bool {
		for i, r := range d.Resources {
			if r.Same(rec) {
				d.Resources = append(d.Resources[:i:i], d.Resources[i+1:]...)
				return true
			}
		}
		return false
	})
}

// SetState durably records the lifecycle state. Transition rules are the
// controller's concern; the ledger stores what it is given.
func (l *Ledger) SetState(s bastion.State) error {
	return l.update(func(d *Document) bool {
		if d.State == s {
			return false
		}
		d.State = s
		return true
	})
}

// Update applies fn to the document and flushes it. fn must not modify
// Resources; use Append and Remove for those.
func (l *Ledger) Update(fn func(*Document)) error {
	return l.update(func(d *Document) bool {
		before := d.clone()
		fn(d)
		d.Resources = before.Resources
		return true
	})
}

func (l *Ledger) update(fn func(*Document) bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	next := l.doc.clone()
	if !fn(&next) && l.Exists() {
		return nil
	}
	next.UpdatedAt = l.now().UTC()

	if err := writeFileAtomic(l.path, &next); err != nil {
		return err
	}
	l.doc = next
	return nil
}

// Sync uploads the current document to the mirror, if one is configured.
func (l *Ledger) Sync(ctx context.Context) error {
	if l.mirror == nil {
		return nil
	}
	doc := l.Document()
	data, err := Encode(&doc)
	if err != nil {
		return err
	}
	if err := l.mirror.Upload(ctx, data); err != nil {
		return fmt.Errorf("failed to mirror ledger to %s: %w", l.mirror.Location(), err)
	}
	return nil
}

// MirrorLocation returns where the ledger is mirrored, or "".
func (l *Ledger) MirrorLocation() string {
	if l.mirror == nil {
		return ""
	}
	return l.mirror.Location()
}

// Close releases the lock. The ledger file stays on disk.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.lock.release()
}

// Load reads a ledger without locking it, for read-only inspection.
func Load(path string) (*Document, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("ledger %s: %w", path, bastion.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return Decode(data)
}
