// Package ledger tracks, per browser session, the assembled artifacts that no
// saved form references yet, and removes them when the user abandons the form.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/asyncupload/internal/common"
	"github.com/dmitrijs2005/asyncupload/internal/logging"
)

// Store persists one ordered path list per session.
type Store interface {
	// Load returns the paths of sid; an unknown session yields an empty list.
	Load(ctx context.Context, sid string) ([]string, error)
	// Update applies fn as one atomic read-modify-write. A result with no paths
	// removes the record.
	Update(ctx context.Context, sid string, fn func(paths []string) ([]string, error)) error
}

// Remover is the part of the artifact store the cleanup pass needs.
type Remover interface {
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) error
}

type Ledger struct {
	store  Store
	logger logging.Logger
}

func New(store Store, logger logging.Logger) *Ledger {
	return &Ledger{store: store, logger: logger.With("module", "ledger")}
}

// Track adds path to the session's ledger unless it is already there.
func (l *Ledger) Track(ctx context.Context, sid, path string) error {
	if sid == "" {
		return common.ErrMissingSession
	}
	err := l.store.Update(ctx, sid, func(paths []string) ([]string, error) {
		if slices.Contains(paths, path) {
			return paths, nil
		}
		return append(paths, path), nil
	})
	if err != nil {
		return fmt.Errorf("track %s: %w", path, err)
	}
	l.logger.Debug(ctx, "path tracked", "session_id", sid, "path", path)
	return nil
}

// Untrack removes path from the ledger; an untracked path is a no-op.
func (l *Ledger) Untrack(ctx context.Context, sid, path string) error {
	if sid == "" {
		return common.ErrMissingSession
	}
	err := l.store.Update(ctx, sid, func(paths []string) ([]string, error) {
		return slices.DeleteFunc(paths, func(p string) bool { return p == path }), nil
	})
	if err != nil {
		return fmt.Errorf("untrack %s: %w", path, err)
	}
	return nil
}

// Clear drops every entry of the session, typically after the form was saved.
func (l *Ledger) Clear(ctx context.Context, sid string) error {
	if sid == "" {
		return common.ErrMissingSession
	}
	err := l.store.Update(ctx, sid, func([]string) ([]string, error) {
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	l.logger.Debug(ctx, "ledger cleared", "session_id", sid)
	return nil
}

// List returns the tracked paths in insertion order without duplicates.
func (l *Ledger) List(ctx context.Context, sid string) ([]string, error) {
	if sid == "" {
		return nil, common.ErrMissingSession
	}
	paths, err := l.store.Load(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return dedupe(paths), nil
}

// IsTracked reports whether path is in the session's ledger.
func (l *Ledger) IsTracked(ctx context.Context, sid, path string) (bool, error) {
	paths, err := l.List(ctx, sid)
	if err != nil {
		return false, err
	}
	return slices.Contains(paths, path), nil
}

func dedupe(paths []string) []string {
	out := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Report summarizes one cleanup pass.
type Report struct {
	Deleted []string
	Missing []string
	Failed  []string
}

// Removed reports how many entries left the ledger.
func (r Report) Removed() int {
	return len(r.Deleted) + len(r.Missing)
}

// Reconcile deletes every tracked artifact of the session. Each path is handled
// on its own: a deleted or already absent file leaves the ledger, a file whose
// existence check or deletion fails stays for the next pass. Only the handled
// paths are removed from the stored list, so entries tracked while the pass
// runs survive it.
func (l *Ledger) Reconcile(ctx context.Context, sid string, remover Remover) (Report, error) {
	var rep Report

	paths, err := l.List(ctx, sid)
	if err != nil {
		return rep, err
	}
	if len(paths) == 0 {
		return rep, nil
	}

	log := l.logger.With("session_id", sid)

	for _, p := range paths {
		exists, err := remover.Exists(ctx, p)
		if err != nil {
			log.Warn(ctx, "orphan check failed", "path", p, "error", err)
			rep.Failed = append(rep.Failed, p)
			continue
		}
		if !exists {
			rep.Missing = append(rep.Missing, p)
			continue
		}

		err = remover.Delete(ctx, p)
		switch {
		case err == nil:
			rep.Deleted = append(rep.Deleted, p)
		case errors.Is(err, common.ErrorNotFound):
			rep.Missing = append(rep.Missing, p)
		default:
			log.Warn(ctx, "orphan delete failed", "path", p, "error", err)
			rep.Failed = append(rep.Failed, p)
		}
	}

	if rep.Removed() == 0 {
		return rep, nil
	}

	handled := make(map[string]struct{}, rep.Removed())
	for _, p := range rep.Deleted {
		handled[p] = struct{}{}
	}
	for _, p := range rep.Missing {
		handled[p] = struct{}{}
	}

	err = l.store.Update(ctx, sid, func(current []string) ([]string, error) {
		return slices.DeleteFunc(current, func(p string) bool {
			_, ok := handled[p]
			return ok
		}), nil
	})
	if err != nil {
		return rep, fmt.Errorf("reconcile update: %w", err)
	}

	log.Info(ctx, "orphans reconciled",
		"deleted", len(rep.Deleted), "missing", len(rep.Missing), "failed", len(rep.Failed))
	return rep, nil
}
