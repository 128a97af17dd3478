// Package cache provides the shared keyspace used by import runs: the
// already-imported set, the pagination cursor, and the external→internal id
// map. All three are thin views over one Keyspace so tests can swap in the
// memory backend and production can point at Redis.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Keyspace is the minimal key/value + set surface the import pipeline needs.
// Implementations must be safe for concurrent use.
type Keyspace interface {
	SetAdd(ctx context.Context, key, member string) error
	SetContains(ctx context.Context, key, member string) (bool, error)
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// ImportedSet records which external ids have completed persistence for one
// (project, object kind) pair. Membership means the per-object importer
// finished (successfully or permanently skipped) for that id. Entries are
// only removed by Clear at run teardown.
type ImportedSet struct {
	ks        Keyspace
	projectID int64
	kind      string
}

func NewImportedSet(ks Keyspace, projectID int64, kind string) *ImportedSet {
	return &ImportedSet{ks: ks, projectID: projectID, kind: kind}
}

func (s *ImportedSet) key() string {
	return fmt.Sprintf("importer/%d/%s", s.projectID, s.kind)
}

func (s *ImportedSet) Add(ctx context.Context, externalID string) error {
	if externalID == "" {
		return fmt.Errorf("imported set %s: empty external id", s.key())
	}
	return s.ks.SetAdd(ctx, s.key(), externalID)
}

func (s *ImportedSet) Contains(ctx context.Context, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	return s.ks.SetContains(ctx, s.key(), externalID)
}

// Clear drops the whole set. Only the run coordinator calls this, at
// teardown; importers have no way to remove individual entries.
func (s *ImportedSet) Clear(ctx context.Context) error {
	return s.ks.Delete(ctx, s.key())
}

// Position is a resume point in a paginated collection: either a numeric
// page or an opaque continuation token handed out by the source API.
type Position struct {
	Page  int
	Token string
}

func (p Position) IsZero() bool { return p.Page == 0 && p.Token == "" }

func (p Position) encode() string {
	if p.Token != "" {
		return "t:" + p.Token
	}
	return strconv.Itoa(p.Page)
}

func decodePosition(raw string) (Position, error) {
	if tok, ok := strings.CutPrefix(raw, "t:"); ok {
		return Position{Token: tok}, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil {
		return Position{}, fmt.Errorf("malformed cursor position %q: %w", raw, err)
	}
	return Position{Page: page}, nil
}

// PageCursor persists fetch progress for one (project, parent, collection)
// triple. It tracks how far the fetch loop has read, not how far downstream
// persistence has gotten, so a resumed run may legitimately re-read a page
// whose sub-jobs never finished.
type PageCursor struct {
	mu        sync.Mutex
	ks        Keyspace
	projectID int64
	parentID  string
	method    string
}

func NewPageCursor(ks Keyspace, projectID int64, parentID, method string) *PageCursor {
	return &PageCursor{ks: ks, projectID: projectID, parentID: parentID, method: method}
}

func (c *PageCursor) key() string {
	parent := c.parentID
	if parent == "" {
		parent = "-"
	}
	return fmt.Sprintf("%d/%s/%s", c.projectID, parent, c.method)
}

// Current returns the last recorded position, or a zero Position when the
// collection has never been fetched.
func (c *PageCursor) Current(ctx context.Context) (Position, error) {
	raw, ok, err := c.ks.Get(ctx, c.key())
	if err != nil || !ok {
		return Position{}, err
	}
	return decodePosition(raw)
}

// Advance records pos as the new resume point. Numeric pages only move
// forward; a stale advance from a retried fetch is a no-op. Continuation
// tokens are opaque and always overwrite.
func (c *PageCursor) Advance(ctx context.Context, pos Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pos.Token == "" {
		cur, err := c.Current(ctx)
		if err != nil {
			return err
		}
		if cur.Token == "" && cur.Page >= pos.Page {
			return nil
		}
	}
	return c.ks.Put(ctx, c.key(), pos.encode())
}

func (c *PageCursor) Clear(ctx context.Context) error {
	return c.ks.Delete(ctx, c.key())
}

// IDMap remembers the internal id assigned to a persisted external object so
// later importers can resolve parents (a note looks up its merge request
// here instead of querying the datastore).
type IDMap struct {
	ks        Keyspace
	projectID int64
	model     string
}

func NewIDMap(ks Keyspace, projectID int64, model string) *IDMap {
	return &IDMap{ks: ks, projectID: projectID, model: model}
}

func (m *IDMap) key(externalID string) string {
	return fmt.Sprintf("importer/%d/%s/%s", m.projectID, m.model, externalID)
}

func (m *IDMap) Set(ctx context.Context, externalID string, internalID int64) error {
	return m.ks.Put(ctx, m.key(externalID), strconv.FormatInt(internalID, 10))
}

// Clear drops every mapping for this (project, model) pair. Like the
// imported set, only run teardown calls this.
func (m *IDMap) Clear(ctx context.Context) error {
	return m.ks.DeletePrefix(ctx, fmt.Sprintf("importer/%d/%s/", m.projectID, m.model))
}

// Get returns the internal id for externalID. ok is false when the object
// was never recorded, which callers treat as a structurally missing parent.
func (m *IDMap) Get(ctx context.Context, externalID string) (int64, bool, error) {
	raw, ok, err := m.ks.Get(ctx, m.key(externalID))
	if err != nil || !ok {
		return 0, false, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("malformed id map entry %q: %w", raw, err)
	}
	return id, true, nil
}
