// Package user resolves external author identities against internal users.
// Resolution prefers an exact external-id identity, then a verified email
// match, then falls back to a placeholder (or the project creator when
// placeholder mapping is off). Lookups are cached in the shared keyspace so
// concurrent workers of one run do not repeat database or API work.
package user

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v81/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"repoport/internal/cache"
	"repoport/internal/representation"
	"repoport/internal/store"
)

// Cached negative lookups store this marker so "known absent" is
// distinguishable from "never checked".
const noneMarker = "-"

// EmailSource fetches a user's public profile for email matching.
type EmailSource interface {
	User(ctx context.Context, login string) (*gh.User, error)
}

// PlaceholderAllocator hands out a placeholder user id for an unresolved
// external identity. Allocation is stable per source user within a run.
type PlaceholderAllocator interface {
	PlaceholderUserID(ctx context.Context, actor representation.Actor) (int64, error)
}

type Finder struct {
	projectID   int64
	creatorID   int64
	ghostUserID int64

	store  store.Store
	ks     cache.Keyspace
	emails EmailSource
	log    logrus.FieldLogger

	// allowIDLookup is false for enterprise imports, where external numeric
	// ids belong to a different identity namespace.
	allowIDLookup    bool
	allowEmailLookup bool

	placeholders PlaceholderAllocator

	group singleflight.Group
}

type FinderConfig struct {
	ProjectID        int64
	CreatorID        int64
	GhostUserID      int64
	AllowIDLookup    bool
	AllowEmailLookup bool
	Placeholders     PlaceholderAllocator
}

func NewFinder(cfg FinderConfig, st store.Store, ks cache.Keyspace, emails EmailSource, log logrus.FieldLogger) (*Finder, error) {
	if st == nil {
		return nil, fmt.Errorf("user finder: nil store")
	}
	if ks == nil {
		return nil, fmt.Errorf("user finder: nil keyspace")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Finder{
		projectID:        cfg.ProjectID,
		creatorID:        cfg.CreatorID,
		ghostUserID:      cfg.GhostUserID,
		store:            st,
		ks:               ks,
		emails:           emails,
		log:              log,
		allowIDLookup:    cfg.AllowIDLookup,
		allowEmailLookup: cfg.AllowEmailLookup,
		placeholders:     cfg.Placeholders,
	}, nil
}

// AuthorID resolves the author of an object. found reports whether the
// identity was actually mapped: authorless objects resolve to the ghost
// user and still count as found; the placeholder/creator fallback does not,
// and callers prepend an attribution line in that case.
func (f *Finder) AuthorID(ctx context.Context, actor representation.Actor) (int64, bool, error) {
	if actor.IsZero() {
		return f.ghostUserID, true, nil
	}

	id, err := f.UserID(ctx, actor)
	if err != nil {
		return 0, false, err
	}
	if id != 0 {
		return id, true, nil
	}

	if f.placeholders != nil {
		placeholder, err := f.placeholders.PlaceholderUserID(ctx, actor)
		if err != nil {
			return 0, false, err
		}
		return placeholder, false, nil
	}
	return f.creatorID, false, nil
}

// AssigneeID resolves an optional assignee. Zero when the actor is absent
// or cannot be mapped; assignees are dropped rather than attributed to a
// placeholder.
func (f *Finder) AssigneeID(ctx context.Context, actor representation.Actor) (int64, error) {
	if actor.IsZero() {
		return 0, nil
	}
	return f.UserID(ctx, actor)
}

// UserID maps an external actor to an internal user id, or zero when no
// mapping exists.
func (f *Finder) UserID(ctx context.Context, actor representation.Actor) (int64, error) {
	if f.allowIDLookup {
		id, checked, err := f.cachedLookup(ctx, f.idKey(actor.ID), func(ctx context.Context) (int64, error) {
			id, ok, err := f.store.UserIDByExternalID(ctx, actor.ID)
			if err != nil || !ok {
				return 0, err
			}
			return id, nil
		})
		if err != nil {
			return 0, err
		}
		if checked && id != 0 {
			return id, nil
		}
	}

	if !f.allowEmailLookup || actor.Login == "" {
		return 0, nil
	}
	email, err := f.emailForLogin(ctx, actor.Login)
	if err != nil {
		return 0, err
	}
	if email == "" {
		return 0, nil
	}
	id, _, err := f.cachedLookup(ctx, f.emailKey(email), func(ctx context.Context) (int64, error) {
		id, ok, err := f.store.UserIDByEmail(ctx, email)
		if err != nil || !ok {
			return 0, err
		}
		return id, nil
	})
	return id, err
}

// cachedLookup consults the keyspace first; a cached miss (the none marker)
// is trusted without re-querying. checked is always true on return unless
// the query itself failed.
func (f *Finder) cachedLookup(ctx context.Context, key string, query func(context.Context) (int64, error)) (int64, bool, error) {
	raw, ok, err := f.ks.Get(ctx, key)
	if err != nil {
		return 0, false, err
	}
	if ok {
		if raw == noneMarker {
			return 0, true, nil
		}
		var id int64
		if _, err := fmt.Sscanf(raw, "%d", &id); err == nil {
			return id, true, nil
		}
		// Malformed cache entry: fall through to the query.
	}

	id, err := query(ctx)
	if err != nil {
		return 0, false, err
	}
	value := noneMarker
	if id != 0 {
		value = fmt.Sprintf("%d", id)
	}
	if err := f.ks.Put(ctx, key, value); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// emailForLogin fetches the public email for a login, at most once per run
// across all workers. A profile without a public email caches the negative
// result so the rate-limited call is not repeated.
func (f *Finder) emailForLogin(ctx context.Context, login string) (string, error) {
	key := f.emailForLoginKey(login)
	raw, ok, err := f.ks.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if ok {
		if raw == noneMarker {
			return "", nil
		}
		return raw, nil
	}
	if f.emails == nil {
		return "", nil
	}

	v, err, _ := f.group.Do(login, func() (any, error) {
		// Another worker may have finished while we waited on the flight.
		raw, ok, err := f.ks.Get(ctx, key)
		if err != nil {
			return "", err
		}
		if ok {
			if raw == noneMarker {
				return "", nil
			}
			return raw, nil
		}

		profile, err := f.emails.User(ctx, login)
		if err != nil {
			return "", err
		}
		email := profile.GetEmail()
		value := noneMarker
		if email != "" {
			value = email
		}
		if err := f.ks.Put(ctx, key, value); err != nil {
			return "", err
		}
		return email, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ClearLookupCache drops every cached identity lookup for one project.
// Run teardown calls this so a later import does not inherit stale
// resolutions.
func ClearLookupCache(ctx context.Context, ks cache.Keyspace, projectID int64) error {
	return ks.DeletePrefix(ctx, fmt.Sprintf("github-import/user-finder/%d/", projectID))
}

func (f *Finder) idKey(externalID int64) string {
	return fmt.Sprintf("github-import/user-finder/%d/id-for-id/%d", f.projectID, externalID)
}

func (f *Finder) emailKey(email string) string {
	return fmt.Sprintf("github-import/user-finder/%d/id-for-email/%s", f.projectID, email)
}

func (f *Finder) emailForLoginKey(login string) string {
	return fmt.Sprintf("github-import/user-finder/%d/email-for-login/%s", f.projectID, login)
}

// Attribute prepends an attribution line naming the original external
// author when identity mapping did not resolve, so provenance survives in
// the persisted body.
func Attribute(body, login string, found bool) string {
	if found {
		return body
	}
	name := login
	if name == "" {
		name = "unknown user"
	}
	return fmt.Sprintf("*Created by: %s*\n\n%s", name, body)
}
