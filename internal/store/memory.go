package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
)

// Memory implements Store in process with the same uniqueness rules the
// Postgres schema enforces. Its Seed* helpers exist for tests and for the
// reconciliation loop's local mode.
type Memory struct {
	mu     sync.Mutex
	nextID int64

	labels          map[int64]*Label
	milestones      map[int64]*Milestone
	issues          map[int64]*Issue
	mergeRequests   map[int64]*MergeRequest
	notes           map[int64]*Note
	members         map[int64]*Member
	branches        map[int64]*ProtectedBranch
	lfsObjects      map[int64]*LfsObject
	events          map[int64]*ResourceEvent
	releases        map[int64]*Release
	usersByEmail    map[string]int64
	usersByExternal map[int64]int64

	unique map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		labels:          make(map[int64]*Label),
		milestones:      make(map[int64]*Milestone),
		issues:          make(map[int64]*Issue),
		mergeRequests:   make(map[int64]*MergeRequest),
		notes:           make(map[int64]*Note),
		members:         make(map[int64]*Member),
		branches:        make(map[int64]*ProtectedBranch),
		lfsObjects:      make(map[int64]*LfsObject),
		events:          make(map[int64]*ResourceEvent),
		releases:        make(map[int64]*Release),
		usersByEmail:    make(map[string]int64),
		usersByExternal: make(map[int64]int64),
		unique:          make(map[string]struct{}),
	}
}

func (m *Memory) nextIDLocked() int64 {
	m.nextID++
	return m.nextID
}

// claimLocked enforces a uniqueness constraint the way a DB index would.
func (m *Memory) claimLocked(parts ...any) error {
	key := fmt.Sprintln(parts...)
	if _, taken := m.unique[key]; taken {
		return fmt.Errorf("%w: %v", ErrUniqueViolation, parts)
	}
	m.unique[key] = struct{}{}
	return nil
}

func (m *Memory) CreateLabel(_ context.Context, l Label) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.Title == "" {
		return 0, fmt.Errorf("%w: label title", ErrValidation)
	}
	if err := m.claimLocked("label", l.ProjectID, l.Title); err != nil {
		return 0, err
	}
	l.ID = m.nextIDLocked()
	m.labels[l.ID] = &l
	return l.ID, nil
}

func (m *Memory) CreateMilestone(_ context.Context, ms Milestone) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms.Title == "" {
		return 0, fmt.Errorf("%w: milestone title", ErrValidation)
	}
	if err := m.claimLocked("milestone", ms.ProjectID, ms.IID); err != nil {
		return 0, err
	}
	ms.ID = m.nextIDLocked()
	m.milestones[ms.ID] = &ms
	return ms.ID, nil
}

func (m *Memory) CreateIssue(_ context.Context, i Issue) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i.AuthorID == 0 {
		return 0, fmt.Errorf("%w: issue author_id", ErrValidation)
	}
	if err := m.claimLocked("issue", i.ProjectID, i.IID); err != nil {
		return 0, err
	}
	i.ID = m.nextIDLocked()
	m.issues[i.ID] = &i
	return i.ID, nil
}

func (m *Memory) CreateMergeRequest(_ context.Context, mr MergeRequest) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mr.AuthorID == 0 {
		return 0, fmt.Errorf("%w: merge request author_id", ErrValidation)
	}
	if err := m.claimLocked("merge_request", mr.ProjectID, mr.IID); err != nil {
		return 0, err
	}
	mr.ID = m.nextIDLocked()
	m.mergeRequests[mr.ID] = &mr
	return mr.ID, nil
}

func (m *Memory) CreateNote(_ context.Context, n Note) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.AuthorID == 0 {
		return 0, fmt.Errorf("%w: note author_id", ErrValidation)
	}
	if n.NoteableID == 0 {
		return 0, fmt.Errorf("%w: note noteable_id", ErrForeignKey)
	}
	if err := m.claimLocked("note", n.ProjectID, n.NoteableType, n.NoteableID, n.AuthorID, n.CreatedAt.UnixNano(), n.Body); err != nil {
		return 0, err
	}
	n.ID = m.nextIDLocked()
	m.notes[n.ID] = &n
	return n.ID, nil
}

func (m *Memory) CreateMember(_ context.Context, mb Member) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mb.UserID == 0 {
		return 0, fmt.Errorf("%w: member user_id", ErrValidation)
	}
	if err := m.claimLocked("member", mb.ProjectID, mb.UserID); err != nil {
		return 0, err
	}
	mb.ID = m.nextIDLocked()
	m.members[mb.ID] = &mb
	return mb.ID, nil
}

func (m *Memory) CreateProtectedBranch(_ context.Context, b ProtectedBranch) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Name == "" {
		return 0, fmt.Errorf("%w: protected branch name", ErrValidation)
	}
	if err := m.claimLocked("protected_branch", b.ProjectID, b.Name); err != nil {
		return 0, err
	}
	b.ID = m.nextIDLocked()
	m.branches[b.ID] = &b
	return b.ID, nil
}

func (m *Memory) CreateLfsObject(_ context.Context, o LfsObject) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.OID == "" {
		return 0, fmt.Errorf("%w: lfs oid", ErrValidation)
	}
	if err := m.claimLocked("lfs_object", o.ProjectID, o.OID); err != nil {
		return 0, err
	}
	o.ID = m.nextIDLocked()
	m.lfsObjects[o.ID] = &o
	return o.ID, nil
}

func (m *Memory) CreateResourceEvents(_ context.Context, events []ResourceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		if err := m.claimLocked("resource_event", ev.ProjectID, ev.TargetType, ev.TargetID, ev.Kind, ev.Value, ev.UserID, ev.CreatedAt.UnixNano()); err != nil {
			// Mirrors ON CONFLICT DO NOTHING.
			continue
		}
		ev := ev
		ev.ID = m.nextIDLocked()
		m.events[ev.ID] = &ev
	}
	return nil
}

func (m *Memory) UpdateIssueDescription(_ context.Context, id int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.issues[id]
	if !ok {
		return sql.ErrNoRows
	}
	i.Description = text
	return nil
}

func (m *Memory) UpdateMergeRequestDescription(_ context.Context, id int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.mergeRequests[id]
	if !ok {
		return sql.ErrNoRows
	}
	mr.Description = text
	return nil
}

func (m *Memory) UpdateNoteBody(_ context.Context, id int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok {
		return sql.ErrNoRows
	}
	n.Body = text
	return nil
}

func (m *Memory) UpdateReleaseDescription(_ context.Context, id int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.releases[id]
	if !ok {
		return sql.ErrNoRows
	}
	r.Description = text
	return nil
}

func (m *Memory) IssueDescription(_ context.Context, id int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.issues[id]
	if !ok {
		return "", fmt.Errorf("store: no issue row %d", id)
	}
	return i.Description, nil
}

func (m *Memory) MergeRequestDescription(_ context.Context, id int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.mergeRequests[id]
	if !ok {
		return "", fmt.Errorf("store: no merge request row %d", id)
	}
	return mr.Description, nil
}

func (m *Memory) NoteBody(_ context.Context, id int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok {
		return "", fmt.Errorf("store: no note row %d", id)
	}
	return n.Body, nil
}

func (m *Memory) IssueIIDs(_ context.Context, projectID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var iids []int64
	for _, i := range m.issues {
		if i.ProjectID == projectID {
			iids = append(iids, i.IID)
		}
	}
	sort.Slice(iids, func(a, b int) bool { return iids[a] < iids[b] })
	return iids, nil
}

func (m *Memory) MergeRequestIIDs(_ context.Context, projectID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var iids []int64
	for _, mr := range m.mergeRequests {
		if mr.ProjectID == projectID {
			iids = append(iids, mr.IID)
		}
	}
	sort.Slice(iids, func(a, b int) bool { return iids[a] < iids[b] })
	return iids, nil
}

func (m *Memory) ReleaseByTag(_ context.Context, projectID int64, tag string) (Release, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.releases {
		if r.ProjectID == projectID && r.Tag == tag {
			return *r, true, nil
		}
	}
	return Release{}, false, nil
}

func (m *Memory) UpdateAuthorColumn(_ context.Context, model, column string, rowID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch model {
	case "Issue":
		if i, ok := m.issues[rowID]; ok && column == "author_id" {
			i.AuthorID = userID
			return nil
		}
	case "MergeRequest":
		if mr, ok := m.mergeRequests[rowID]; ok {
			switch column {
			case "author_id":
				mr.AuthorID = userID
				return nil
			case "merged_by_id":
				mr.MergedByID = &userID
				return nil
			}
		}
	case "Note":
		if n, ok := m.notes[rowID]; ok && column == "author_id" {
			n.AuthorID = userID
			return nil
		}
	case "Member":
		if mb, ok := m.members[rowID]; ok && column == "user_id" {
			mb.UserID = userID
			return nil
		}
	case "ResourceEvent":
		if ev, ok := m.events[rowID]; ok && column == "user_id" {
			ev.UserID = userID
			return nil
		}
	}
	return fmt.Errorf("store: no %s row %d with column %s", model, rowID, column)
}

func (m *Memory) UserIDByExternalID(_ context.Context, externalID int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.usersByExternal[externalID]
	return id, ok, nil
}

func (m *Memory) UserIDByEmail(_ context.Context, email string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.usersByEmail[email]
	return id, ok, nil
}

// SeedUser registers an internal user reachable by email and, when
// externalID is non-zero, by external identity.
func (m *Memory) SeedUser(id int64, email string, externalID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if email != "" {
		m.usersByEmail[email] = id
	}
	if externalID != 0 {
		m.usersByExternal[externalID] = id
	}
}

// SeedRelease registers an existing release row for attachment rewriting.
func (m *Memory) SeedRelease(r Release) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.nextIDLocked()
	m.releases[r.ID] = &r
	return r.ID
}

// Snapshot accessors used by tests.

func (m *Memory) IssueByIID(projectID, iid int64) (Issue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.issues {
		if i.ProjectID == projectID && i.IID == iid {
			return *i, true
		}
	}
	return Issue{}, false
}

func (m *Memory) MergeRequestByIID(projectID, iid int64) (MergeRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mr := range m.mergeRequests {
		if mr.ProjectID == projectID && mr.IID == iid {
			return *mr, true
		}
	}
	return MergeRequest{}, false
}

func (m *Memory) NoteByID(id int64) (Note, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[id]
	if !ok {
		return Note{}, false
	}
	return *n, true
}

func (m *Memory) CountIssues() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.issues)
}

func (m *Memory) CountNotes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notes)
}

func (m *Memory) CountEvents() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *Memory) CountMembers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members)
}

func (m *Memory) Members() []Member {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Member, 0, len(m.members))
	for _, mb := range m.members {
		out = append(out, *mb)
	}
	return out
}
