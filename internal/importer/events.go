package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"repoport/internal/errs"
	"repoport/internal/representation"
	"repoport/internal/store"
)

// eventBuilder turns one timeline event into its target rows. A nil slice
// means the event produces nothing (for example an unassignment of an
// unmappable user).
type eventBuilder func(ev *representation.IssueEvent, targetType string, targetID, userID int64) []store.ResourceEvent

// eventBuilders is the closed registry of handled timeline event kinds.
// Unregistered kinds are logged and skipped; the source grows new kinds
// faster than anyone models them.
var eventBuilders = map[string]eventBuilder{
	"closed":           simpleEvent("closed"),
	"reopened":         simpleEvent("reopened"),
	"labeled":          labelEvent("add"),
	"unlabeled":        labelEvent("remove"),
	"milestoned":       milestoneEvent("add"),
	"demilestoned":     milestoneEvent("remove"),
	"assigned":         assigneeEvent("add"),
	"unassigned":       assigneeEvent("remove"),
	"renamed":          renameEvent,
	"cross-referenced": crossReferenceEvent,
}

func simpleEvent(kind string) eventBuilder {
	return func(ev *representation.IssueEvent, targetType string, targetID, userID int64) []store.ResourceEvent {
		return []store.ResourceEvent{{
			TargetType: targetType,
			TargetID:   targetID,
			UserID:     userID,
			Kind:       kind,
			CreatedAt:  ev.CreatedAt,
		}}
	}
}

func labelEvent(action string) eventBuilder {
	return func(ev *representation.IssueEvent, targetType string, targetID, userID int64) []store.ResourceEvent {
		if ev.LabelTitle == "" {
			return nil
		}
		return []store.ResourceEvent{{
			TargetType: targetType,
			TargetID:   targetID,
			UserID:     userID,
			Kind:       "label_" + action,
			Value:      ev.LabelTitle,
			CreatedAt:  ev.CreatedAt,
		}}
	}
}

func milestoneEvent(action string) eventBuilder {
	return func(ev *representation.IssueEvent, targetType string, targetID, userID int64) []store.ResourceEvent {
		if ev.MilestoneTitle == "" {
			return nil
		}
		return []store.ResourceEvent{{
			TargetType: targetType,
			TargetID:   targetID,
			UserID:     userID,
			Kind:       "milestone_" + action,
			Value:      ev.MilestoneTitle,
			CreatedAt:  ev.CreatedAt,
		}}
	}
}

func assigneeEvent(action string) eventBuilder {
	return func(ev *representation.IssueEvent, targetType string, targetID, userID int64) []store.ResourceEvent {
		if ev.Assignee.IsZero() {
			return nil
		}
		return []store.ResourceEvent{{
			TargetType: targetType,
			TargetID:   targetID,
			UserID:     userID,
			Kind:       "assignee_" + action,
			Value:      ev.Assignee.Login,
			CreatedAt:  ev.CreatedAt,
		}}
	}
}

func renameEvent(ev *representation.IssueEvent, targetType string, targetID, userID int64) []store.ResourceEvent {
	return []store.ResourceEvent{{
		TargetType: targetType,
		TargetID:   targetID,
		UserID:     userID,
		Kind:       "renamed",
		Value:      fmt.Sprintf("%s\n...\n%s", ev.RenameFrom, ev.RenameTo),
		CreatedAt:  ev.CreatedAt,
	}}
}

func crossReferenceEvent(ev *representation.IssueEvent, targetType string, targetID, userID int64) []store.ResourceEvent {
	return []store.ResourceEvent{{
		TargetType: targetType,
		TargetID:   targetID,
		UserID:     userID,
		Kind:       "cross_referenced",
		Value:      ev.CommitID,
		CreatedAt:  ev.CreatedAt,
	}}
}

type issueEventImporter struct{ e *Executor }

func (i issueEventImporter) Import(ctx context.Context, rep representation.Representation) error {
	ev, ok := rep.(*representation.IssueEvent)
	if !ok {
		return errs.NotRetriable("issue event importer got %T", rep)
	}
	e := i.e

	build, handled := eventBuilders[ev.EventKind]
	if !handled {
		e.log.WithFields(logrus.Fields{
			"project_id": e.project.ID,
			"event_kind": ev.EventKind,
		}).Debug("skipping unhandled timeline event kind")
		return nil
	}

	targetType := "Issue"
	if ev.OnPullRequest {
		targetType = "MergeRequest"
	}
	targetID, err := e.noteableID(ctx, targetType, ev.IssueIID)
	if err != nil {
		return err
	}
	userID, _, err := e.finder.AuthorID(ctx, ev.Actor)
	if err != nil {
		return err
	}

	rows := build(ev, targetType, targetID, userID)
	if len(rows) == 0 {
		return nil
	}
	for idx := range rows {
		rows[idx].ProjectID = e.project.ID
		if rows[idx].CreatedAt.IsZero() {
			rows[idx].CreatedAt = time.Now().UTC()
		}
	}
	return e.st.CreateResourceEvents(ctx, rows)
}
