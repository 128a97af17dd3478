package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"repoport/internal/errs"
	"repoport/internal/representation"
	"repoport/internal/store"
)

type noteImporter struct{ e *Executor }

func (i noteImporter) Import(ctx context.Context, rep representation.Representation) error {
	note, ok := rep.(*representation.Note)
	if !ok {
		return errs.NotRetriable("note importer got %T", rep)
	}
	e := i.e

	noteableID, err := e.noteableID(ctx, note.NoteableType, note.NoteableIID)
	if err != nil {
		return err
	}
	authorID, body, found, err := e.resolveAuthor(ctx, note.Author, note.Body)
	if err != nil {
		return err
	}

	id, err := e.st.CreateNote(ctx, store.Note{
		ProjectID:    e.project.ID,
		NoteableType: note.NoteableType,
		NoteableID:   noteableID,
		AuthorID:     authorID,
		Body:         body,
		CreatedAt:    note.CreatedAt,
		UpdatedAt:    note.UpdatedAt,
	})
	switch {
	case errors.Is(err, store.ErrUniqueViolation):
		existing, ok, mapErr := e.idMap("note").Get(ctx, note.ExternalID())
		if mapErr != nil || !ok {
			return mapErr
		}
		id = existing
	case errors.Is(err, store.ErrForeignKey):
		// The parent was deleted between lookup and insert. Not fatal.
		e.log.WithField("external_id", note.ExternalID()).
			WithError(err).Warn("skipping note: parent row gone")
		return nil
	case err != nil:
		return err
	default:
		if err := e.idMap("note").Set(ctx, note.ExternalID(), id); err != nil {
			return err
		}
		if err := e.pushReference(ctx, note.Author, found, "Note", "author_id", id); err != nil {
			return err
		}
	}

	return e.rewriteBody(ctx,
		func(ctx context.Context) (string, error) { return e.st.NoteBody(ctx, id) },
		func(ctx context.Context, text string) error { return e.st.UpdateNoteBody(ctx, id, text) })
}

// diffPosition is the serialized diff anchor stored alongside a diff note.
type diffPosition struct {
	Path           string `json:"path"`
	CommitID       string `json:"commit_id"`
	OriginalCommit string `json:"original_commit"`
	Line           int    `json:"line"`
	OriginalLine   int    `json:"original_line,omitempty"`
	Side           string `json:"side,omitempty"`
}

type diffNoteImporter struct{ e *Executor }

func (i diffNoteImporter) Import(ctx context.Context, rep representation.Representation) error {
	note, ok := rep.(*representation.DiffNote)
	if !ok {
		return errs.NotRetriable("diff note importer got %T", rep)
	}
	e := i.e

	mrID, err := e.noteableID(ctx, "MergeRequest", note.MergeRequestIID)
	if err != nil {
		return err
	}

	// A note whose anchor no longer applies to the diff degrades to a
	// plain comment quoting the hunk.
	body := note.Body
	var position string
	if note.PositionValid() {
		raw, err := json.Marshal(diffPosition{
			Path:           note.Path,
			CommitID:       note.CommitID,
			OriginalCommit: note.OriginalCommit,
			Line:           note.Line,
			OriginalLine:   note.OriginalLine,
			Side:           note.Side,
		})
		if err != nil {
			return fmt.Errorf("serialize diff position: %w", err)
		}
		position = string(raw)
	} else {
		body = note.FallbackBody()
	}

	authorID, body, found, err := e.resolveAuthor(ctx, note.Author, body)
	if err != nil {
		return err
	}

	id, err := e.st.CreateNote(ctx, store.Note{
		ProjectID:    e.project.ID,
		NoteableType: "MergeRequest",
		NoteableID:   mrID,
		AuthorID:     authorID,
		Body:         body,
		DiffPosition: position,
		CreatedAt:    note.CreatedAt,
		UpdatedAt:    note.UpdatedAt,
	})
	switch {
	case errors.Is(err, store.ErrUniqueViolation):
		existing, ok, mapErr := e.idMap("note").Get(ctx, note.ExternalID())
		if mapErr != nil || !ok {
			return mapErr
		}
		id = existing
	case errors.Is(err, store.ErrForeignKey):
		e.log.WithField("external_id", note.ExternalID()).
			WithError(err).Warn("skipping diff note: parent row gone")
		return nil
	case err != nil:
		return err
	default:
		if err := e.idMap("note").Set(ctx, note.ExternalID(), id); err != nil {
			return err
		}
		if err := e.pushReference(ctx, note.Author, found, "Note", "author_id", id); err != nil {
			return err
		}
	}

	return e.rewriteBody(ctx,
		func(ctx context.Context) (string, error) { return e.st.NoteBody(ctx, id) },
		func(ctx context.Context, text string) error { return e.st.UpdateNoteBody(ctx, id, text) })
}
