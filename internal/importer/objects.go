package importer

import (
	"context"
	"errors"

	"repoport/internal/errs"
	"repoport/internal/representation"
	"repoport/internal/store"
	"repoport/internal/user"
)

type labelImporter struct{ e *Executor }

func (i labelImporter) Import(ctx context.Context, rep representation.Representation) error {
	label, ok := rep.(*representation.Label)
	if !ok {
		return errs.NotRetriable("label importer got %T", rep)
	}

	_, err := i.e.st.CreateLabel(ctx, store.Label{
		ProjectID: i.e.project.ID,
		Title:     label.Title,
		Color:     label.Color,
	})
	if errors.Is(err, store.ErrUniqueViolation) {
		return nil
	}
	return err
}

type milestoneImporter struct{ e *Executor }

func (i milestoneImporter) Import(ctx context.Context, rep representation.Representation) error {
	ms, ok := rep.(*representation.Milestone)
	if !ok {
		return errs.NotRetriable("milestone importer got %T", rep)
	}

	id, err := i.e.st.CreateMilestone(ctx, store.Milestone{
		ProjectID:   i.e.project.ID,
		IID:         ms.IID,
		Title:       ms.Title,
		Description: ms.Description,
		State:       ms.State,
		DueOn:       ms.DueOn,
		CreatedAt:   ms.CreatedAt,
		UpdatedAt:   ms.UpdatedAt,
	})
	if errors.Is(err, store.ErrUniqueViolation) {
		return nil
	}
	if err != nil {
		return err
	}
	return i.e.idMap("milestone").Set(ctx, ms.ExternalID(), id)
}

type protectedBranchImporter struct{ e *Executor }

func (i protectedBranchImporter) Import(ctx context.Context, rep representation.Representation) error {
	branch, ok := rep.(*representation.ProtectedBranch)
	if !ok {
		return errs.NotRetriable("protected branch importer got %T", rep)
	}

	_, err := i.e.st.CreateProtectedBranch(ctx, store.ProtectedBranch{
		ProjectID:      i.e.project.ID,
		Name:           branch.Name,
		AllowForcePush: branch.AllowForcePush,
	})
	if errors.Is(err, store.ErrUniqueViolation) {
		return nil
	}
	return err
}

type collaboratorImporter struct{ e *Executor }

func (i collaboratorImporter) Import(ctx context.Context, rep representation.Representation) error {
	collab, ok := rep.(*representation.Collaborator)
	if !ok {
		return errs.NotRetriable("collaborator importer got %T", rep)
	}

	// An unmapped role is an unmodeled custom role; import of this member
	// aborts rather than guessing a permission level.
	level, err := user.AccessLevelForRole(collab.RoleName)
	if err != nil {
		return err
	}

	actor := representation.Actor{ID: collab.UserID, Login: collab.Login}
	userID, found, err := i.e.finder.AuthorID(ctx, actor)
	if err != nil {
		return err
	}

	id, err := i.e.st.CreateMember(ctx, store.Member{
		ProjectID:   i.e.project.ID,
		UserID:      userID,
		AccessLevel: level,
	})
	if errors.Is(err, store.ErrUniqueViolation) {
		return nil
	}
	if err != nil {
		return err
	}
	return i.e.pushReference(ctx, actor, found, "Member", "user_id", id)
}

type lfsObjectImporter struct{ e *Executor }

func (i lfsObjectImporter) Import(ctx context.Context, rep representation.Representation) error {
	obj, ok := rep.(*representation.LfsObject)
	if !ok {
		return errs.NotRetriable("lfs object importer got %T", rep)
	}

	_, err := i.e.st.CreateLfsObject(ctx, store.LfsObject{
		ProjectID: i.e.project.ID,
		OID:       obj.OID,
		Size:      obj.Size,
	})
	if errors.Is(err, store.ErrUniqueViolation) {
		return nil
	}
	return err
}

// releaseAttachmentsImporter rewrites attachment links inside an already
// imported release body. The release row itself is created during
// repository import; a missing row means the tag never made it over.
type releaseAttachmentsImporter struct{ e *Executor }

func (i releaseAttachmentsImporter) Import(ctx context.Context, rep representation.Representation) error {
	rel, ok := rep.(*representation.ReleaseAttachments)
	if !ok {
		return errs.NotRetriable("release attachments importer got %T", rep)
	}

	row, found, err := i.e.st.ReleaseByTag(ctx, i.e.project.ID, rel.Tag)
	if err != nil {
		return err
	}
	if !found {
		return errs.NotFound("release %q", rel.Tag)
	}

	return i.e.rewriteBody(ctx,
		func(context.Context) (string, error) { return row.Description, nil },
		func(ctx context.Context, text string) error {
			return i.e.st.UpdateReleaseDescription(ctx, row.ID, text)
		})
}
