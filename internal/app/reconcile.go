package app

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitusss/cs-grenade-sub000/internal/notify"
	"github.com/hitusss/cs-grenade-sub000/internal/store"
	"github.com/hitusss/cs-grenade-sub000/internal/util"
)

// ReviewOutcome is the result of an accept, reject, or cancel.
type ReviewOutcome string

const (
	ReviewOK ReviewOutcome = "ok"
	// ReviewAlreadyReviewed - the pending change no longer exists; someone
	// got there first. Success-adjacent, not an error.
	ReviewAlreadyReviewed ReviewOutcome = "alreadyReviewed"
)

// AcceptChange merges the entity's pending change into the live record and
// retires it. Accepting twice yields ReviewAlreadyReviewed the second time.
func (s *Service) AcceptChange(ctx context.Context, kind store.EntityKind, entityID string) (ReviewOutcome, error) {
	switch kind {
	case store.KindDestination:
		return s.acceptDestinationChange(ctx, entityID)
	case store.KindGrenade:
		return s.acceptGrenadeChange(ctx, entityID)
	default:
		return "", notFoundError("entity")
	}
}

func (s *Service) acceptDestinationChange(ctx context.Context, destinationID string) (ReviewOutcome, error) {
	d, err := s.store.GetDestination(ctx, destinationID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFoundError("destination")
	}
	if err != nil {
		return "", err
	}

	change, err := s.store.GetPendingChange(ctx, store.KindDestination, d.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return ReviewAlreadyReviewed, nil
	}
	if err != nil {
		return "", err
	}

	fields := store.DestinationFields{Name: change.Name, X: change.X, Y: change.Y}
	if err := s.store.ApplyDestinationChange(ctx, d.ID, fields, change.ID); err != nil {
		return "", err
	}

	d.Name, d.X, d.Y = fields.Name, fields.X, fields.Y
	s.indexDestination(d)
	s.notifyUser(ctx, notify.Notification{
		UserID:      change.RequestedBy,
		Title:       "Change request accepted",
		Description: "Your change request for " + d.Name + " was accepted.",
		RedirectTo:  "/destinations/" + d.ID,
	})
	return ReviewOK, nil
}

func (s *Service) acceptGrenadeChange(ctx context.Context, grenadeID string) (ReviewOutcome, error) {
	g, err := s.store.GetGrenade(ctx, grenadeID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFoundError("grenade")
	}
	if err != nil {
		return "", err
	}

	change, err := s.store.GetPendingChange(ctx, store.KindGrenade, g.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return ReviewAlreadyReviewed, nil
	}
	if err != nil {
		return "", err
	}

	fields := store.GrenadeFields{
		Name:        change.Name,
		X:           change.X,
		Y:           change.Y,
		Description: change.Description,
	}
	plan, staleBlobs := buildImagePlan(g.ID, g.Images, change.ImageOps)
	if err := s.store.ApplyGrenadeChange(ctx, g.ID, fields, plan, change.ID); err != nil {
		return "", err
	}

	// Replaced and deleted image content is unreferenced now.
	s.dropBlobs(ctx, staleBlobs)

	g.Name, g.X, g.Y, g.Description = fields.Name, fields.X, fields.Y, fields.Description
	s.indexGrenade(g)
	s.notifyUser(ctx, notify.Notification{
		UserID:      change.RequestedBy,
		Title:       "Change request accepted",
		Description: "Your change request for " + g.Name + " was accepted.",
		RedirectTo:  "/grenades/" + g.ID,
	})
	return ReviewOK, nil
}

// RejectChange discards the entity's pending change without touching the
// live record.
func (s *Service) RejectChange(ctx context.Context, kind store.EntityKind, entityID string) (ReviewOutcome, error) {
	name, err := s.entityName(ctx, kind, entityID)
	if err != nil {
		return "", err
	}

	change, err := s.store.GetPendingChange(ctx, kind, entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return ReviewAlreadyReviewed, nil
	}
	if err != nil {
		return "", err
	}

	deleted, err := s.store.DeletePendingChange(ctx, change.ID)
	if err != nil {
		return "", err
	}
	if !deleted {
		return ReviewAlreadyReviewed, nil
	}

	s.dropBlobs(ctx, stagedBlobKeys(change.ImageOps))
	s.notifyUser(ctx, notify.Notification{
		UserID:      change.RequestedBy,
		Title:       "Change request rejected",
		Description: "Your change request for " + name + " was rejected.",
		RedirectTo:  entityPath(kind, entityID),
	})
	return ReviewOK, nil
}

// CancelChange lets the entity's owner withdraw the open change request.
// Equivalent to a reject, but initiated by the submitter and silent.
func (s *Service) CancelChange(ctx context.Context, actor Actor, kind store.EntityKind, entityID string) (ReviewOutcome, error) {
	ownerID, err := s.entityOwner(ctx, kind, entityID)
	if err != nil {
		return "", err
	}
	if ownerID == nil || *ownerID != actor.UserID {
		return "", unauthorizedError("only the owner may cancel a change request")
	}

	change, err := s.store.GetPendingChange(ctx, kind, entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return ReviewAlreadyReviewed, nil
	}
	if err != nil {
		return "", err
	}

	deleted, err := s.store.DeletePendingChange(ctx, change.ID)
	if err != nil {
		return "", err
	}
	if !deleted {
		return ReviewAlreadyReviewed, nil
	}

	s.dropBlobs(ctx, stagedBlobKeys(change.ImageOps))
	return ReviewOK, nil
}

// buildImagePlan turns the change ops into concrete image-table writes. A
// content-carrying edit deletes the old row and creates a fresh one (the
// staged blob key becomes the new image id); a metadata-only edit updates in
// place. Returned staleBlobs are the blob keys left unreferenced once the
// plan commits.
func buildImagePlan(grenadeID string, live []store.GrenadeImage, ops []store.ImageChangeOp) (store.ImagePlan, []string) {
	liveByID := make(map[string]store.GrenadeImage, len(live))
	for _, img := range live {
		liveByID[img.ID] = img
	}

	var plan store.ImagePlan
	var staleBlobs []string
	for _, op := range ops {
		switch {
		case op.LiveImageID == nil:
			// Pure creation. A new image without content should not exist,
			// skip defensively if it does.
			if op.ContentType == nil || op.BlobKey == nil {
				continue
			}
			plan.Creates = append(plan.Creates, store.GrenadeImage{
				ID:          *op.BlobKey,
				GrenadeID:   grenadeID,
				ContentType: *op.ContentType,
				Description: optionalToPtr(op.Description),
				Order:       op.Order.Or(""),
			})
		case op.Delete:
			plan.Deletes = append(plan.Deletes, *op.LiveImageID)
			staleBlobs = append(staleBlobs, *op.LiveImageID)
		default:
			old, ok := liveByID[*op.LiveImageID]
			if !ok {
				continue
			}
			if op.ContentType != nil && op.BlobKey != nil {
				// Content replace: new identity, old row and blob go away.
				plan.Deletes = append(plan.Deletes, old.ID)
				staleBlobs = append(staleBlobs, old.ID)
				plan.Creates = append(plan.Creates, store.GrenadeImage{
					ID:          *op.BlobKey,
					GrenadeID:   grenadeID,
					ContentType: *op.ContentType,
					Description: optionalToPtr(op.Description),
					Order:       op.Order.Or(old.Order),
				})
			} else {
				plan.MetaUpdates = append(plan.MetaUpdates, store.ImageMetaUpdate{
					ID:          old.ID,
					Description: op.Description,
					Order:       op.Order,
				})
			}
		}
	}
	return plan, staleBlobs
}

func (s *Service) entityName(ctx context.Context, kind store.EntityKind, entityID string) (string, error) {
	switch kind {
	case store.KindDestination:
		d, err := s.store.GetDestination(ctx, entityID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", notFoundError("destination")
		}
		return d.Name, err
	case store.KindGrenade:
		g, err := s.store.GetGrenade(ctx, entityID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", notFoundError("grenade")
		}
		return g.Name, err
	default:
		return "", notFoundError("entity")
	}
}

func (s *Service) entityOwner(ctx context.Context, kind store.EntityKind, entityID string) (*string, error) {
	switch kind {
	case store.KindDestination:
		d, err := s.store.GetDestination(ctx, entityID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("destination")
		}
		return d.OwnerID, err
	case store.KindGrenade:
		g, err := s.store.GetGrenade(ctx, entityID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("grenade")
		}
		return g.OwnerID, err
	default:
		return nil, notFoundError("entity")
	}
}

func entityPath(kind store.EntityKind, entityID string) string {
	if kind == store.KindDestination {
		return "/destinations/" + entityID
	}
	return "/grenades/" + entityID
}

func optionalToPtr(opt util.Optional[string]) *string {
	if !opt.Set || opt.Value == "" {
		return nil
	}
	value := opt.Value
	return &value
}
