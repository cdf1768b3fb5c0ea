package app

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitusss/cs-grenade-sub000/internal/rbac"
	"github.com/hitusss/cs-grenade-sub000/internal/store"
	"github.com/hitusss/cs-grenade-sub000/internal/util"
)

// RouteStatus says what happened to a submitted edit.
type RouteStatus string

const (
	// RouteApplied - the actor had the update capability and the edit was
	// written straight to the live entity.
	RouteApplied RouteStatus = "applied"
	// RouteRequested - the edit was captured as a pending change request.
	RouteRequested RouteStatus = "requested"
	// RouteNoOp - the submission is identical to the live entity; nothing
	// was saved.
	RouteNoOp RouteStatus = "noop"
)

type RouteResult struct {
	Status          RouteStatus `json:"status"`
	PendingChangeID string      `json:"pendingChangeId,omitempty"`
}

type DestinationSubmission struct {
	Name string `json:"name"`
	X    string `json:"x"`
	Y    string `json:"y"`
}

type GrenadeSubmission struct {
	Name        string            `json:"name"`
	X           string            `json:"x"`
	Y           string            `json:"y"`
	Description *string           `json:"description"`
	Images      []ImageSubmission `json:"images"`
}

// ImageSubmission is one row of the submitted image collection. ImageID is
// empty for a brand-new image and set for an edit of an existing one; live
// images absent from the submission are deleted. Data carries new content
// (required for new images, optional for edits).
type ImageSubmission struct {
	ImageID     string  `json:"imageId,omitempty"`
	ContentType string  `json:"contentType,omitempty"`
	Data        []byte  `json:"data,omitempty"`
	Description *string `json:"description"`
	Order       string  `json:"order"`
}

// RouteDestinationEdit routes a destination edit to a direct apply or a
// change-request capture, depending on the actor's update capability.
func (s *Service) RouteDestinationEdit(ctx context.Context, actor Actor, destinationID string, submission DestinationSubmission) (RouteResult, error) {
	d, err := s.store.GetDestination(ctx, destinationID)
	if errors.Is(err, sql.ErrNoRows) {
		return RouteResult{}, notFoundError("destination")
	}
	if err != nil {
		return RouteResult{}, err
	}

	if s.caps.HasCapability(actor.Role, rbac.ActionUpdate, rbac.EntityDestination, updateScope(d.OwnerID, actor)) {
		return s.applyDestinationEdit(ctx, d, submission)
	}
	return s.captureDestinationChange(ctx, actor, d, submission)
}

// RouteGrenadeEdit routes a grenade edit, including its image operations.
func (s *Service) RouteGrenadeEdit(ctx context.Context, actor Actor, grenadeID string, submission GrenadeSubmission) (RouteResult, error) {
	g, err := s.store.GetGrenade(ctx, grenadeID)
	if errors.Is(err, sql.ErrNoRows) {
		return RouteResult{}, notFoundError("grenade")
	}
	if err != nil {
		return RouteResult{}, err
	}

	if err := validateImageSubmissions(g.Images, submission.Images); err != nil {
		return RouteResult{}, err
	}

	if s.caps.HasCapability(actor.Role, rbac.ActionUpdate, rbac.EntityGrenade, updateScope(g.OwnerID, actor)) {
		return s.applyGrenadeEdit(ctx, g, submission)
	}
	return s.captureGrenadeChange(ctx, actor, g, submission)
}

// updateScope picks the capability scope: "own" when the actor owns the
// entity, "any" otherwise.
func updateScope(ownerID *string, actor Actor) rbac.Scope {
	if ownerID != nil && *ownerID == actor.UserID {
		return rbac.ScopeOwn
	}
	return rbac.ScopeAny
}

func (s *Service) applyDestinationEdit(ctx context.Context, d store.Destination, submission DestinationSubmission) (RouteResult, error) {
	if destinationScalarsEqual(d, submission) {
		return RouteResult{Status: RouteNoOp}, nil
	}

	fields := store.DestinationFields{Name: submission.Name, X: submission.X, Y: submission.Y}
	if err := s.store.ApplyDestinationChange(ctx, d.ID, fields, ""); err != nil {
		return RouteResult{}, err
	}

	d.Name, d.X, d.Y = submission.Name, submission.X, submission.Y
	s.indexDestination(d)
	return RouteResult{Status: RouteApplied}, nil
}

func (s *Service) applyGrenadeEdit(ctx context.Context, g store.Grenade, submission GrenadeSubmission) (RouteResult, error) {
	ops := classifyImageSubmissions(g.Images, submission.Images)
	if grenadeScalarsEqual(g, submission) && len(ops) == 0 {
		return RouteResult{Status: RouteNoOp}, nil
	}

	staged, err := s.stageOpBlobs(ctx, ops)
	if err != nil {
		return RouteResult{}, err
	}

	plan, staleBlobs := buildImagePlan(g.ID, g.Images, staged)
	fields := store.GrenadeFields{
		Name:        submission.Name,
		X:           submission.X,
		Y:           submission.Y,
		Description: normalizeDescription(submission.Description),
	}
	if err := s.store.ApplyGrenadeChange(ctx, g.ID, fields, plan, ""); err != nil {
		s.dropBlobs(ctx, stagedBlobKeys(staged))
		return RouteResult{}, err
	}

	s.dropBlobs(ctx, staleBlobs)

	g.Name, g.X, g.Y, g.Description = fields.Name, fields.X, fields.Y, fields.Description
	s.indexGrenade(g)
	return RouteResult{Status: RouteApplied}, nil
}

// CreateDestination inserts a new destination. Content created by users with
// the create-any capability goes live verified; everyone else's starts as an
// unverified pending creation.
func (s *Service) CreateDestination(ctx context.Context, actor Actor, submission DestinationSubmission) (store.Destination, error) {
	if !s.caps.HasCapability(actor.Role, rbac.ActionCreate, rbac.EntityDestination, rbac.ScopeOwn) {
		return store.Destination{}, unauthorizedError("missing create capability")
	}

	d := store.Destination{
		ID:       util.NewID("dest"),
		Name:     submission.Name,
		X:        submission.X,
		Y:        submission.Y,
		OwnerID:  &actor.UserID,
		Verified: s.caps.HasCapability(actor.Role, rbac.ActionCreate, rbac.EntityDestination, rbac.ScopeAny),
	}
	if err := s.store.InsertDestination(ctx, d); err != nil {
		return store.Destination{}, err
	}
	s.indexDestination(d)
	return d, nil
}

// CreateGrenade inserts a new grenade together with its initial images.
func (s *Service) CreateGrenade(ctx context.Context, actor Actor, submission GrenadeSubmission) (store.Grenade, error) {
	if !s.caps.HasCapability(actor.Role, rbac.ActionCreate, rbac.EntityGrenade, rbac.ScopeOwn) {
		return store.Grenade{}, unauthorizedError("missing create capability")
	}

	g := store.Grenade{
		ID:          util.NewID("gren"),
		Name:        submission.Name,
		X:           submission.X,
		Y:           submission.Y,
		Description: normalizeDescription(submission.Description),
		OwnerID:     &actor.UserID,
		Verified:    s.caps.HasCapability(actor.Role, rbac.ActionCreate, rbac.EntityGrenade, rbac.ScopeAny),
	}

	for _, sub := range submission.Images {
		if sub.ImageID != "" {
			return store.Grenade{}, invalidError("cannot reference existing images on create")
		}
		if len(sub.Data) == 0 || sub.ContentType == "" {
			return store.Grenade{}, invalidError("new image requires content and content type")
		}
		id, err := s.blobs.Put(ctx, sub.Data, sub.ContentType)
		if err != nil {
			return store.Grenade{}, err
		}
		g.Images = append(g.Images, store.GrenadeImage{
			ID:          id,
			GrenadeID:   g.ID,
			ContentType: sub.ContentType,
			Description: normalizeDescription(sub.Description),
			Order:       sub.Order,
		})
	}

	if err := s.store.InsertGrenade(ctx, g); err != nil {
		for _, img := range g.Images {
			s.dropBlobs(ctx, []string{img.ID})
		}
		return store.Grenade{}, err
	}
	s.indexGrenade(g)
	return g, nil
}
