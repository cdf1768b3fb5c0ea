package app

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/hitusss/cs-grenade-sub000/internal/store"
	"github.com/hitusss/cs-grenade-sub000/internal/util"
)

// imageOpDraft is a classified image operation before persistence: the op
// plus any new content still to be staged in the blob store.
type imageOpDraft struct {
	op   store.ImageChangeOp
	data []byte
}

func (s *Service) captureDestinationChange(ctx context.Context, actor Actor, d store.Destination, submission DestinationSubmission) (RouteResult, error) {
	if _, err := s.store.GetPendingChange(ctx, store.KindDestination, d.ID); err == nil {
		return RouteResult{}, conflictError()
	} else if !errors.Is(err, sql.ErrNoRows) {
		return RouteResult{}, err
	}

	if destinationScalarsEqual(d, submission) {
		return RouteResult{Status: RouteNoOp}, nil
	}

	change := store.PendingChange{
		ID:          util.NewID("chg"),
		EntityKind:  store.KindDestination,
		EntityID:    d.ID,
		RequestedBy: actor.UserID,
		Name:        submission.Name,
		X:           submission.X,
		Y:           submission.Y,
	}
	if err := s.store.CreatePendingChange(ctx, change); err != nil {
		if errors.Is(err, store.ErrPendingChangeExists) {
			return RouteResult{}, conflictError()
		}
		return RouteResult{}, err
	}
	return RouteResult{Status: RouteRequested, PendingChangeID: change.ID}, nil
}

func (s *Service) captureGrenadeChange(ctx context.Context, actor Actor, g store.Grenade, submission GrenadeSubmission) (RouteResult, error) {
	if _, err := s.store.GetPendingChange(ctx, store.KindGrenade, g.ID); err == nil {
		return RouteResult{}, conflictError()
	} else if !errors.Is(err, sql.ErrNoRows) {
		return RouteResult{}, err
	}

	ops := classifyImageSubmissions(g.Images, submission.Images)
	if grenadeScalarsEqual(g, submission) && len(ops) == 0 {
		return RouteResult{Status: RouteNoOp}, nil
	}

	staged, err := s.stageOpBlobs(ctx, ops)
	if err != nil {
		return RouteResult{}, err
	}

	change := store.PendingChange{
		ID:          util.NewID("chg"),
		EntityKind:  store.KindGrenade,
		EntityID:    g.ID,
		RequestedBy: actor.UserID,
		Name:        submission.Name,
		X:           submission.X,
		Y:           submission.Y,
		Description: normalizeDescription(submission.Description),
		ImageOps:    staged,
	}
	if err := s.store.CreatePendingChange(ctx, change); err != nil {
		s.dropBlobs(ctx, stagedBlobKeys(staged))
		if errors.Is(err, store.ErrPendingChangeExists) {
			return RouteResult{}, conflictError()
		}
		return RouteResult{}, err
	}
	return RouteResult{Status: RouteRequested, PendingChangeID: change.ID}, nil
}

func validateImageSubmissions(live []store.GrenadeImage, subs []ImageSubmission) error {
	liveByID := make(map[string]store.GrenadeImage, len(live))
	for _, img := range live {
		liveByID[img.ID] = img
	}

	for _, sub := range subs {
		if sub.ImageID == "" {
			if len(sub.Data) == 0 || sub.ContentType == "" {
				return invalidError("new image requires content and content type")
			}
			continue
		}
		if _, ok := liveByID[sub.ImageID]; !ok {
			return invalidError("edit references unknown image " + sub.ImageID)
		}
		if len(sub.Data) > 0 && sub.ContentType == "" {
			return invalidError("image content requires a content type")
		}
	}
	return nil
}

// classifyImageSubmissions compares the submitted image collection to the
// live one and produces the change operations: every new-tagged row, every
// edit whose content/order/description actually differs, and a delete for
// every live image the submission omits.
func classifyImageSubmissions(live []store.GrenadeImage, subs []ImageSubmission) []imageOpDraft {
	liveByID := make(map[string]store.GrenadeImage, len(live))
	for _, img := range live {
		liveByID[img.ID] = img
	}

	var drafts []imageOpDraft
	referenced := make(map[string]bool, len(subs))

	for _, sub := range subs {
		if sub.ImageID == "" {
			op := store.ImageChangeOp{
				ContentType: ptr(sub.ContentType),
				Order:       util.Some(sub.Order),
			}
			if desc := normalizeDescription(sub.Description); desc != nil {
				op.Description = util.Some(*desc)
			}
			drafts = append(drafts, imageOpDraft{op: op, data: sub.Data})
			continue
		}

		target, ok := liveByID[sub.ImageID]
		if !ok {
			continue
		}
		referenced[sub.ImageID] = true

		var op store.ImageChangeOp
		changed := false
		if len(sub.Data) > 0 {
			op.ContentType = ptr(sub.ContentType)
			changed = true
		}
		if sub.Order != target.Order {
			changed = true
		}
		if !descriptionsEqual(target.Description, sub.Description) {
			op.Description = util.Some(valueOrEmpty(sub.Description))
			changed = true
		}
		if !changed {
			continue
		}
		// Every non-delete op carries its order; it is the correlation key
		// the diff uses to pair the op with a live image position.
		op.Order = util.Some(sub.Order)
		imageID := sub.ImageID
		op.LiveImageID = &imageID
		drafts = append(drafts, imageOpDraft{op: op, data: sub.Data})
	}

	// Omission of a live image from the submission is a deletion intent.
	for _, img := range live {
		if referenced[img.ID] {
			continue
		}
		imageID := img.ID
		drafts = append(drafts, imageOpDraft{op: store.ImageChangeOp{
			LiveImageID: &imageID,
			Delete:      true,
		}})
	}
	return drafts
}

// stageOpBlobs gives each draft its op id and uploads new content to the
// blob store. The staged key becomes the new image's id if the change is
// accepted.
func (s *Service) stageOpBlobs(ctx context.Context, drafts []imageOpDraft) ([]store.ImageChangeOp, error) {
	ops := make([]store.ImageChangeOp, 0, len(drafts))
	var stagedKeys []string
	for _, draft := range drafts {
		op := draft.op
		op.ID = util.NewID("imgop")
		if op.ContentType != nil && len(draft.data) > 0 {
			key, err := s.blobs.Put(ctx, draft.data, *op.ContentType)
			if err != nil {
				s.dropBlobs(ctx, stagedKeys)
				return nil, err
			}
			op.BlobKey = &key
			stagedKeys = append(stagedKeys, key)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func stagedBlobKeys(ops []store.ImageChangeOp) []string {
	var keys []string
	for _, op := range ops {
		if op.BlobKey != nil {
			keys = append(keys, *op.BlobKey)
		}
	}
	return keys
}

// dropBlobs removes blobs best-effort; failures only get logged.
func (s *Service) dropBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			log.Printf("blob: delete %s: %v", key, err)
		}
	}
}

func destinationScalarsEqual(d store.Destination, submission DestinationSubmission) bool {
	return d.Name == submission.Name && d.X == submission.X && d.Y == submission.Y
}

func grenadeScalarsEqual(g store.Grenade, submission GrenadeSubmission) bool {
	return g.Name == submission.Name &&
		g.X == submission.X &&
		g.Y == submission.Y &&
		descriptionsEqual(g.Description, submission.Description)
}

// descriptionsEqual treats a nil description and an empty one as the same
// value, so an absent submitted description matches a never-set live one.
func descriptionsEqual(live *string, submitted *string) bool {
	return valueOrEmpty(live) == valueOrEmpty(submitted)
}

func valueOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// normalizeDescription maps empty to nil so the store never keeps empty
// strings where NULL is meant.
func normalizeDescription(value *string) *string {
	if value == nil || *value == "" {
		return nil
	}
	return value
}

func ptr(value string) *string {
	return &value
}
