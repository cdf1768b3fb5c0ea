package store

import (
	"errors"
	"time"

	"github.com/hitusss/cs-grenade-sub000/internal/util"
)

// ErrPendingChangeExists is returned by CreatePendingChange when the entity
// already has an open change request. Backed by a unique constraint on
// (entity_kind, entity_id), so concurrent captures cannot both succeed.
var ErrPendingChangeExists = errors.New("pending change already exists for entity")

type EntityKind string

const (
	KindDestination EntityKind = "destination"
	KindGrenade     EntityKind = "grenade"
)

type User struct {
	ID          string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

// Destination is a named spot on a map where grenades land.
type Destination struct {
	ID        string
	Name      string
	X         string
	Y         string
	OwnerID   *string
	Verified  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Grenade is a throwable lineup. Its image blobs live in the blob store,
// keyed by GrenadeImage.ID.
type Grenade struct {
	ID          string
	Name        string
	X           string
	Y           string
	Description *string
	OwnerID     *string
	Verified    bool
	Images      []GrenadeImage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GrenadeImage is one attachment in a grenade's ordered image collection.
// Order is a string-encoded integer; it drives display ordering and is the
// correlation key between live images and proposed changes.
type GrenadeImage struct {
	ID          string
	GrenadeID   string
	ContentType string
	Description *string
	Order       string
	CreatedAt   time.Time
}

// PendingChange shadows a live entity with a proposed replacement of its
// scalar fields plus, for grenades, an ordered list of image operations.
// At most one exists per entity.
type PendingChange struct {
	ID          string
	EntityKind  EntityKind
	EntityID    string
	RequestedBy string
	Name        string
	X           string
	Y           string
	Description *string
	ImageOps    []ImageChangeOp
	CreatedAt   time.Time
}

// ImageChangeOp is one proposed create, edit, or delete against the live
// image collection. LiveImageID is nil for a brand-new image. BlobKey points
// at staged content in the blob store and is set together with ContentType.
// Description is carried only when it differs from the live image; an unset
// field means "leave unchanged". Order is carried on every non-delete op
// since it doubles as the correlation key between ops and live images.
type ImageChangeOp struct {
	ID              string
	PendingChangeID string
	LiveImageID     *string
	Delete          bool
	ContentType     *string
	BlobKey         *string
	Description     util.Optional[string]
	Order           util.Optional[string]
}

// DestinationFields is the scalar snapshot written over a destination.
type DestinationFields struct {
	Name string
	X    string
	Y    string
}

// GrenadeFields is the scalar snapshot written over a grenade. A nil
// Description clears the live one.
type GrenadeFields struct {
	Name        string
	X           string
	Y           string
	Description *string
}

// ImagePlan is the set of image-collection writes applied in one
// transaction when an edit lands (directly or via an accepted request).
// A content-replacing edit appears as a delete of the old row plus a create
// with a fresh identity.
type ImagePlan struct {
	Creates     []GrenadeImage
	MetaUpdates []ImageMetaUpdate
	Deletes     []string
}

// ImageMetaUpdate narrowly updates an image in place, touching only the
// fields that are set.
type ImageMetaUpdate struct {
	ID          string
	Description util.Optional[string]
	Order       util.Optional[string]
}

// Empty reports whether the plan performs no writes.
func (p ImagePlan) Empty() bool {
	return len(p.Creates) == 0 && len(p.MetaUpdates) == 0 && len(p.Deletes) == 0
}
