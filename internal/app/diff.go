package app

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/hitusss/cs-grenade-sub000/internal/store"
)

// FieldDiff is one scalar field of the review view. New is present only when
// the pending change actually alters the field.
type FieldDiff struct {
	Field   string  `json:"field"`
	Changed bool    `json:"changed"`
	Old     *string `json:"old"`
	New     *string `json:"new,omitempty"`
}

// ImageCell renders one side of an attachment diff row. URL is the
// id-addressed image endpoint.
type ImageCell struct {
	ImageID     string  `json:"imageId"`
	URL         string  `json:"url"`
	ContentType string  `json:"contentType"`
	Description *string `json:"description"`
	Order       string  `json:"order"`
}

// AttachmentDiffRow pairs the live image at a display position with the
// change op proposed for that position. Either side may be absent.
type AttachmentDiffRow struct {
	Index   int        `json:"index"`
	Old     *ImageCell `json:"old"`
	New     *ImageCell `json:"new"`
	Deleted bool       `json:"deleted"`
}

// ReviewView is everything a reviewer needs to judge a pending change.
type ReviewView struct {
	EntityKind      store.EntityKind    `json:"entityKind"`
	EntityID        string              `json:"entityId"`
	EntityName      string              `json:"entityName"`
	PendingChangeID string              `json:"pendingChangeId"`
	RequestedBy     string              `json:"requestedBy"`
	Fields          []FieldDiff         `json:"fields"`
	Attachments     []AttachmentDiffRow `json:"attachments"`
}

// GetReview loads the entity's pending change and builds the structural
// diff against the live record.
func (s *Service) GetReview(ctx context.Context, kind store.EntityKind, entityID string) (ReviewView, error) {
	switch kind {
	case store.KindDestination:
		return s.destinationReview(ctx, entityID)
	case store.KindGrenade:
		return s.grenadeReview(ctx, entityID)
	default:
		return ReviewView{}, notFoundError("entity")
	}
}

func (s *Service) destinationReview(ctx context.Context, destinationID string) (ReviewView, error) {
	d, err := s.store.GetDestination(ctx, destinationID)
	if errors.Is(err, sql.ErrNoRows) {
		return ReviewView{}, notFoundError("destination")
	}
	if err != nil {
		return ReviewView{}, err
	}

	change, err := s.store.GetPendingChange(ctx, store.KindDestination, d.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return ReviewView{}, notFoundError("pending change")
	}
	if err != nil {
		return ReviewView{}, err
	}

	return ReviewView{
		EntityKind:      store.KindDestination,
		EntityID:        d.ID,
		EntityName:      d.Name,
		PendingChangeID: change.ID,
		RequestedBy:     change.RequestedBy,
		Fields: []FieldDiff{
			fieldDiff("name", d.Name, change.Name),
			fieldDiff("x", d.X, change.X),
			fieldDiff("y", d.Y, change.Y),
		},
		Attachments: []AttachmentDiffRow{},
	}, nil
}

func (s *Service) grenadeReview(ctx context.Context, grenadeID string) (ReviewView, error) {
	g, err := s.store.GetGrenade(ctx, grenadeID)
	if errors.Is(err, sql.ErrNoRows) {
		return ReviewView{}, notFoundError("grenade")
	}
	if err != nil {
		return ReviewView{}, err
	}

	change, err := s.store.GetPendingChange(ctx, store.KindGrenade, g.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return ReviewView{}, notFoundError("pending change")
	}
	if err != nil {
		return ReviewView{}, err
	}

	return ReviewView{
		EntityKind:      store.KindGrenade,
		EntityID:        g.ID,
		EntityName:      g.Name,
		PendingChangeID: change.ID,
		RequestedBy:     change.RequestedBy,
		Fields: []FieldDiff{
			fieldDiff("name", g.Name, change.Name),
			fieldDiff("x", g.X, change.X),
			fieldDiff("y", g.Y, change.Y),
			nullableFieldDiff("description", g.Description, change.Description),
		},
		Attachments: attachmentDiff(g.Images, change.ImageOps),
	}, nil
}

func fieldDiff(field, live, proposed string) FieldDiff {
	d := FieldDiff{Field: field, Old: &live}
	if live != proposed {
		d.Changed = true
		d.New = &proposed
	}
	return d
}

func nullableFieldDiff(field string, live, proposed *string) FieldDiff {
	d := FieldDiff{Field: field, Old: live}
	if !descriptionsEqual(live, proposed) {
		d.Changed = true
		d.New = proposed
	}
	return d
}

// correlation pairs the live image at a display position with the change op
// targeting that position.
type correlation struct {
	index int
	live  *store.GrenadeImage
	op    *store.ImageChangeOp
}

// correlate matches live images and change ops positionally by their order
// value, one row per position from 0 to the highest order on either side.
// A deletion op carries no order, so it falls back to matching by the live
// image id at the position. Display order doubles as the correlation key
// here; keep any change to that scheme inside this function.
func correlate(live []store.GrenadeImage, ops []store.ImageChangeOp) []correlation {
	n := 0
	for _, img := range live {
		if o, ok := parseOrder(img.Order); ok && o+1 > n {
			n = o + 1
		}
	}
	for _, op := range ops {
		if !op.Order.Set {
			continue
		}
		if o, ok := parseOrder(op.Order.Value); ok && o+1 > n {
			n = o + 1
		}
	}

	rows := make([]correlation, 0, n)
	for i := 0; i < n; i++ {
		row := correlation{index: i}
		for j := range live {
			if o, ok := parseOrder(live[j].Order); ok && o == i {
				row.live = &live[j]
				break
			}
		}
		for j := range ops {
			if ops[j].Order.Set {
				if o, ok := parseOrder(ops[j].Order.Value); ok && o == i {
					row.op = &ops[j]
					break
				}
			}
		}
		if row.op == nil && row.live != nil {
			for j := range ops {
				if ops[j].Delete && ops[j].LiveImageID != nil && *ops[j].LiveImageID == row.live.ID {
					row.op = &ops[j]
					break
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func attachmentDiff(live []store.GrenadeImage, ops []store.ImageChangeOp) []AttachmentDiffRow {
	rows := []AttachmentDiffRow{}
	for _, c := range correlate(live, ops) {
		row := AttachmentDiffRow{Index: c.index}
		if c.live != nil {
			row.Old = imageCell(*c.live)
		}
		if c.op != nil {
			row.Deleted = c.op.Delete
			if !c.op.Delete {
				row.New = changeCell(*c.op, opSource(*c.op, c.live, live))
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func imageCell(img store.GrenadeImage) *ImageCell {
	return &ImageCell{
		ImageID:     img.ID,
		URL:         "/images/" + img.ID,
		ContentType: img.ContentType,
		Description: img.Description,
		Order:       img.Order,
	}
}

// opSource resolves the live image an op's proposed cell inherits from.
// An edit op names its target by LiveImageID; the image at the row's position
// is only a fallback. The two differ when the op moves an image onto a
// position another image currently occupies.
func opSource(op store.ImageChangeOp, positional *store.GrenadeImage, live []store.GrenadeImage) *store.GrenadeImage {
	if op.LiveImageID != nil {
		for i := range live {
			if live[i].ID == *op.LiveImageID {
				return &live[i]
			}
		}
	}
	return positional
}

// changeCell renders the proposed side of a row. An op carrying new content
// shows its staged blob; a metadata-only edit shows the unchanged content of
// the image it targets, with the op's overrides on top.
func changeCell(op store.ImageChangeOp, source *store.GrenadeImage) *ImageCell {
	cell := &ImageCell{}
	switch {
	case op.ContentType != nil && op.BlobKey != nil:
		cell.ImageID = *op.BlobKey
		cell.URL = "/images/" + *op.BlobKey
		cell.ContentType = *op.ContentType
	case source != nil:
		cell.ImageID = source.ID
		cell.URL = "/images/" + source.ID
		cell.ContentType = source.ContentType
	case op.LiveImageID != nil:
		cell.ImageID = *op.LiveImageID
		cell.URL = "/images/" + *op.LiveImageID
	}

	if source != nil {
		cell.Description = source.Description
		cell.Order = source.Order
	}
	if op.Description.Set {
		cell.Description = normalizeDescription(&op.Description.Value)
	}
	if op.Order.Set {
		cell.Order = op.Order.Value
	}
	return cell
}

func parseOrder(order string) (int, bool) {
	n, err := strconv.Atoi(order)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
