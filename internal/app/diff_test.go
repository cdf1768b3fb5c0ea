package app

import (
	"context"
	"errors"
	"testing"

	"github.com/hitusss/cs-grenade-sub000/internal/store"
	"github.com/hitusss/cs-grenade-sub000/internal/util"
)

func TestCorrelateMatchesByOrderAndDeleteFallback(t *testing.T) {
	live := []store.GrenadeImage{
		{ID: "img_0", Order: "0"},
		{ID: "img_1", Order: "1"},
	}
	img1 := "img_1"
	ops := []store.ImageChangeOp{
		{ID: "op_del", LiveImageID: &img1, Delete: true},
		{ID: "op_new", Order: util.Some("2")},
	}

	rows := correlate(live, ops)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}

	// Position 0: live image, no op.
	if rows[0].live == nil || rows[0].live.ID != "img_0" || rows[0].op != nil {
		t.Fatalf("bad row 0: %+v", rows[0])
	}
	// Position 1: live image matched to the delete op by live image id.
	if rows[1].live == nil || rows[1].op == nil || rows[1].op.ID != "op_del" {
		t.Fatalf("bad row 1: %+v", rows[1])
	}
	// Position 2: creation op only.
	if rows[2].live != nil || rows[2].op == nil || rows[2].op.ID != "op_new" {
		t.Fatalf("bad row 2: %+v", rows[2])
	}
}

func TestCorrelatePrefersOrderMatchOverDeleteFallback(t *testing.T) {
	live := []store.GrenadeImage{{ID: "img_0", Order: "0"}}
	img0 := "img_0"
	ops := []store.ImageChangeOp{
		{ID: "op_edit", LiveImageID: &img0, Order: util.Some("0"), Description: util.Some("x")},
	}
	rows := correlate(live, ops)
	if len(rows) != 1 || rows[0].op == nil || rows[0].op.ID != "op_edit" {
		t.Fatalf("expected order match, got %+v", rows)
	}
}

func TestDiffRoundTripImageOnlyChange(t *testing.T) {
	// No scalar changes, image changes only: zero changed field diffs and one
	// attachment row per affected position, with deleted flags matching the
	// capture-time classification.
	env := newTestEnv()
	owner := "user_owner"
	g := env.addGrenade(t, store.Grenade{
		Name: "G1", X: "1", Y: "2", OwnerID: &owner,
		Images: []store.GrenadeImage{
			{ID: "img_0", ContentType: "image/png", Order: "0"},
			{ID: "img_1", ContentType: "image/png", Order: "1"},
		},
	})

	desc := "annotated"
	_, err := env.svc.RouteGrenadeEdit(context.Background(), userActor(owner), g.ID, GrenadeSubmission{
		Name: "G1", X: "1", Y: "2",
		Images: []ImageSubmission{
			{ImageID: "img_0", Description: &desc, Order: "0"},
		},
	})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	view, err := env.svc.GetReview(context.Background(), store.KindGrenade, g.ID)
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}

	for _, field := range view.Fields {
		if field.Changed {
			t.Fatalf("no scalar field should be changed: %+v", field)
		}
	}

	if len(view.Attachments) != 2 {
		t.Fatalf("expected 2 attachment rows, got %d", len(view.Attachments))
	}

	edited := view.Attachments[0]
	if edited.Deleted {
		t.Fatalf("row 0 is an edit, not a delete: %+v", edited)
	}
	if edited.Old == nil || edited.Old.ImageID != "img_0" {
		t.Fatalf("bad old cell: %+v", edited.Old)
	}
	// Metadata-only edit shows the unchanged live content as the new value.
	if edited.New == nil || edited.New.ImageID != "img_0" || edited.New.URL != "/images/img_0" {
		t.Fatalf("bad new cell: %+v", edited.New)
	}
	if edited.New.Description == nil || *edited.New.Description != desc {
		t.Fatalf("new cell must carry the proposed description: %+v", edited.New)
	}

	removed := view.Attachments[1]
	if !removed.Deleted || removed.Old == nil || removed.Old.ImageID != "img_1" || removed.New != nil {
		t.Fatalf("bad delete row: %+v", removed)
	}
}

func TestDiffScalarChanges(t *testing.T) {
	env := newTestEnv()
	owner := "user_owner"
	d := env.addDestination(t, store.Destination{Name: "A Site", X: "100", Y: "200", OwnerID: &owner})
	if _, err := env.svc.RouteDestinationEdit(context.Background(), userActor(owner), d.ID, DestinationSubmission{
		Name: "B Site", X: "100", Y: "250",
	}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	view, err := env.svc.GetReview(context.Background(), store.KindDestination, d.ID)
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}

	byField := map[string]FieldDiff{}
	for _, field := range view.Fields {
		byField[field.Field] = field
	}
	name := byField["name"]
	if !name.Changed || name.New == nil || *name.New != "B Site" || *name.Old != "A Site" {
		t.Fatalf("bad name diff: %+v", name)
	}
	x := byField["x"]
	if x.Changed || x.New != nil || *x.Old != "100" {
		t.Fatalf("unchanged field must expose only old: %+v", x)
	}
	y := byField["y"]
	if !y.Changed || *y.New != "250" {
		t.Fatalf("bad y diff: %+v", y)
	}
}

func TestDiffContentReplaceShowsStagedBlob(t *testing.T) {
	env := newTestEnv()
	owner := "user_owner"
	g := env.addGrenade(t, store.Grenade{
		Name: "G1", X: "1", Y: "2", OwnerID: &owner,
		Images: []store.GrenadeImage{{ID: "img_a", ContentType: "image/png", Order: "0"}},
	})
	if _, err := env.svc.RouteGrenadeEdit(context.Background(), userActor(owner), g.ID, GrenadeSubmission{
		Name: "G1", X: "1", Y: "2",
		Images: []ImageSubmission{
			{ImageID: "img_a", ContentType: "image/jpeg", Data: []byte("retake"), Order: "0"},
		},
	}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	view, err := env.svc.GetReview(context.Background(), store.KindGrenade, g.ID)
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if len(view.Attachments) != 1 {
		t.Fatalf("expected 1 row, got %d", len(view.Attachments))
	}
	row := view.Attachments[0]
	if row.Old == nil || row.Old.ImageID != "img_a" {
		t.Fatalf("bad old cell: %+v", row.Old)
	}
	if row.New == nil || row.New.ImageID == "img_a" {
		t.Fatalf("new cell must point at the staged blob: %+v", row.New)
	}
	if row.New.ContentType != "image/jpeg" {
		t.Fatalf("new cell content type wrong: %+v", row.New)
	}
	// Staged content is fetchable through the same image endpoint contract.
	data, _, err := env.svc.GetImage(context.Background(), row.New.ImageID)
	if err != nil || string(data) != "retake" {
		t.Fatalf("staged blob not fetchable: %v", err)
	}
}

func TestDiffReorderRendersMovedImage(t *testing.T) {
	// An edit that moves an image onto a position another image occupies must
	// render the moved image on the proposed side, not the incumbent.
	env := newTestEnv()
	owner := "user_owner"
	g := env.addGrenade(t, store.Grenade{
		Name: "G1", X: "1", Y: "2", OwnerID: &owner,
		Images: []store.GrenadeImage{
			{ID: "img_a", ContentType: "image/png", Order: "0"},
			{ID: "img_b", ContentType: "image/jpeg", Order: "1"},
		},
	})

	if _, err := env.svc.RouteGrenadeEdit(context.Background(), userActor(owner), g.ID, GrenadeSubmission{
		Name: "G1", X: "1", Y: "2",
		Images: []ImageSubmission{
			{ImageID: "img_a", Order: "1"},
		},
	}); err != nil {
		t.Fatalf("capture: %v", err)
	}

	view, err := env.svc.GetReview(context.Background(), store.KindGrenade, g.ID)
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if len(view.Attachments) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(view.Attachments))
	}

	moved := view.Attachments[1]
	if moved.Old == nil || moved.Old.ImageID != "img_b" {
		t.Fatalf("bad old cell: %+v", moved.Old)
	}
	if moved.New == nil || moved.New.ImageID != "img_a" {
		t.Fatalf("new cell must render the moved image: %+v", moved.New)
	}
	if moved.New.ContentType != "image/png" {
		t.Fatalf("new cell must carry the moved image's content type: %+v", moved.New)
	}
	if moved.New.Order != "1" {
		t.Fatalf("new cell must carry the proposed order: %+v", moved.New)
	}
}

func TestGetReviewWithoutPendingChange(t *testing.T) {
	env := newTestEnv()
	owner := "user_owner"
	d := env.addDestination(t, store.Destination{Name: "A Site", X: "1", Y: "2", OwnerID: &owner})

	_, err := env.svc.GetReview(context.Background(), store.KindDestination, d.ID)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}
