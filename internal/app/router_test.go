package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/hitusss/cs-grenade-sub000/internal/store"
)

func strPtr(value string) *string { return &value }

func TestRouteDestinationEditAppliesForModerator(t *testing.T) {
	env := newTestEnv()
	d := env.addDestination(t, store.Destination{Name: "A Site", X: "100", Y: "200"})

	result, err := env.svc.RouteDestinationEdit(context.Background(), moderatorActor("mod_1"), d.ID, DestinationSubmission{
		Name: "A Site Renamed", X: "100", Y: "200",
	})
	if err != nil {
		t.Fatalf("RouteDestinationEdit: %v", err)
	}
	if result.Status != RouteApplied {
		t.Fatalf("expected applied, got %s", result.Status)
	}

	got, _ := env.svc.GetDestination(context.Background(), d.ID)
	if got.Name != "A Site Renamed" {
		t.Fatalf("live name not updated: %s", got.Name)
	}
	if len(env.store.pending) != 0 {
		t.Fatal("direct apply must not create a pending change")
	}
}

func TestRouteDestinationEditCapturesForRegularUser(t *testing.T) {
	env := newTestEnv()
	owner := "user_owner"
	d := env.addDestination(t, store.Destination{Name: "A Site", X: "100", Y: "200", OwnerID: &owner})

	result, err := env.svc.RouteDestinationEdit(context.Background(), userActor(owner), d.ID, DestinationSubmission{
		Name: "A Site Renamed", X: "100", Y: "200",
	})
	if err != nil {
		t.Fatalf("RouteDestinationEdit: %v", err)
	}
	if result.Status != RouteRequested || result.PendingChangeID == "" {
		t.Fatalf("expected requested with id, got %+v", result)
	}

	got, _ := env.svc.GetDestination(context.Background(), d.ID)
	if got.Name != "A Site" {
		t.Fatal("capture must not touch the live entity")
	}
	change, err := env.store.GetPendingChange(context.Background(), store.KindDestination, d.ID)
	if err != nil {
		t.Fatalf("pending change missing: %v", err)
	}
	if change.Name != "A Site Renamed" || change.RequestedBy != owner {
		t.Fatalf("bad pending change: %+v", change)
	}
}

func TestNoOpSubmissionNeverCreatesPendingChange(t *testing.T) {
	env := newTestEnv()
	owner := "user_owner"
	d := env.addDestination(t, store.Destination{Name: "A Site", X: "100", Y: "200", OwnerID: &owner})
	desc := "smoke"
	g := env.addGrenade(t, store.Grenade{
		Name: "CT Smoke", X: "1", Y: "2", Description: &desc, OwnerID: &owner,
		Images: []store.GrenadeImage{{ContentType: "image/png", Order: "0"}},
	})

	// Identical destination submission, both as owner and as moderator.
	for _, actor := range []Actor{userActor(owner), moderatorActor("mod_1")} {
		result, err := env.svc.RouteDestinationEdit(context.Background(), actor, d.ID, DestinationSubmission{
			Name: "A Site", X: "100", Y: "200",
		})
		if err != nil {
			t.Fatalf("RouteDestinationEdit(%s): %v", actor.Role, err)
		}
		if result.Status != RouteNoOp {
			t.Fatalf("expected noop for %s, got %s", actor.Role, result.Status)
		}
	}

	// Identical grenade submission referencing its image unchanged.
	result, err := env.svc.RouteGrenadeEdit(context.Background(), userActor(owner), g.ID, GrenadeSubmission{
		Name: "CT Smoke", X: "1", Y: "2", Description: &desc,
		Images: []ImageSubmission{{ImageID: g.Images[0].ID, Order: "0"}},
	})
	if err != nil {
		t.Fatalf("RouteGrenadeEdit: %v", err)
	}
	if result.Status != RouteNoOp {
		t.Fatalf("expected noop, got %s", result.Status)
	}
	if len(env.store.pending) != 0 {
		t.Fatal("no-op submissions must not persist anything")
	}
}

func TestSinglePendingChangeInvariant(t *testing.T) {
	env := newTestEnv()
	owner := "user_owner"
	d := env.addDestination(t, store.Destination{Name: "A Site", X: "100", Y: "200", OwnerID: &owner})

	first, err := env.svc.RouteDestinationEdit(context.Background(), userActor(owner), d.ID, DestinationSubmission{
		Name: "First Edit", X: "100", Y: "200",
	})
	if err != nil {
		t.Fatalf("first capture: %v", err)
	}
	if first.Status != RouteRequested {
		t.Fatalf("expected requested, got %s", first.Status)
	}

	_, err = env.svc.RouteDestinationEdit(context.Background(), userActor("user_other"), d.ID, DestinationSubmission{
		Name: "Second Edit", X: "100", Y: "200",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "PENDING_CHANGE_EXISTS" {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(env.store.pending) != 1 {
		t.Fatalf("expected exactly one pending change, got %d", len(env.store.pending))
	}
}

// blindPrecheckStore hides existing pending changes from GetPendingChange so
// the capture pre-check passes and the conflict has to come from the insert's
// uniqueness guarantee, like a concurrent submission slipping in between the
// two statements.
type blindPrecheckStore struct {
	*memStore
}

func (b *blindPrecheckStore) GetPendingChange(context.Context, store.EntityKind, string) (store.PendingChange, error) {
	return store.PendingChange{}, sql.ErrNoRows
}

func TestCaptureConflictSurvivesRacyInsert(t *testing.T) {
	env := newTestEnv()
	env.svc.store = &blindPrecheckStore{memStore: env.store}
	owner := "user_owner"
	g := env.addGrenade(t, store.Grenade{Name: "G1", X: "1", Y: "2", OwnerID: &owner})

	if err := env.store.CreatePendingChange(context.Background(), store.PendingChange{
		ID: "chg_winner", EntityKind: store.KindGrenade, EntityID: g.ID,
		RequestedBy: "user_other", Name: "Winner", X: "1", Y: "2",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	blobsBefore := env.blobs.Len()
	_, err := env.svc.RouteGrenadeEdit(context.Background(), userActor(owner), g.ID, GrenadeSubmission{
		Name: "Loser", X: "1", Y: "2",
		Images: []ImageSubmission{{ContentType: "image/png", Data: []byte("staged"), Order: "0"}},
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "PENDING_CHANGE_EXISTS" {
		t.Fatalf("expected conflict, got %v", err)
	}
	if env.blobs.Len() != blobsBefore {
		t.Fatal("staged blobs must be cleaned up after a conflicting insert")
	}
}

func TestCaptureGrenadeStagesBlobAndRecordsOps(t *testing.T) {
	// Entity G1 has one image at order 0. The owner adds a second image at
	// order 1 without touching the first; the capture must record exactly one
	// creation op carrying staged content.
	env := newTestEnv()
	owner := "user_owner"
	descSmoke := "smoke"
	g := env.addGrenade(t, store.Grenade{
		Name: "G1", X: "10", Y: "20", OwnerID: &owner,
		Images: []store.GrenadeImage{{ID: "img_a", ContentType: "image/png", Description: &descSmoke, Order: "0"}},
	})

	blobsBefore := env.blobs.Len()
	result, err := env.svc.RouteGrenadeEdit(context.Background(), userActor(owner), g.ID, GrenadeSubmission{
		Name: "G1", X: "10", Y: "20",
		Images: []ImageSubmission{
			{ImageID: "img_a", Description: &descSmoke, Order: "0"},
			{ContentType: "image/png", Data: []byte("new-content"), Description: strPtr("pop"), Order: "1"},
		},
	})
	if err != nil {
		t.Fatalf("RouteGrenadeEdit: %v", err)
	}
	if result.Status != RouteRequested {
		t.Fatalf("expected requested, got %s", result.Status)
	}
	if env.blobs.Len() != blobsBefore+1 {
		t.Fatalf("expected one staged blob, delta %d", env.blobs.Len()-blobsBefore)
	}

	change, err := env.store.GetPendingChange(context.Background(), store.KindGrenade, g.ID)
	if err != nil {
		t.Fatalf("pending change missing: %v", err)
	}
	if len(change.ImageOps) != 1 {
		t.Fatalf("expected 1 op, got %d", len(change.ImageOps))
	}
	op := change.ImageOps[0]
	if op.LiveImageID != nil || op.Delete {
		t.Fatalf("expected pure creation op, got %+v", op)
	}
	if op.BlobKey == nil || op.ContentType == nil {
		t.Fatalf("creation op missing content: %+v", op)
	}
	if !op.Order.Set || op.Order.Value != "1" {
		t.Fatalf("creation op order wrong: %+v", op.Order)
	}
}

func TestCaptureRejectsInvalidImageSubmissions(t *testing.T) {
	env := newTestEnv()
	owner := "user_owner"
	g := env.addGrenade(t, store.Grenade{
		Name: "G1", X: "1", Y: "2", OwnerID: &owner,
		Images: []store.GrenadeImage{{ID: "img_a", ContentType: "image/png", Order: "0"}},
	})

	cases := []struct {
		name string
		subs []ImageSubmission
	}{
		{"new image without content", []ImageSubmission{{Order: "1"}}},
		{"edit of unknown image", []ImageSubmission{{ImageID: "img_missing", Order: "0"}}},
		{"content without content type", []ImageSubmission{{ImageID: "img_a", Data: []byte("x"), Order: "0"}}},
	}
	for _, tc := range cases {
		_, err := env.svc.RouteGrenadeEdit(context.Background(), userActor(owner), g.ID, GrenadeSubmission{
			Name: "G1", X: "1", Y: "2", Images: tc.subs,
		})
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Code != "INVALID_SUBMISSION" {
			t.Fatalf("%s: expected INVALID_SUBMISSION, got %v", tc.name, err)
		}
	}
}

func TestOmittedLiveImageBecomesDeleteOp(t *testing.T) {
	env := newTestEnv()
	owner := "user_owner"
	g := env.addGrenade(t, store.Grenade{
		Name: "G1", X: "1", Y: "2", OwnerID: &owner,
		Images: []store.GrenadeImage{
			{ID: "img_a", ContentType: "image/png", Order: "0"},
			{ID: "img_b", ContentType: "image/png", Order: "1"},
		},
	})

	_, err := env.svc.RouteGrenadeEdit(context.Background(), userActor(owner), g.ID, GrenadeSubmission{
		Name: "G1", X: "1", Y: "2",
		Images: []ImageSubmission{{ImageID: "img_a", Order: "0"}},
	})
	if err != nil {
		t.Fatalf("RouteGrenadeEdit: %v", err)
	}

	change, err := env.store.GetPendingChange(context.Background(), store.KindGrenade, g.ID)
	if err != nil {
		t.Fatalf("pending change missing: %v", err)
	}
	if len(change.ImageOps) != 1 {
		t.Fatalf("expected 1 op, got %d", len(change.ImageOps))
	}
	op := change.ImageOps[0]
	if !op.Delete || op.LiveImageID == nil || *op.LiveImageID != "img_b" {
		t.Fatalf("expected delete of img_b, got %+v", op)
	}
}

func TestCreateDestinationVerifiedByCapability(t *testing.T) {
	env := newTestEnv()

	own, err := env.svc.CreateDestination(context.Background(), userActor("user_1"), DestinationSubmission{Name: "Mid", X: "1", Y: "2"})
	if err != nil {
		t.Fatalf("CreateDestination: %v", err)
	}
	if own.Verified {
		t.Fatal("user-created destination must start unverified")
	}

	mod, err := env.svc.CreateDestination(context.Background(), moderatorActor("mod_1"), DestinationSubmission{Name: "Ramp", X: "3", Y: "4"})
	if err != nil {
		t.Fatalf("CreateDestination: %v", err)
	}
	if !mod.Verified {
		t.Fatal("moderator-created destination must be verified")
	}
}

func TestCreateGrenadeStoresImageBlobs(t *testing.T) {
	env := newTestEnv()
	g, err := env.svc.CreateGrenade(context.Background(), userActor("user_1"), GrenadeSubmission{
		Name: "CT Smoke", X: "1", Y: "2",
		Images: []ImageSubmission{
			{ContentType: "image/png", Data: []byte("lineup"), Order: "0"},
			{ContentType: "image/png", Data: []byte("result"), Order: "1"},
		},
	})
	if err != nil {
		t.Fatalf("CreateGrenade: %v", err)
	}
	if len(g.Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(g.Images))
	}
	for _, img := range g.Images {
		data, contentType, err := env.svc.GetImage(context.Background(), img.ID)
		if err != nil {
			t.Fatalf("image %s not fetchable: %v", img.ID, err)
		}
		if contentType != "image/png" || len(data) == 0 {
			t.Fatalf("bad stored image %s", img.ID)
		}
	}
}
