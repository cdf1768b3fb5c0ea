package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/hitusss/cs-grenade-sub000/internal/auth"
	"github.com/hitusss/cs-grenade-sub000/internal/blob"
	"github.com/hitusss/cs-grenade-sub000/internal/config"
	"github.com/hitusss/cs-grenade-sub000/internal/notify"
	"github.com/hitusss/cs-grenade-sub000/internal/rbac"
	"github.com/hitusss/cs-grenade-sub000/internal/search"
	"github.com/hitusss/cs-grenade-sub000/internal/store"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	ExpiresAt time.Time
}

// Actor is the authenticated user performing an operation.
type Actor struct {
	UserID string
	Role   rbac.Role
}

type dataStore interface {
	Ping(ctx context.Context) error
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	SetUserRole(ctx context.Context, userID, role string) error
	InsertDestination(context.Context, store.Destination) error
	GetDestination(context.Context, string) (store.Destination, error)
	InsertGrenade(context.Context, store.Grenade) error
	GetGrenade(context.Context, string) (store.Grenade, error)
	CreatePendingChange(context.Context, store.PendingChange) error
	GetPendingChange(context.Context, store.EntityKind, string) (store.PendingChange, error)
	DeletePendingChange(context.Context, string) (bool, error)
	ApplyDestinationChange(context.Context, string, store.DestinationFields, string) error
	ApplyGrenadeChange(context.Context, string, store.GrenadeFields, store.ImagePlan, string) error
}

// capabilityOracle answers scoped permission checks. The default
// implementation is the rbac role table; the surrounding platform may swap
// in its own.
type capabilityOracle interface {
	HasCapability(role rbac.Role, action rbac.Action, entity rbac.Entity, scope rbac.Scope) bool
}

type rbacOracle struct{}

func (rbacOracle) HasCapability(role rbac.Role, action rbac.Action, entity rbac.Entity, scope rbac.Scope) bool {
	return rbac.Can(role, action, entity, scope)
}

// notificationLister is implemented by notifier backends that can also read
// back a user's notifications (the redis backend).
type notificationLister interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]notify.Notification, error)
}

type searchIndexer interface {
	IndexDestination(record search.DestinationRecord)
	IndexGrenade(record search.GrenadeRecord)
	Search(q search.Query) search.Response
}

type Service struct {
	cfg      config.Config
	store    dataStore
	blobs    blob.Store
	notifier notify.Notifier
	caps     capabilityOracle
	search   searchIndexer
}

func New(cfg config.Config, dataStore *store.PostgresStore, blobs blob.Store, notifier notify.Notifier, searchService *search.Service) *Service {
	svc := &Service{
		cfg:      cfg,
		store:    dataStore,
		blobs:    blobs,
		notifier: notifier,
		caps:     rbacOracle{},
	}
	if searchService != nil {
		svc.search = searchService
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken verifies the token and re-reads the user so role changes
// take effect without waiting for token expiry.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) GetDestination(ctx context.Context, id string) (store.Destination, error) {
	d, err := s.store.GetDestination(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Destination{}, notFoundError("destination")
	}
	return d, err
}

func (s *Service) GetGrenade(ctx context.Context, id string) (store.Grenade, error) {
	g, err := s.store.GetGrenade(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Grenade{}, notFoundError("grenade")
	}
	return g, err
}

// SetUserRole changes another user's role. Admin only.
func (s *Service) SetUserRole(ctx context.Context, actor Actor, userID, role string) error {
	if actor.Role != rbac.RoleAdmin {
		return unauthorizedError("only admins may change roles")
	}
	if rbac.Normalize(role) != rbac.Role(role) {
		return invalidError("unknown role " + role)
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("user")
		}
		return err
	}
	return s.store.SetUserRole(ctx, userID, role)
}

// GetImage fetches image bytes and content type by id for rendering.
func (s *Service) GetImage(ctx context.Context, id string) ([]byte, string, error) {
	data, contentType, err := s.blobs.Get(ctx, id)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, "", notFoundError("image")
	}
	return data, contentType, err
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// ListNotifications returns the actor's notifications when the configured
// notifier supports read-back, otherwise an empty list.
func (s *Service) ListNotifications(ctx context.Context, userID string, limit int) ([]notify.Notification, error) {
	lister, ok := s.notifier.(notificationLister)
	if !ok {
		return []notify.Notification{}, nil
	}
	return lister.ListForUser(ctx, userID, limit)
}

// notifyUser delivers best-effort: failures are logged, never propagated.
func (s *Service) notifyUser(ctx context.Context, n notify.Notification) {
	if s.notifier == nil || n.UserID == "" {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		log.Printf("notify: deliver to %s: %v", n.UserID, err)
	}
}

func (s *Service) indexDestination(d store.Destination) {
	if s.search == nil {
		return
	}
	s.search.IndexDestination(search.DestinationRecord{
		ID:       d.ID,
		Name:     d.Name,
		Verified: d.Verified,
	})
}

func (s *Service) indexGrenade(g store.Grenade) {
	if s.search == nil {
		return
	}
	record := search.GrenadeRecord{
		ID:       g.ID,
		Name:     g.Name,
		Verified: g.Verified,
	}
	if g.Description != nil {
		record.Description = *g.Description
	}
	s.search.IndexGrenade(record)
}
