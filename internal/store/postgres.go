package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hitusss/cs-grenade-sub000/internal/util"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, role FROM users WHERE display_name = $1`,
		name,
	).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (display_name, role)
		VALUES ($1, 'user')
		RETURNING id, display_name, role
	`, name).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, role FROM users WHERE id = $1`,
		userID,
	).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) SetUserRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET role = $2 WHERE id = $1`, userID, role)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertDestination(ctx context.Context, d Destination) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO destinations (id, name, x, y, owner_id, verified)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.Name, d.X, d.Y, d.OwnerID, d.Verified)
	if err != nil {
		return fmt.Errorf("insert destination: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDestination(ctx context.Context, id string) (Destination, error) {
	var d Destination
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, x, y, owner_id, verified, created_at, updated_at
		FROM destinations WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.X, &d.Y, &d.OwnerID, &d.Verified, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Destination{}, err
	}
	return d, nil
}

func (s *PostgresStore) InsertGrenade(ctx context.Context, g Grenade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert grenade: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO grenades (id, name, x, y, description, owner_id, verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, g.ID, g.Name, g.X, g.Y, g.Description, g.OwnerID, g.Verified); err != nil {
		return fmt.Errorf("insert grenade: %w", err)
	}

	for _, img := range g.Images {
		if err := insertImage(ctx, tx, img); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetGrenade(ctx context.Context, id string) (Grenade, error) {
	var g Grenade
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, x, y, description, owner_id, verified, created_at, updated_at
		FROM grenades WHERE id = $1
	`, id).Scan(&g.ID, &g.Name, &g.X, &g.Y, &g.Description, &g.OwnerID, &g.Verified, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return Grenade{}, err
	}

	images, err := s.ListGrenadeImages(ctx, id)
	if err != nil {
		return Grenade{}, err
	}
	g.Images = images
	return g, nil
}

func (s *PostgresStore) ListGrenadeImages(ctx context.Context, grenadeID string) ([]GrenadeImage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, grenade_id, content_type, description, display_order, created_at
		FROM grenade_images WHERE grenade_id = $1
	`, grenadeID)
	if err != nil {
		return nil, fmt.Errorf("list grenade images: %w", err)
	}
	defer rows.Close()

	var images []GrenadeImage
	for rows.Next() {
		var img GrenadeImage
		if err := rows.Scan(&img.ID, &img.GrenadeID, &img.ContentType, &img.Description, &img.Order, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan grenade image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grenade images: %w", err)
	}
	sortImagesByOrder(images)
	return images, nil
}

// sortImagesByOrder sorts numerically on the string-encoded order value.
// Unparseable orders sort last in their original relative order.
func sortImagesByOrder(images []GrenadeImage) {
	sort.SliceStable(images, func(i, j int) bool {
		a, errA := strconv.Atoi(images[i].Order)
		b, errB := strconv.Atoi(images[j].Order)
		if errA != nil || errB != nil {
			return errB != nil && errA == nil
		}
		return a < b
	})
}

func (s *PostgresStore) CreatePendingChange(ctx context.Context, change PendingChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create pending change: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pending_changes (id, entity_kind, entity_id, requested_by, name, x, y, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, change.ID, change.EntityKind, change.EntityID, nullable(change.RequestedBy),
		change.Name, change.X, change.Y, change.Description)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrPendingChangeExists
		}
		return fmt.Errorf("insert pending change: %w", err)
	}

	for i, op := range change.ImageOps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO image_change_ops
				(id, pending_change_id, position, live_image_id, deleted, content_type, blob_key, description, display_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, op.ID, change.ID, i, op.LiveImageID, op.Delete, op.ContentType, op.BlobKey,
			optString(op.Description), optString(op.Order))
		if err != nil {
			return fmt.Errorf("insert image change op: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) GetPendingChange(ctx context.Context, kind EntityKind, entityID string) (PendingChange, error) {
	var change PendingChange
	err := s.db.QueryRowContext(ctx, `
		SELECT id, entity_kind, entity_id, COALESCE(requested_by, ''), name, x, y, description, created_at
		FROM pending_changes WHERE entity_kind = $1 AND entity_id = $2
	`, kind, entityID).Scan(&change.ID, &change.EntityKind, &change.EntityID, &change.RequestedBy,
		&change.Name, &change.X, &change.Y, &change.Description, &change.CreatedAt)
	if err != nil {
		return PendingChange{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pending_change_id, live_image_id, deleted, content_type, blob_key, description, display_order
		FROM image_change_ops WHERE pending_change_id = $1
		ORDER BY position
	`, change.ID)
	if err != nil {
		return PendingChange{}, fmt.Errorf("list image change ops: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var op ImageChangeOp
		var description, order sql.NullString
		if err := rows.Scan(&op.ID, &op.PendingChangeID, &op.LiveImageID, &op.Delete,
			&op.ContentType, &op.BlobKey, &description, &order); err != nil {
			return PendingChange{}, fmt.Errorf("scan image change op: %w", err)
		}
		op.Description = fromNullString(description)
		op.Order = fromNullString(order)
		change.ImageOps = append(change.ImageOps, op)
	}
	if err := rows.Err(); err != nil {
		return PendingChange{}, fmt.Errorf("iterate image change ops: %w", err)
	}
	return change, nil
}

func (s *PostgresStore) DeletePendingChange(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pending_changes WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete pending change: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete pending change: %w", err)
	}
	return affected > 0, nil
}

// ApplyDestinationChange overwrites the destination's scalar fields and,
// when pendingChangeID is set, retires the pending change in the same
// transaction.
func (s *PostgresStore) ApplyDestinationChange(ctx context.Context, id string, fields DestinationFields, pendingChangeID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply destination change: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE destinations SET name = $2, x = $3, y = $4, updated_at = NOW()
		WHERE id = $1
	`, id, fields.Name, fields.X, fields.Y); err != nil {
		return fmt.Errorf("update destination: %w", err)
	}

	if pendingChangeID != "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_changes WHERE id = $1`, pendingChangeID); err != nil {
			return fmt.Errorf("retire pending change: %w", err)
		}
	}
	return tx.Commit()
}

// ApplyGrenadeChange overwrites the grenade's scalar fields, applies the
// image plan, and optionally retires the pending change, all in one
// transaction. Deletes run before creates so a content-replacing edit can
// reuse the replaced image's order value without tripping over the old row.
func (s *PostgresStore) ApplyGrenadeChange(ctx context.Context, id string, fields GrenadeFields, plan ImagePlan, pendingChangeID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply grenade change: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE grenades SET name = $2, x = $3, y = $4, description = $5, updated_at = NOW()
		WHERE id = $1
	`, id, fields.Name, fields.X, fields.Y, fields.Description); err != nil {
		return fmt.Errorf("update grenade: %w", err)
	}

	for _, imageID := range plan.Deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM grenade_images WHERE id = $1`, imageID); err != nil {
			return fmt.Errorf("delete grenade image: %w", err)
		}
	}

	for _, update := range plan.MetaUpdates {
		if update.Description.Set {
			if _, err := tx.ExecContext(ctx,
				`UPDATE grenade_images SET description = NULLIF($2, '') WHERE id = $1`,
				update.ID, update.Description.Value); err != nil {
				return fmt.Errorf("update image description: %w", err)
			}
		}
		if update.Order.Set {
			if _, err := tx.ExecContext(ctx,
				`UPDATE grenade_images SET display_order = $2 WHERE id = $1`,
				update.ID, update.Order.Value); err != nil {
				return fmt.Errorf("update image order: %w", err)
			}
		}
	}

	for _, img := range plan.Creates {
		if err := insertImage(ctx, tx, img); err != nil {
			return err
		}
	}

	if pendingChangeID != "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_changes WHERE id = $1`, pendingChangeID); err != nil {
			return fmt.Errorf("retire pending change: %w", err)
		}
	}
	return tx.Commit()
}

func insertImage(ctx context.Context, tx *sql.Tx, img GrenadeImage) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO grenade_images (id, grenade_id, content_type, description, display_order)
		VALUES ($1, $2, $3, $4, $5)
	`, img.ID, img.GrenadeID, img.ContentType, img.Description, img.Order)
	if err != nil {
		return fmt.Errorf("insert grenade image: %w", err)
	}
	return nil
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func optString(opt util.Optional[string]) sql.NullString {
	return sql.NullString{String: opt.Value, Valid: opt.Set}
}

func fromNullString(ns sql.NullString) util.Optional[string] {
	if !ns.Valid {
		return util.None[string]()
	}
	return util.Some(ns.String)
}
