package database

import (
	"context"
	"fmt"
	"time"

	"campusbook/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const userColumns = `id, name, email, password_hash, date_of_birth, address, phone, gender, created_at, updated_at`

// UpsertUser inserts the user or refreshes its name. The id of an existing
// row with the same email wins and is written back to user. A new user whose id
// already belongs to another email is stored under a generated id.
func (db *DB) UpsertUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	user.Email = models.NormalizeEmail(user.Email)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	query := db.Rebind(`
        INSERT INTO users (id, name, email, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(email) DO UPDATE SET
            name = CASE WHEN excluded.name <> '' THEN excluded.name ELSE users.name END,
            updated_at = excluded.updated_at`)

	_, err := db.ExecContext(ctx, query, user.ID, user.Name, user.Email, user.CreatedAt, user.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		// the email conflict is absorbed above, so this is the id
		db.logger.Warn().Str("email", user.Email).Msg("user id already taken, generating a new one")
		user.ID = uuid.NewString()
		_, err = db.ExecContext(ctx, query, user.ID, user.Name, user.Email, user.CreatedAt, user.UpdatedAt)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	stored, err := db.GetUserByEmail(ctx, user.Email)
	if err != nil {
		return err
	}
	*user = *stored
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := db.GetContext(ctx, &user, db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// GetUserByEmail matches case-insensitively; emails are stored lower-case.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := db.GetContext(ctx, &user, db.Rebind(`SELECT `+userColumns+` FROM users WHERE email = ?`), models.NormalizeEmail(email))
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (db *DB) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	out := make(map[string]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}

	var users []*models.User
	if err := db.SelectContext(ctx, &users, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}
