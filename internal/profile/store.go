package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/ireside/ireside/internal/platform/database"
	"github.com/jackc/pgx/v5"
)

// Store handles profile database operations. Visibility follows the
// session installed on q.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

const profileColumns = `p.id, u.email, p.role, p.full_name, p.phone, p.avatar_key, p.created_at, p.updated_at`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.Email, &p.Role, &p.FullName, &p.Phone, &p.AvatarKey, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Get returns the profile with id.
func (s *Store) Get(ctx context.Context, q database.Querier, id string) (*Profile, error) {
	p, err := scanProfile(q.QueryRow(ctx,
		`SELECT `+profileColumns+`
		 FROM profiles p JOIN users u ON u.id = p.id
		 WHERE p.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	return p, nil
}

// Update applies params to the profile with id.
func (s *Store) Update(ctx context.Context, q database.Querier, id string, params UpdateParams) (*Profile, error) {
	p, err := scanProfile(q.QueryRow(ctx,
		`WITH updated AS (
			UPDATE profiles
			SET full_name = COALESCE($2, full_name),
			    phone = COALESCE($3, phone),
			    updated_at = now()
			WHERE id = $1
			RETURNING *
		 )
		 SELECT `+profileColumns+`
		 FROM updated p JOIN users u ON u.id = p.id`,
		id, params.FullName, params.Phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	return p, nil
}

// SetAvatar records a new avatar object key and returns the previous one.
func (s *Store) SetAvatar(ctx context.Context, q database.Querier, id, key string) (string, error) {
	var previous string
	err := q.QueryRow(ctx,
		`UPDATE profiles p
		 SET avatar_key = $2, updated_at = now()
		 FROM (SELECT avatar_key FROM profiles WHERE id = $1) old
		 WHERE p.id = $1
		 RETURNING old.avatar_key`,
		id, key,
	).Scan(&previous)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrProfileNotFound
		}
		return "", fmt.Errorf("setting avatar: %w", err)
	}
	return previous, nil
}

// List returns profiles, optionally filtered by role, ordered by creation.
func (s *Store) List(ctx context.Context, q database.Querier, role string, limit, offset int) ([]Profile, error) {
	rows, err := q.Query(ctx,
		`SELECT `+profileColumns+`
		 FROM profiles p JOIN users u ON u.id = p.id
		 WHERE ($1 = '' OR p.role = $1)
		 ORDER BY p.created_at, p.id
		 LIMIT $2 OFFSET $3`,
		role, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// SetRole changes the role of the profile with id.
func (s *Store) SetRole(ctx context.Context, q database.Querier, id, role string) (*Profile, error) {
	if !ValidRole(role) {
		return nil, ErrInvalidRole
	}
	p, err := scanProfile(q.QueryRow(ctx,
		`WITH updated AS (
			UPDATE profiles SET role = $2, updated_at = now()
			WHERE id = $1
			RETURNING *
		 )
		 SELECT `+profileColumns+`
		 FROM updated p JOIN users u ON u.id = p.id`,
		id, role))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("setting role: %w", err)
	}
	return p, nil
}
