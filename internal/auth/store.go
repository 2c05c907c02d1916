package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/ireside/ireside/internal/platform/database"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// SignUpParams is the input to Store.SignUp.
type SignUpParams struct {
	Email    string
	Password string
	FullName string
	Role     string
}

// Store handles account database operations for authentication.
// users carries no RLS; profile writes run under the system session.
type Store struct {
	pool *pgxpool.Pool
	cost int
	// dummyHash is compared against when the email is unknown so both
	// failure paths cost a bcrypt comparison.
	dummyHash []byte
}

func NewStore(pool *pgxpool.Pool) *Store {
	return NewStoreWithCost(pool, bcrypt.DefaultCost)
}

// NewStoreWithCost is NewStore with an explicit bcrypt cost. Tests use bcrypt.MinCost.
func NewStoreWithCost(pool *pgxpool.Pool, cost int) *Store {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("ireside-dummy-password"), cost)
	return &Store{pool: pool, cost: cost, dummyHash: dummy}
}

// ValidateSignUp normalizes and checks sign-up input.
func ValidateSignUp(p *SignUpParams) error {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.FullName = strings.TrimSpace(p.FullName)
	p.Role = strings.ToLower(strings.TrimSpace(p.Role))

	addr, err := mail.ParseAddress(p.Email)
	if err != nil || addr.Address != p.Email {
		return ErrInvalidEmail
	}
	if len(p.Password) < 8 {
		return ErrWeakPassword
	}
	if len(p.Password) > 72 {
		return ErrPasswordTooLong
	}
	// Admins are provisioned, never self-registered.
	if p.Role != RoleLandlord && p.Role != RoleTenant {
		return ErrInvalidRole
	}
	return nil
}

// SignUp creates the user and profile in one transaction.
func (s *Store) SignUp(ctx context.Context, p SignUpParams) (*Identity, error) {
	if err := ValidateSignUp(&p); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	identity := &Identity{Role: p.Role, Email: p.Email, DisplayName: p.FullName, TokenType: "access"}
	err = database.WithSessionTx(ctx, s.pool, database.System(), func(ctx context.Context, q database.Querier) error {
		if err := q.QueryRow(ctx,
			"INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id",
			p.Email, string(hash),
		).Scan(&identity.UserID); err != nil {
			if database.IsUniqueViolation(err) {
				return ErrEmailTaken
			}
			return fmt.Errorf("inserting user: %w", err)
		}

		if _, err := q.Exec(ctx,
			"INSERT INTO profiles (id, role, full_name) VALUES ($1, $2, $3)",
			identity.UserID, p.Role, p.FullName,
		); err != nil {
			return fmt.Errorf("inserting profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// Authenticate checks an email/password pair. Unknown email and wrong
// password both return ErrInvalidCredentials.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var userID, hash string
	err := s.pool.QueryRow(ctx,
		"SELECT id, password_hash FROM users WHERE lower(email) = $1", email,
	).Scan(&userID, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.GetIdentity(ctx, userID)
}

// GetIdentity loads the current role and profile for a user.
func (s *Store) GetIdentity(ctx context.Context, userID string) (*Identity, error) {
	identity := &Identity{UserID: userID, TokenType: "access"}
	err := database.WithSession(ctx, s.pool, database.System(), func(ctx context.Context, q database.Querier) error {
		return q.QueryRow(ctx,
			`SELECT u.email, p.role, p.full_name
			 FROM users u JOIN profiles p ON p.id = u.id
			 WHERE u.id = $1`,
			userID,
		).Scan(&identity.Email, &identity.Role, &identity.DisplayName)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("querying identity: %w", err)
	}
	return identity, nil
}

// EnsureUser creates a user with the given id and role when missing. Used to
// seed the dev-mode identity and provision admins from the CLI.
func (s *Store) EnsureUser(ctx context.Context, userID, email, role, fullName string) error {
	return database.WithSessionTx(ctx, s.pool, database.System(), func(ctx context.Context, q database.Querier) error {
		if _, err := q.Exec(ctx,
			`INSERT INTO users (id, email, password_hash) VALUES ($1, $2, '!')
			 ON CONFLICT (id) DO NOTHING`,
			userID, strings.ToLower(email),
		); err != nil {
			return fmt.Errorf("ensuring user: %w", err)
		}
		if _, err := q.Exec(ctx,
			`INSERT INTO profiles (id, role, full_name) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET role = EXCLUDED.role`,
			userID, role, fullName,
		); err != nil {
			return fmt.Errorf("ensuring profile: %w", err)
		}
		return nil
	})
}
