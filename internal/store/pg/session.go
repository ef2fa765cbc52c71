package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sentra.org/internal/session"
)

var (
	_ session.PrincipalStore = (*Store)(nil)
	_ session.TokenStore     = (*Store)(nil)
	_ session.HistoryStore   = (*Store)(nil)
)

const principalColumns = `id, email, password_hash, active, email_verified,
	failed_login_count, locked_until, last_login_at, created_at, updated_at`

func scanPrincipal(row *sql.Row) (*session.Principal, error) {
	var (
		p           session.Principal
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
	)
	err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.Active, &p.EmailVerified,
		&p.FailedLoginCount, &lockedUntil, &lastLogin, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		p.LockedUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		p.LastLoginAt = &t
	}
	return &p, nil
}

func (s *Store) Find(ctx context.Context, id string) (*session.Principal, error) {
	var p *session.Principal
	err := withRetry(ctx, func() error {
		var err error
		p, err = scanPrincipal(s.db.QueryRowContext(ctx,
			`select `+principalColumns+` from principals where id = $1`, id))
		return err
	})
	return p, err
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*session.Principal, error) {
	var p *session.Principal
	err := withRetry(ctx, func() error {
		var err error
		p, err = scanPrincipal(s.db.QueryRowContext(ctx,
			`select `+principalColumns+` from principals where email = $1`, email))
		return err
	})
	return p, err
}

// RecordLoginFailure is the atomic increment the lockout machine depends on:
// concurrent failures each observe a distinct counter value.
func (s *Store) RecordLoginFailure(ctx context.Context, id string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		update principals
		set failed_login_count = failed_login_count + 1, updated_at = now()
		where id = $1
		returning failed_login_count
	`, id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, session.ErrNotFound
	}
	return count, err
}

func (s *Store) Lock(ctx context.Context, id string, until time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update principals set locked_until = $2, updated_at = now() where id = $1
	`, id, until)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ResetLoginState clears the failure counter and the lock and stamps the
// last login in a single write.
func (s *Store) ResetLoginState(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update principals
		set failed_login_count = 0, locked_until = null, last_login_at = $2, updated_at = $2
		where id = $1
	`, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) RoleNames(ctx context.Context, id string) ([]string, error) {
	var names []string
	err := withRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			select r.name
			from principal_roles pr
			join roles r on r.id = pr.role_id and r.active
			where pr.principal_id = $1
			order by r.name
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()

		names = names[:0]
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Refresh tokens --------------------------------------------------------

func (s *Store) Create(ctx context.Context, token *session.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, principal_id, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, now())
	`, token.ID, token.PrincipalID, token.TokenHash, token.ExpiresAt)
	return err
}

// Rotate revokes the presented token and inserts its replacement in one
// transaction. The UPDATE's revoked_at guard makes it the serialization
// point: of two concurrent rotations only one finds an unrevoked row.
// Rotation is never retried; after an ambiguous failure the presented token
// may already be revoked, and a second attempt would count as replay.
func (s *Store) Rotate(ctx context.Context, tokenID, tokenHash string, now time.Time, replacement *session.RefreshToken) (*session.RefreshToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var old session.RefreshToken
	err = tx.QueryRowContext(ctx, `
		update refresh_tokens
		set revoked_at = $3
		where id = $1 and token_hash = $2 and revoked_at is null and expires_at > $3
		returning id, principal_id, token_hash, expires_at, created_at
	`, tokenID, tokenHash, now).Scan(&old.ID, &old.PrincipalID, &old.TokenHash, &old.ExpiresAt, &old.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	revoked := now
	old.RevokedAt = &revoked

	if _, err := tx.ExecContext(ctx, `
		insert into refresh_tokens (id, principal_id, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5)
	`, replacement.ID, old.PrincipalID, replacement.TokenHash, replacement.ExpiresAt, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	replacement.PrincipalID = old.PrincipalID
	return &old, nil
}

func (s *Store) Revoke(ctx context.Context, tokenID string) error {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked_at = now()
		where id = $1 and revoked_at is null
	`, tokenID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) RevokeAllForPrincipal(ctx context.Context, principalID string) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked_at = now()
		where principal_id = $1 and revoked_at is null
	`, principalID)
	return err
}

// Login history ----------------------------------------------------------

func (s *Store) Append(ctx context.Context, attempt *session.LoginAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		insert into login_history (id, principal_id, email, ip, user_agent, success, reason, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, attempt.ID, attempt.PrincipalID, attempt.Email, attempt.IP, attempt.UserAgent,
		attempt.Success, attempt.Reason, attempt.CreatedAt)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}
