package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"stepauth.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

const pgUniqueViolation = "23505"

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore { return &userStore{db: s.db} }
func (s *PGStore) Credentials(context.Context) CredentialStore {
	return &credentialStore{db: s.db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, username, password_hash, is_active) values($1,$2,$3,$4)`,
		u.ID, u.Username, u.PasswordHash, u.IsActive,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, username, password_hash, is_active, created_at, updated_at from users where id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, username, password_hash, is_active, created_at, updated_at from users where username=$1`, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Credential store ---------------------------------------------------------
type credentialStore struct{ db *sql.DB }

const credentialColumns = `id, user_id, credential_id, public_key, counter, transports, device_name, created_at, last_used_at`

func (s *credentialStore) ListByUser(ctx context.Context, userID string) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+credentialColumns+` from passkey_credentials where user_id=$1 order by created_at asc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func (s *credentialStore) FindByCredentialID(ctx context.Context, credentialID []byte) (*Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+credentialColumns+` from passkey_credentials where credential_id=$1`, credentialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanCredential(rows)
}

func (s *credentialStore) Create(ctx context.Context, cred *Credential) error {
	if cred.ID == "" {
		cred.ID = ids.New()
	}
	transports, _ := json.Marshal(cred.Transports)
	_, err := s.db.ExecContext(ctx,
		`insert into passkey_credentials(id, user_id, credential_id, public_key, counter, transports, device_name)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		cred.ID, cred.UserID, cred.CredentialID, cred.PublicKey, int64(cred.Counter), transports, nullString(cred.DeviceName),
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *credentialStore) Save(ctx context.Context, cred *Credential) error {
	res, err := s.db.ExecContext(ctx,
		`update passkey_credentials set counter=$2, last_used_at=$3 where id=$1`,
		cred.ID, int64(cred.Counter), cred.LastUsedAt,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*Credential, error) {
	var (
		cred       Credential
		counter    int64
		transports []byte
		deviceName sql.NullString
		lastUsed   sql.NullTime
	)
	if err := row.Scan(&cred.ID, &cred.UserID, &cred.CredentialID, &cred.PublicKey,
		&counter, &transports, &deviceName, &cred.CreatedAt, &lastUsed); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cred.Counter = uint32(counter)
	_ = json.Unmarshal(transports, &cred.Transports)
	if deviceName.Valid {
		cred.DeviceName = deviceName.String
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		cred.LastUsedAt = &t
	}
	return &cred, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
