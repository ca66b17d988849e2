// Package credentials stores staff accounts with bcrypt-hashed passwords.
package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-oralhistory/internal/config"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	// ErrAuthentication is returned for both unknown users and wrong passwords.
	ErrAuthentication  = errors.New("invalid credentials")
	ErrDuplicateUser   = errors.New("username already exists")
	ErrProtectedUser   = errors.New("user is protected")
	// ErrInvalidPassword is returned for passwords bcrypt cannot hash.
	ErrInvalidPassword = errors.New("password longer than 72 bytes")
)

// bcrypt only reads the first 72 bytes of its input.
const maxPasswordBytes = 72

// User is the public view of a user record. It never carries the hash.
type User struct {
	Username    string `json:"username"`
	DisplayName string `json:"name"`
	Role        string `json:"role"`
}

// Identity is what a successful Verify yields.
type Identity struct {
	Username    string
	Role        string
	DisplayName string
}

// Store persists users in SQLite. Every call hits the database; nothing is
// cached in process.
type Store struct {
	db    *sql.DB
	cfg   config.CredentialsConfig
	log   *slog.Logger
	clock func() time.Time
	// compared against when the username is unknown so both failure paths
	// pay for a bcrypt comparison
	decoy []byte
}

// Open connects to the database file and runs Initialize.
func Open(ctx context.Context, cfg config.CredentialsConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	decoy, err := bcrypt.GenerateFromPassword([]byte("decoy-password"), cfg.BcryptCost)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("hash decoy password: %w", err)
	}

	s := &Store{
		db:    db,
		cfg:   cfg,
		log:   log.With(slog.String("component", "credentials")),
		clock: time.Now,
		decoy: decoy,
	}
	if err := s.Initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Initialize creates the users table and seeds the administrator when it is
// absent. It is safe to call on every start.
func (s *Store) Initialize(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS users (
    username TEXT PRIMARY KEY,
    password_hash BLOB NOT NULL,
    role TEXT NOT NULL,
    name TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE username = ?`, s.cfg.SeedUsername).Scan(&exists)
	if err != nil {
		return fmt.Errorf("lookup seed user: %w", err)
	}
	if exists > 0 {
		return nil
	}

	inserted, err := s.insert(ctx, s.cfg.SeedUsername, s.cfg.SeedPassword, s.cfg.SeedDisplayName, "admin")
	if err != nil {
		return fmt.Errorf("seed administrator: %w", err)
	}
	if inserted {
		s.log.Info("seeded administrator account", slog.String("username", s.cfg.SeedUsername))
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SeedUsername is the account that can never be deleted.
func (s *Store) SeedUsername() string {
	return s.cfg.SeedUsername
}

// Verify checks a login attempt. Unknown users and wrong passwords both yield
// ErrAuthentication.
func (s *Store) Verify(ctx context.Context, username, password string) (Identity, error) {
	var (
		hash []byte
		id   = Identity{Username: username}
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash, role, name FROM users WHERE username = ?`, username).
		Scan(&hash, &id.Role, &id.DisplayName)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_ = bcrypt.CompareHashAndPassword(s.decoy, []byte(password))
		return Identity{}, ErrAuthentication
	case err != nil:
		return Identity{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return Identity{}, ErrAuthentication
	}
	return id, nil
}

// List returns every user ordered by username.
func (s *Store) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, name, role FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Username, &u.DisplayName, &u.Role); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Create inserts a new user, failing with ErrDuplicateUser when the username
// is taken.
func (s *Store) Create(ctx context.Context, username, password, displayName, role string) error {
	if username == "" {
		return errors.New("username must not be empty")
	}
	if len(password) > maxPasswordBytes {
		return ErrInvalidPassword
	}
	inserted, err := s.insert(ctx, username, password, displayName, role)
	if err != nil {
		return err
	}
	if !inserted {
		return ErrDuplicateUser
	}
	return nil
}

// Delete removes a user. The seed account is refused with ErrProtectedUser;
// removing a username that does not exist is not an error.
func (s *Store) Delete(ctx context.Context, username string) error {
	if username == s.cfg.SeedUsername {
		return ErrProtectedUser
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, username, password, displayName, role string) (bool, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return false, ErrInvalidPassword
	}
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, password_hash, role, name, created_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(username) DO NOTHING`,
		username, hash, role, displayName, s.clock().UTC())
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
