// Package store provides the PostgreSQL-backed records store with metrics.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/Iskam31/YADISKTGBOT/internal/logging"
	"github.com/Iskam31/YADISKTGBOT/internal/metrics"
)

var (
	// ErrNotConfigured means the user has no stored credential.
	ErrNotConfigured = errors.New("no credential configured")

	// ErrNotFound means the requested row does not exist or belongs to
	// another user.
	ErrNotFound = errors.New("record not found")
)

// Store is the PostgreSQL records store.
type Store struct {
	db *sql.DB
}

// CredentialRow maps to the credentials table. SealedToken is opaque
// ciphertext; the store never sees plaintext credentials.
type CredentialRow struct {
	UserID        int64
	SealedToken   string
	DefaultFolder string
	IsValid       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UploadedFileRow maps to the uploaded_files table.
type UploadedFileRow struct {
	ID         int64
	UserID     int64
	Name       string
	RemotePath string
	PublicURL  string
	SizeBytes  int64
	UploadedAt time.Time
}

// WebhookRow maps to the webhooks table. One row per (repo, registering
// user); the sealed secret verifies delivery signatures for that
// registration only.
type WebhookRow struct {
	ID           int64
	RepoOwner    string
	RepoName     string
	SealedSecret string
	CreatedBy    int64
	IsActive     bool
	CreatedAt    time.Time
}

// WebhookSubRow maps to the webhook_subs table.
type WebhookSubRow struct {
	UserID    int64
	RepoOwner string
	RepoName  string
	CreatedAt time.Time
}

// New creates a new PostgreSQL records store.
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// SaveCredential stores or replaces the user's sealed token and marks it
// valid again.
func (s *Store) SaveCredential(ctx context.Context, userID int64, sealedToken string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("save_credential", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (user_id, token, default_folder, is_valid, created_at, updated_at)
		 VALUES ($1, $2, '', TRUE, NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE
		 SET token = EXCLUDED.token, is_valid = TRUE, updated_at = NOW()`,
		userID, sealedToken)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// GetCredential returns the user's credential row.
func (s *Store) GetCredential(ctx context.Context, userID int64) (*CredentialRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_credential", time.Since(start)) }()

	var r CredentialRow
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, token, default_folder, is_valid, created_at, updated_at
		 FROM credentials WHERE user_id = $1`, userID).
		Scan(&r.UserID, &r.SealedToken, &r.DefaultFolder, &r.IsValid, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return &r, nil
}

// SetDefaultFolder updates the user's default upload folder.
func (s *Store) SetDefaultFolder(ctx context.Context, userID int64, folder string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("set_default_folder", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET default_folder = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, folder)
	if err != nil {
		return fmt.Errorf("set default folder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotConfigured
	}
	return nil
}

// MarkCredentialInvalid flags the stored token after the remote side
// rejected it. The row stays so the default folder survives a re-auth.
func (s *Store) MarkCredentialInvalid(ctx context.Context, userID int64) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("mark_credential_invalid", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET is_valid = FALSE, updated_at = NOW() WHERE user_id = $1`,
		userID)
	if err != nil {
		return fmt.Errorf("mark credential invalid: %w", err)
	}
	return nil
}

// DeleteCredential removes the user's credential row.
func (s *Store) DeleteCredential(ctx context.Context, userID int64) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_credential", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotConfigured
	}
	return nil
}

// SaveUploadedFile records a finished upload and returns the row id.
func (s *Store) SaveUploadedFile(ctx context.Context, r *UploadedFileRow) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("save_uploaded_file", time.Since(start)) }()

	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO uploaded_files (user_id, name, remote_path, public_url, size_bytes, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING id`,
		r.UserID, r.Name, r.RemotePath, r.PublicURL, r.SizeBytes).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save uploaded file: %w", err)
	}
	return id, nil
}

// RecentUploads returns the user's latest uploads, newest first.
func (s *Store) RecentUploads(ctx context.Context, userID int64, limit int) ([]UploadedFileRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("recent_uploads", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, remote_path, public_url, size_bytes, uploaded_at
		 FROM uploaded_files WHERE user_id = $1
		 ORDER BY uploaded_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []UploadedFileRow
	for rows.Next() {
		var r UploadedFileRow
		if err := rows.Scan(&r.ID, &r.UserID, &r.Name, &r.RemotePath, &r.PublicURL, &r.SizeBytes, &r.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetUploadedFile returns one upload record, owner-scoped.
func (s *Store) GetUploadedFile(ctx context.Context, id, userID int64) (*UploadedFileRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_uploaded_file", time.Since(start)) }()

	var r UploadedFileRow
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, remote_path, public_url, size_bytes, uploaded_at
		 FROM uploaded_files WHERE id = $1 AND user_id = $2`, id, userID).
		Scan(&r.ID, &r.UserID, &r.Name, &r.RemotePath, &r.PublicURL, &r.SizeBytes, &r.UploadedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return &r, nil
}

// DeleteUploadedFile removes one upload record, owner-scoped.
func (s *Store) DeleteUploadedFile(ctx context.Context, id, userID int64) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_uploaded_file", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM uploaded_files WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete uploaded file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RegisterWebhook creates or reactivates the user's registration for a
// repository, replacing the sealed secret.
func (s *Store) RegisterWebhook(ctx context.Context, owner, name, sealedSecret string, createdBy int64) (*WebhookRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("register_webhook", time.Since(start)) }()

	var r WebhookRow
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO webhooks (repo_owner, repo_name, secret, created_by, is_active, created_at)
		 VALUES ($1, $2, $3, $4, TRUE, NOW())
		 ON CONFLICT (repo_owner, repo_name, created_by) DO UPDATE
		 SET secret = EXCLUDED.secret, is_active = TRUE
		 RETURNING id, repo_owner, repo_name, secret, created_by, is_active, created_at`,
		owner, name, sealedSecret, createdBy).
		Scan(&r.ID, &r.RepoOwner, &r.RepoName, &r.SealedSecret, &r.CreatedBy, &r.IsActive, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("register webhook: %w", err)
	}
	return &r, nil
}

// GetWebhook returns one registration by id.
func (s *Store) GetWebhook(ctx context.Context, id int64) (*WebhookRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_webhook", time.Since(start)) }()

	var r WebhookRow
	err := s.db.QueryRowContext(ctx,
		`SELECT id, repo_owner, repo_name, secret, created_by, is_active, created_at
		 FROM webhooks WHERE id = $1`, id).
		Scan(&r.ID, &r.RepoOwner, &r.RepoName, &r.SealedSecret, &r.CreatedBy, &r.IsActive, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return &r, nil
}

// DeactivateWebhook turns off the user's registration for a repository.
func (s *Store) DeactivateWebhook(ctx context.Context, owner, name string, createdBy int64) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("deactivate_webhook", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`UPDATE webhooks SET is_active = FALSE
		 WHERE repo_owner = $1 AND repo_name = $2 AND created_by = $3`,
		owner, name, createdBy)
	if err != nil {
		return fmt.Errorf("deactivate webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveWebhookFor returns an active registration for a repository, from
// any registering user. Subscriptions only make sense while one exists.
func (s *Store) ActiveWebhookFor(ctx context.Context, owner, name string) (*WebhookRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("active_webhook_for", time.Since(start)) }()

	var r WebhookRow
	err := s.db.QueryRowContext(ctx,
		`SELECT id, repo_owner, repo_name, secret, created_by, is_active, created_at
		 FROM webhooks
		 WHERE repo_owner = $1 AND repo_name = $2 AND is_active
		 ORDER BY id LIMIT 1`, owner, name).
		Scan(&r.ID, &r.RepoOwner, &r.RepoName, &r.SealedSecret, &r.CreatedBy, &r.IsActive, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return &r, nil
}

// Subscribe adds the user to a repository's notification list.
func (s *Store) Subscribe(ctx context.Context, userID int64, owner, name string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("subscribe", time.Since(start)) }()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_subs (user_id, repo_owner, repo_name, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id, repo_owner, repo_name) DO NOTHING`,
		userID, owner, name)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Unsubscribe removes the user from a repository's notification list.
func (s *Store) Unsubscribe(ctx context.Context, userID int64, owner, name string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("unsubscribe", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM webhook_subs WHERE user_id = $1 AND repo_owner = $2 AND repo_name = $3`,
		userID, owner, name)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Subscriptions returns the repositories the user follows.
func (s *Store) Subscriptions(ctx context.Context, userID int64) ([]WebhookSubRow, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("subscriptions", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, repo_owner, repo_name, created_at
		 FROM webhook_subs WHERE user_id = $1
		 ORDER BY repo_owner, repo_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []WebhookSubRow
	for rows.Next() {
		var r WebhookSubRow
		if err := rows.Scan(&r.UserID, &r.RepoOwner, &r.RepoName, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SubscribersFor returns every user following a repository.
func (s *Store) SubscribersFor(ctx context.Context, owner, name string) ([]int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("subscribers_for", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM webhook_subs
		 WHERE repo_owner = $1 AND repo_name = $2
		 ORDER BY user_id`, owner, name)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
