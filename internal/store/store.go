// Package store implements durable, versioned, encrypted persistence of
// provider credentials. Rows are never hard-deleted: rotation chains new
// versions onto old ones, rollback reactivates an inactive row, and
// revocation is a soft status change.
//
// The single-active invariant (at most one active row per provider) is
// enforced by check-then-act under a per-provider lock combined with
// conditional updates, so concurrent rotations serialize rather than
// producing two active rows. Deactivation always precedes activation; a
// short window with zero active rows is acceptable, one with two is not.
package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tripstack/credstore/internal/cache"
	"github.com/tripstack/credstore/internal/logging"
	"github.com/tripstack/credstore/internal/metrics"
	"github.com/tripstack/credstore/internal/registry"
	"github.com/tripstack/credstore/internal/sealed"
	"github.com/tripstack/credstore/pkg/credential"
)

const metadataColumns = `id, parent_id, provider, name, version, active, status,
	last_rotated_at, expires_at, created_at, updated_at, created_by, updated_by`

// Store is the credential store. All mutating operations invalidate the
// field cache for the affected provider.
type Store struct {
	db     *sql.DB
	driver string
	sealer sealed.Sealer
	cache  *cache.Cache
	logger *logging.Logger

	now   func() time.Time
	newID func() string

	mu    sync.Mutex
	locks map[credential.Provider]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator injects an id generator, for tests.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// New creates a Store over an open database connection. driver must be
// a value returned by Open ("postgres" or "mysql").
func New(db *sql.DB, driver string, sealer sealed.Sealer, fieldCache *cache.Cache, logger *logging.Logger, opts ...Option) *Store {
	s := &Store{
		db:     db,
		driver: driver,
		sealer: sealer,
		cache:  fieldCache,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
		locks:  make(map[credential.Provider]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// providerLock returns the mutex serializing mutations for one provider.
func (s *Store) providerLock(p credential.Provider) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[p]
	if !ok {
		l = &sync.Mutex{}
		s.locks[p] = l
	}
	return l
}

func (s *Store) invalidate(p credential.Provider) {
	s.cache.Invalidate(string(p))
	metrics.RecordCacheEvent("invalidate")
}

// Create validates and encrypts plaintext fields and persists them as a
// new version-1 active credential. It fails with a ConflictError when an
// active credential already exists for the provider; the correct path in
// that case is Rotate.
func (s *Store) Create(ctx context.Context, p credential.Provider, name string, fields map[string]string, expiresAt *time.Time, actor string) (credential.Metadata, error) {
	meta, err := s.create(ctx, p, name, fields, expiresAt, actor)
	metrics.RecordMutation("create", err)
	return meta, err
}

func (s *Store) create(ctx context.Context, p credential.Provider, name string, fields map[string]string, expiresAt *time.Time, actor string) (credential.Metadata, error) {
	normalized, err := registry.ValidateFields(p, fields)
	if err != nil {
		return credential.Metadata{}, err
	}

	lock := s.providerLock(p)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.activeRow(ctx, p); err == nil {
		return credential.Metadata{}, &credential.ConflictError{
			Op:     "create",
			Reason: "an active credential already exists for " + string(p) + "; rotate instead",
		}
	} else if !credential.IsConfiguration(err) {
		return credential.Metadata{}, err
	}

	blob, err := s.sealer.Seal(ctx, normalized)
	if err != nil {
		return credential.Metadata{}, err
	}

	now := s.now().UTC()
	meta := credential.Metadata{
		ID:        s.newID(),
		Provider:  p,
		Name:      name,
		Version:   1,
		Active:    true,
		Status:    credential.StatusActive,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if actor != "" {
		meta.CreatedBy = &actor
		meta.UpdatedBy = &actor
	}

	query := rebind(s.driver, `INSERT INTO credentials
		(id, parent_id, provider, name, payload, version, active, status,
		 last_rotated_at, expires_at, created_at, updated_at, created_by, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		meta.ID, nil, string(p), name, blob, meta.Version, true, string(meta.Status),
		nil, expiresAt, now, now, meta.CreatedBy, meta.UpdatedBy)
	if err != nil {
		return credential.Metadata{}, &credential.TransportError{Backend: s.driver, Op: "insert", Err: err}
	}

	s.invalidate(p)
	s.logger.Info("created credential %s for %s (version 1)", meta.ID, p)
	return meta, nil
}

// Reveal decrypts and returns a credential's plaintext fields alongside
// its metadata. This is the only plaintext read path; callers must treat
// it as privileged.
func (s *Store) Reveal(ctx context.Context, id string) (credential.Metadata, map[string]string, error) {
	meta, blob, err := s.rowWithPayload(ctx, id)
	if err != nil {
		return credential.Metadata{}, nil, err
	}
	fields, err := s.sealer.Unseal(ctx, blob)
	if err != nil {
		return credential.Metadata{}, nil, err
	}
	s.logger.Debug("revealed credential %s for %s", id, meta.Provider)
	return meta, fields, nil
}

// Rotate deactivates the referenced active credential and inserts a new
// linked version with the supplied fields. Ordering matters: the old row
// is deactivated before the new one is activated, so there is never a
// window with two active rows.
func (s *Store) Rotate(ctx context.Context, id string, fields map[string]string, expiresAt *time.Time, actor string) (credential.Metadata, error) {
	meta, err := s.rotate(ctx, id, fields, expiresAt, actor)
	metrics.RecordMutation("rotate", err)
	return meta, err
}

func (s *Store) rotate(ctx context.Context, id string, fields map[string]string, expiresAt *time.Time, actor string) (credential.Metadata, error) {
	current, err := s.row(ctx, id)
	if err != nil {
		return credential.Metadata{}, err
	}
	if !current.Active {
		return credential.Metadata{}, &credential.ConflictError{
			Op:     "rotate",
			Reason: "credential " + id + " is not active; only the active credential can be rotated",
		}
	}

	normalized, err := registry.ValidateFields(current.Provider, fields)
	if err != nil {
		return credential.Metadata{}, err
	}

	blob, err := s.sealer.Seal(ctx, normalized)
	if err != nil {
		return credential.Metadata{}, err
	}

	lock := s.providerLock(current.Provider)
	lock.Lock()
	defer lock.Unlock()

	now := s.now().UTC()

	// Conditional deactivate: if another rotation won the race, zero
	// rows match and we surface a conflict instead of forking the chain.
	deactivate := rebind(s.driver, `UPDATE credentials
		SET active = FALSE, last_rotated_at = ?, updated_at = ?, updated_by = ?
		WHERE id = ? AND active = TRUE`)
	res, err := s.db.ExecContext(ctx, deactivate, now, now, nullable(actor), id)
	if err != nil {
		return credential.Metadata{}, &credential.TransportError{Backend: s.driver, Op: "update", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return credential.Metadata{}, &credential.ConflictError{
			Op:     "rotate",
			Reason: "credential " + id + " was rotated concurrently; retry against the new active credential",
		}
	}

	meta := credential.Metadata{
		ID:        s.newID(),
		ParentID:  &current.ID,
		Provider:  current.Provider,
		Name:      current.Name,
		Version:   current.Version + 1,
		Active:    true,
		Status:    credential.StatusActive,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if actor != "" {
		meta.CreatedBy = &actor
		meta.UpdatedBy = &actor
	}

	insert := rebind(s.driver, `INSERT INTO credentials
		(id, parent_id, provider, name, payload, version, active, status,
		 last_rotated_at, expires_at, created_at, updated_at, created_by, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, insert,
		meta.ID, current.ID, string(meta.Provider), meta.Name, blob, meta.Version, true,
		string(meta.Status), nil, expiresAt, now, now, meta.CreatedBy, meta.UpdatedBy)
	if err != nil {
		return credential.Metadata{}, &credential.TransportError{Backend: s.driver, Op: "insert", Err: err}
	}

	s.invalidate(meta.Provider)
	s.logger.Info("rotated credential for %s: %s -> %s (version %d)", meta.Provider, id, meta.ID, meta.Version)
	return meta, nil
}

// Rollback reactivates an inactive credential, deactivating whatever row
// is currently active for the provider. Rolling back an already-active
// credential is a conflict.
func (s *Store) Rollback(ctx context.Context, id string, actor string) (credential.Metadata, error) {
	meta, err := s.rollback(ctx, id, actor)
	metrics.RecordMutation("rollback", err)
	return meta, err
}

func (s *Store) rollback(ctx context.Context, id string, actor string) (credential.Metadata, error) {
	target, err := s.row(ctx, id)
	if err != nil {
		return credential.Metadata{}, err
	}
	if target.Active {
		return credential.Metadata{}, &credential.ConflictError{
			Op:     "rollback",
			Reason: "credential " + id + " is already active",
		}
	}

	lock := s.providerLock(target.Provider)
	lock.Lock()
	defer lock.Unlock()

	now := s.now().UTC()

	deactivate := rebind(s.driver, `UPDATE credentials
		SET active = FALSE, updated_at = ?, updated_by = ?
		WHERE provider = ? AND active = TRUE`)
	if _, err := s.db.ExecContext(ctx, deactivate, now, nullable(actor), string(target.Provider)); err != nil {
		return credential.Metadata{}, &credential.TransportError{Backend: s.driver, Op: "update", Err: err}
	}

	activate := rebind(s.driver, `UPDATE credentials
		SET active = TRUE, status = ?, updated_at = ?, updated_by = ?
		WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, activate, string(credential.StatusActive), now, nullable(actor), id); err != nil {
		return credential.Metadata{}, &credential.TransportError{Backend: s.driver, Op: "update", Err: err}
	}

	s.invalidate(target.Provider)
	s.logger.Info("rolled back %s to credential %s (version %d)", target.Provider, id, target.Version)

	target.Active = true
	target.Status = credential.StatusActive
	target.UpdatedAt = now
	if actor != "" {
		target.UpdatedBy = &actor
	}
	return target, nil
}

// Remove revokes a credential: status becomes revoked and the row is
// deactivated. Revoking twice is a no-op beyond refreshing timestamps.
func (s *Store) Remove(ctx context.Context, id string, actor string) (credential.Metadata, error) {
	meta, err := s.remove(ctx, id, actor)
	metrics.RecordMutation("revoke", err)
	return meta, err
}

func (s *Store) remove(ctx context.Context, id string, actor string) (credential.Metadata, error) {
	target, err := s.row(ctx, id)
	if err != nil {
		return credential.Metadata{}, err
	}

	now := s.now().UTC()
	query := rebind(s.driver, `UPDATE credentials
		SET status = ?, active = FALSE, updated_at = ?, updated_by = ?
		WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, string(credential.StatusRevoked), now, nullable(actor), id); err != nil {
		return credential.Metadata{}, &credential.TransportError{Backend: s.driver, Op: "update", Err: err}
	}

	s.invalidate(target.Provider)
	s.logger.Info("revoked credential %s for %s", id, target.Provider)

	target.Active = false
	target.Status = credential.StatusRevoked
	target.UpdatedAt = now
	if actor != "" {
		target.UpdatedBy = &actor
	}
	return target, nil
}

// UpdateMetadata changes name, status, or expiry. The encrypted payload
// is never touched here.
func (s *Store) UpdateMetadata(ctx context.Context, id string, upd credential.MetadataUpdate, actor string) (credential.Metadata, error) {
	meta, err := s.updateMetadata(ctx, id, upd, actor)
	metrics.RecordMutation("update", err)
	return meta, err
}

func (s *Store) updateMetadata(ctx context.Context, id string, upd credential.MetadataUpdate, actor string) (credential.Metadata, error) {
	target, err := s.row(ctx, id)
	if err != nil {
		return credential.Metadata{}, err
	}

	now := s.now().UTC()
	if upd.Name != nil {
		target.Name = *upd.Name
	}
	if upd.Status != nil {
		target.Status = *upd.Status
	}
	if upd.ExpiresAt != nil {
		target.ExpiresAt = upd.ExpiresAt
	}
	target.UpdatedAt = now
	if actor != "" {
		target.UpdatedBy = &actor
	}

	query := rebind(s.driver, `UPDATE credentials
		SET name = ?, status = ?, expires_at = ?, updated_at = ?, updated_by = ?
		WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query,
		target.Name, string(target.Status), target.ExpiresAt, now, nullable(actor), id); err != nil {
		return credential.Metadata{}, &credential.TransportError{Backend: s.driver, Op: "update", Err: err}
	}

	s.invalidate(target.Provider)
	return target, nil
}

// List returns metadata for every credential row, newest version first
// within each provider.
func (s *Store) List(ctx context.Context) ([]credential.Metadata, error) {
	query := rebind(s.driver, `SELECT `+metadataColumns+` FROM credentials
		ORDER BY provider, version DESC`)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &credential.TransportError{Backend: s.driver, Op: "query", Err: err}
	}
	defer func() { _ = rows.Close() }()
	return scanAll(rows)
}

// History returns every row for the referenced credential's provider,
// newest version first. This is the full provider history, not just the
// parent chain of id.
func (s *Store) History(ctx context.Context, id string) ([]credential.Metadata, error) {
	target, err := s.row(ctx, id)
	if err != nil {
		return nil, err
	}

	query := rebind(s.driver, `SELECT `+metadataColumns+` FROM credentials
		WHERE provider = ? ORDER BY version DESC`)
	rows, err := s.db.QueryContext(ctx, query, string(target.Provider))
	if err != nil {
		return nil, &credential.TransportError{Backend: s.driver, Op: "query", Err: err}
	}
	defer func() { _ = rows.Close() }()
	return scanAll(rows)
}

// Get returns metadata for a single credential.
func (s *Store) Get(ctx context.Context, id string) (credential.Metadata, error) {
	return s.row(ctx, id)
}

// ActiveFields returns the decrypted fields of the provider's active
// credential, served from the TTL cache when fresh. A cache hit touches
// neither the database nor the encryption service.
func (s *Store) ActiveFields(ctx context.Context, p credential.Provider) (map[string]string, error) {
	if fields, ok := s.cache.Get(string(p)); ok {
		metrics.RecordCacheEvent("hit")
		return fields, nil
	}
	metrics.RecordCacheEvent("miss")

	meta, blob, err := s.activeRowWithPayload(ctx, p)
	if err != nil {
		return nil, err
	}
	fields, err := s.sealer.Unseal(ctx, blob)
	if err != nil {
		return nil, err
	}

	s.cache.Put(string(p), fields)
	s.logger.Debug("resolved active credential %s for %s from store", meta.ID, p)
	return fields, nil
}

// row fetches one row's metadata by id.
func (s *Store) row(ctx context.Context, id string) (credential.Metadata, error) {
	query := rebind(s.driver, `SELECT `+metadataColumns+` FROM credentials WHERE id = ?`)
	meta, err := scanOne(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Metadata{}, &credential.NotFoundError{Kind: "credential", Key: id}
	}
	if err != nil {
		return credential.Metadata{}, &credential.TransportError{Backend: s.driver, Op: "query", Err: err}
	}
	return meta, nil
}

// rowWithPayload fetches metadata plus the encrypted payload by id.
func (s *Store) rowWithPayload(ctx context.Context, id string) (credential.Metadata, []byte, error) {
	query := rebind(s.driver, `SELECT `+metadataColumns+`, payload FROM credentials WHERE id = ?`)
	meta, blob, err := scanOneWithPayload(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Metadata{}, nil, &credential.NotFoundError{Kind: "credential", Key: id}
	}
	if err != nil {
		return credential.Metadata{}, nil, &credential.TransportError{Backend: s.driver, Op: "query", Err: err}
	}
	return meta, blob, nil
}

// activeRow fetches metadata for the provider's active row. Absence is a
// ConfigurationError because the actionable fix is configuring the
// provider, not correcting an id.
func (s *Store) activeRow(ctx context.Context, p credential.Provider) (credential.Metadata, error) {
	query := rebind(s.driver, `SELECT `+metadataColumns+` FROM credentials
		WHERE provider = ? AND active = TRUE`)
	meta, err := scanOne(s.db.QueryRowContext(ctx, query, string(p)))
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Metadata{}, &credential.ConfigurationError{
			Provider: p,
			Hint:     "no active credential in the store; configure via admin",
		}
	}
	if err != nil {
		return credential.Metadata{}, &credential.TransportError{Backend: s.driver, Op: "query", Err: err}
	}
	return meta, nil
}

func (s *Store) activeRowWithPayload(ctx context.Context, p credential.Provider) (credential.Metadata, []byte, error) {
	query := rebind(s.driver, `SELECT `+metadataColumns+`, payload FROM credentials
		WHERE provider = ? AND active = TRUE`)
	meta, blob, err := scanOneWithPayload(s.db.QueryRowContext(ctx, query, string(p)))
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Metadata{}, nil, &credential.ConfigurationError{
			Provider: p,
			Hint:     "no active credential in the store; configure via admin",
		}
	}
	if err != nil {
		return credential.Metadata{}, nil, &credential.TransportError{Backend: s.driver, Op: "query", Err: err}
	}
	return meta, blob, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
