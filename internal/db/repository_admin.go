package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// SMTP endpoints
func (r *Repository) ListSMTPEndpoints(ctx context.Context) ([]*SMTPEndpoint, error) {
	endpoints := []*SMTPEndpoint{}
	if err := r.db.SelectContext(ctx, &endpoints,
		`SELECT * FROM smtp_endpoints ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("failed to list smtp endpoints: %w", err)
	}
	return endpoints, nil
}

// ListActiveSMTPEndpoints returns active endpoints least recently used first.
func (r *Repository) ListActiveSMTPEndpoints(ctx context.Context) ([]*SMTPEndpoint, error) {
	endpoints := []*SMTPEndpoint{}
	query := `
		SELECT * FROM smtp_endpoints
		WHERE is_active = TRUE
		ORDER BY last_used_at ASC NULLS FIRST, id`

	if err := r.db.SelectContext(ctx, &endpoints, query); err != nil {
		return nil, fmt.Errorf("failed to list active smtp endpoints: %w", err)
	}
	return endpoints, nil
}

func (r *Repository) InsertSMTPEndpoints(ctx context.Context, endpoints []*SMTPEndpoint) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO smtp_endpoints (
			id, name, host, port, username, password, use_tls, use_ssl, from_email,
			timeout, is_active, thread_count, test_status, created_at
		) VALUES (
			:id, :name, :host, :port, :username, :password, :use_tls, :use_ssl, :from_email,
			:timeout, :is_active, :thread_count, :test_status, :created_at
		)`

	for _, ep := range endpoints {
		if _, err := tx.NamedExecContext(ctx, query, ep); err != nil {
			return fmt.Errorf("failed to insert smtp endpoint %s: %w", ep.Host, err)
		}
	}

	return tx.Commit()
}

func (r *Repository) TouchSMTPEndpoint(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE smtp_endpoints SET last_used_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("failed to touch smtp endpoint: %w", err)
	}
	return nil
}

func (r *Repository) UpdateSMTPTestStatus(ctx context.Context, id, status string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE smtp_endpoints SET test_status = $2, tested_at = $3 WHERE id = $1`, id, status, at); err != nil {
		return fmt.Errorf("failed to update smtp test status: %w", err)
	}
	return nil
}

func (r *Repository) SetSMTPEndpointActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE smtp_endpoints SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update smtp endpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Suppression list
func (r *Repository) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM suppressions WHERE email = LOWER($1))`, email)
	if err != nil {
		return false, fmt.Errorf("failed to check suppression: %w", err)
	}
	return exists, nil
}

func (r *Repository) SuppressedEmails(ctx context.Context) ([]string, error) {
	emails := []string{}
	if err := r.db.SelectContext(ctx, &emails, `SELECT email FROM suppressions`); err != nil {
		return nil, fmt.Errorf("failed to load suppressions: %w", err)
	}
	return emails, nil
}

// AddSuppressions stores the entries and flags matching shared records.
func (r *Repository) AddSuppressions(ctx context.Context, entries []Suppression) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	added := 0
	emails := make([]string, 0, len(entries))
	for _, e := range entries {
		email := strings.ToLower(strings.TrimSpace(e.Email))
		if email == "" {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO suppressions (email, reason, created_at) VALUES ($1, $2, NOW())
			 ON CONFLICT (email) DO NOTHING`, email, e.Reason)
		if err != nil {
			return 0, fmt.Errorf("failed to add suppression: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			added++
		}
		emails = append(emails, email)
	}

	if len(emails) > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE address_records SET suppressed = TRUE WHERE email_normalized = ANY($1)`,
			pq.Array(emails)); err != nil {
			return 0, fmt.Errorf("failed to flag suppressed records: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit suppressions: %w", err)
	}
	return added, nil
}

// Ignore domains
func (r *Repository) ListIgnoreDomains(ctx context.Context) ([]string, error) {
	domains := []string{}
	if err := r.db.SelectContext(ctx, &domains,
		`SELECT domain FROM ignore_domains ORDER BY domain`); err != nil {
		return nil, fmt.Errorf("failed to list ignore domains: %w", err)
	}
	return domains, nil
}

func (r *Repository) AddIgnoreDomains(ctx context.Context, domains []string) (int, error) {
	added := 0
	for _, d := range domains {
		res, err := r.db.ExecContext(ctx,
			`INSERT INTO ignore_domains (domain, created_at) VALUES (LOWER($1), NOW())
			 ON CONFLICT (domain) DO NOTHING`, d)
		if err != nil {
			return added, fmt.Errorf("failed to add ignore domain %s: %w", d, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			added++
		}
	}
	return added, nil
}

func (r *Repository) DeleteIgnoreDomain(ctx context.Context, domain string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM ignore_domains WHERE domain = LOWER($1)`, domain); err != nil {
		return fmt.Errorf("failed to delete ignore domain: %w", err)
	}
	return nil
}

// Download history
func (r *Repository) InsertDownloadHistory(ctx context.Context, h *DownloadHistory) error {
	return r.insertHistory(ctx, "download_history", h)
}

func (r *Repository) InsertTenantDownloadHistory(ctx context.Context, h *DownloadHistory) error {
	return r.insertHistory(ctx, "tenant_download_history", h)
}

func (r *Repository) insertHistory(ctx context.Context, table string, h *DownloadHistory) error {
	query := `
		INSERT INTO ` + table + ` (
			id, tenant_id, batch_id, job_id, filename, path, size_bytes, record_count,
			filters, downloaded_times, created_at, last_downloaded_at
		) VALUES (
			:id, :tenant_id, :batch_id, :job_id, :filename, :path, :size_bytes, :record_count,
			:filters, :downloaded_times, :created_at, :last_downloaded_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, h); err != nil {
		return fmt.Errorf("failed to insert %s entry: %w", table, err)
	}
	return nil
}

// IncrementTenantDownload bumps the isolated re-download counter.
func (r *Repository) IncrementTenantDownload(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tenant_download_history SET
			downloaded_times = downloaded_times + 1,
			last_downloaded_at = $2
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to increment tenant download: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListDownloadHistory(ctx context.Context, tenantID string, isolated bool) ([]*DownloadHistory, error) {
	table := "download_history"
	if isolated {
		table = "tenant_download_history"
	}
	entries := []*DownloadHistory{}
	query := `SELECT * FROM ` + table + ` WHERE tenant_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &entries, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list download history: %w", err)
	}
	return entries, nil
}

func (r *Repository) GetDownloadHistory(ctx context.Context, id, tenantID string, isolated bool) (*DownloadHistory, error) {
	table := "download_history"
	if isolated {
		table = "tenant_download_history"
	}
	var h DownloadHistory
	err := r.db.GetContext(ctx, &h,
		`SELECT * FROM `+table+` WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get download history: %w", err)
	}
	return &h, nil
}
