// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tunedex/tunecrawler/internal/store"
	"github.com/tunedex/tunecrawler/internal/urlkit"
)

// PipelineStoreConfig controls the Postgres connection pool used for the
// crawl pipeline tables.
type PipelineStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PipelineStore owns all reads and writes against urls, hosts, tunebooks and
// tunes. Claim operations are single write-serialized transactions so two
// concurrent callers never receive the same row.
type PipelineStore struct {
	pool pgxIface
}

// NewPipelineStore creates a Postgres-backed PipelineStore using the provided config.
func NewPipelineStore(ctx context.Context, cfg PipelineStoreConfig) (*PipelineStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PipelineStore{pool: pool}, nil
}

// NewPipelineStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPipelineStoreWithPool(pool pgxIface) (*PipelineStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PipelineStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *PipelineStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, &store.ErrUnavailable{Err: err})
}

const urlColumns = `id, url, COALESCE(host,''), created_at, status, COALESCE(retries,0),
	dispatched_at, downloaded_at, COALESCE(mime_type,''), http_status,
	COALESCE(size_bytes,0), COALESCE(has_abc,FALSE), COALESCE(url_extension,''),
	COALESCE(link_distance,0)`

func scanURL(row pgx.Row) (*store.URL, error) {
	var u store.URL
	err := row.Scan(
		&u.ID,
		&u.URL,
		&u.Host,
		&u.CreatedAt,
		&u.Status,
		&u.Retries,
		&u.DispatchedAt,
		&u.DownloadedAt,
		&u.MimeType,
		&u.HTTPStatus,
		&u.SizeBytes,
		&u.HasABC,
		&u.URLExtension,
		&u.LinkDistance,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ClaimNextFetch atomically selects and dispatches the best eligible new URL
// for a fetcher. ABC-extension rows outrank everything else, then oldest
// first. Host cooldown and disabled gates are evaluated inside the same
// statement. The claimed host's last_access is reserved in the same
// transaction so a second fetcher cannot land on the host inside the
// cooldown window.
func (s *PipelineStore) ClaimNextFetch(ctx context.Context, now time.Time, cooldown time.Duration, abcExt string) (*store.URL, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin claim fetch", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := fmt.Sprintf(`
UPDATE urls
SET status = 'dispatched', dispatched_at = $1
WHERE id = (
	SELECT u.id
	FROM urls u
	LEFT JOIN hosts h ON h.host = u.host
	WHERE u.status = ''
	  AND COALESCE(u.retries, 0) < $2
	  AND (h.host IS NULL OR h.disabled = FALSE)
	  AND (h.last_access IS NULL OR h.last_access <= $1 - make_interval(secs => $3))
	ORDER BY (u.url_extension = $4) DESC, u.created_at ASC, u.id ASC
	LIMIT 1
	FOR UPDATE OF u SKIP LOCKED
)
RETURNING %s`, urlColumns)

	row := tx.QueryRow(ctx, query, now, store.MaxRetries, cooldown.Seconds(), abcExt)
	u, err := scanURL(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNoWork
		}
		return nil, storeErr("claim fetch", err)
	}

	if u.Host != "" {
		_, err = tx.Exec(ctx, `
INSERT INTO hosts (host, last_access)
VALUES ($1, $2)
ON CONFLICT (host) DO UPDATE SET last_access = EXCLUDED.last_access`, u.Host, now)
		if err != nil {
			return nil, storeErr("reserve host", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit claim fetch", err)
	}
	return u, nil
}

// ClaimNextParse atomically selects and marks the next fetched URL as
// parsing. Oldest download first so documents do not rot in the queue.
func (s *PipelineStore) ClaimNextParse(ctx context.Context, now time.Time) (*store.URL, error) {
	query := fmt.Sprintf(`
UPDATE urls
SET status = 'parsing', dispatched_at = $1
WHERE id = (
	SELECT id FROM urls
	WHERE status = 'fetched'
	ORDER BY downloaded_at ASC NULLS FIRST, id ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING %s`, urlColumns)

	u, err := scanURL(s.pool.QueryRow(ctx, query, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNoWork
		}
		return nil, storeErr("claim parse", err)
	}
	return u, nil
}

// ClaimNextTunebook atomically selects the next tunebook awaiting indexing
// and flips both the tunebook and its source URL into the indexing state.
func (s *PipelineStore) ClaimNextTunebook(ctx context.Context, now time.Time) (*store.Tunebook, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin claim tunebook", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx, `
UPDATE tunebooks
SET status = 'indexing', dispatched_at = $1
WHERE id = (
	SELECT id FROM tunebooks
	WHERE status = ''
	ORDER BY created_at ASC, id ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, url, created_at, status, dispatched_at`, now)

	var tb store.Tunebook
	if err := row.Scan(&tb.ID, &tb.URL, &tb.CreatedAt, &tb.Status, &tb.DispatchedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNoWork
		}
		return nil, storeErr("claim tunebook", err)
	}

	_, err = tx.Exec(ctx, `
UPDATE urls SET status = 'indexing', dispatched_at = $1
WHERE url = $2 AND status = 'parsed'`, now, tb.URL)
	if err != nil {
		return nil, storeErr("mark url indexing", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit claim tunebook", err)
	}
	return &tb, nil
}

// ApplyFetchResult persists a fetcher outcome in one transaction: the
// document, host bookkeeping and link fan-out on success, the retry ladder on
// failure. Duplicate links short-circuit on the urls.url
// unique constraint. Returns the URL's resulting status so callers can tell
// a terminal error from a retry.
func (s *PipelineStore) ApplyFetchResult(ctx context.Context, id int64, outcome store.FetchOutcome, now time.Time, linkDistance int) (store.URLStatus, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", storeErr("begin fetch result", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var host string
	if err := tx.QueryRow(ctx, `SELECT COALESCE(host,'') FROM urls WHERE id = $1`, id).Scan(&host); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", storeErr("load url host", err)
	}

	if outcome.Failed() {
		status, err := s.applyFetchFailure(ctx, tx, id, host, outcome, now)
		if err != nil {
			return "", err
		}
		return status, commit(ctx, tx, "fetch result")
	}

	_, err = tx.Exec(ctx, `
UPDATE urls
SET downloaded_at = $1,
    size_bytes = $2,
    mime_type = $3,
    document = $4,
    http_status = $5,
    retries = 0,
    status = 'fetched',
    dispatched_at = NULL
WHERE id = $6`, now, outcome.SizeBytes, outcome.MimeType, outcome.Body, outcome.HTTPStatus, id)
	if err != nil {
		return "", storeErr("mark fetched", err)
	}

	if host != "" {
		_, err = tx.Exec(ctx, `
INSERT INTO hosts (host, last_access, last_http_status, downloads)
VALUES ($1, $2, $3, 1)
ON CONFLICT (host) DO UPDATE
SET last_access = EXCLUDED.last_access,
    last_http_status = EXCLUDED.last_http_status,
    downloads = COALESCE(hosts.downloads, 0) + 1`, host, now, outcome.HTTPStatus)
		if err != nil {
			return "", storeErr("touch host", err)
		}
	}

	if err := insertLinks(ctx, tx, outcome.Links, linkDistance+1); err != nil {
		return "", err
	}
	return store.StatusFetched, commit(ctx, tx, "fetch result")
}

func (s *PipelineStore) applyFetchFailure(ctx context.Context, tx pgx.Tx, id int64, host string, outcome store.FetchOutcome, now time.Time) (store.URLStatus, error) {
	terminal := outcome.HTTPStatus >= 400 && outcome.HTTPStatus < 500 && outcome.ErrorKind == store.FetchErrNone

	status := store.StatusError
	if terminal {
		var retries int
		err := tx.QueryRow(ctx, `
UPDATE urls
SET status = 'error', http_status = $1, downloaded_at = $2, dispatched_at = NULL
WHERE id = $3
RETURNING COALESCE(retries, 0)`, outcome.HTTPStatus, now, id).Scan(&retries)
		if err != nil {
			return "", storeErr("mark terminal error", err)
		}
	} else {
		var retries int
		err := tx.QueryRow(ctx, `
UPDATE urls
SET retries = COALESCE(retries, 0) + 1,
    status = CASE WHEN COALESCE(retries, 0) + 1 >= $1 THEN 'error' ELSE '' END,
    http_status = $2,
    dispatched_at = NULL
WHERE id = $3
RETURNING retries, status`, store.MaxRetries, nullableStatus(outcome.HTTPStatus), id).Scan(&retries, &status)
		if err != nil {
			return "", storeErr("bump retries", err)
		}
	}

	if host == "" {
		return status, nil
	}
	if outcome.ErrorKind == store.FetchErrDNS {
		_, err := tx.Exec(ctx, `
INSERT INTO hosts (host, disabled, disabled_reason, disabled_at, last_access)
VALUES ($1, TRUE, $2, $3, $3)
ON CONFLICT (host) DO UPDATE
SET disabled = TRUE, disabled_reason = EXCLUDED.disabled_reason,
    disabled_at = EXCLUDED.disabled_at, last_access = EXCLUDED.last_access`,
			host, store.DisableReasonDNS, now)
		if err != nil {
			return "", storeErr("disable dns host", err)
		}
		return status, nil
	}
	_, err := tx.Exec(ctx, `
INSERT INTO hosts (host, last_access, last_http_status)
VALUES ($1, $2, $3)
ON CONFLICT (host) DO UPDATE
SET last_access = EXCLUDED.last_access, last_http_status = EXCLUDED.last_http_status`,
		host, now, nullableStatus(outcome.HTTPStatus))
	if err != nil {
		return "", storeErr("touch failed host", err)
	}
	return status, nil
}

func nullableStatus(code int) *int {
	if code == 0 {
		return nil
	}
	return &code
}

func insertLinks(ctx context.Context, tx pgx.Tx, links []string, distance int) error {
	for _, link := range links {
		host := urlkit.ExtractHost(link)
		ext := urlkit.Extension(link)
		_, err := tx.Exec(ctx, `
INSERT INTO urls (url, host, url_extension, link_distance, status, retries)
VALUES ($1, $2, $3, $4, '', 0)
ON CONFLICT (url) DO NOTHING`, link, host, ext, distance)
		if err != nil {
			return storeErr("insert link", err)
		}
	}
	return nil
}

// AddURLs seeds rows at the given link distance. Duplicates are ignored.
// Returns the number of rows actually inserted.
func (s *PipelineStore) AddURLs(ctx context.Context, urls []string, distance int) (int64, error) {
	var added int64
	for _, raw := range urls {
		tag, err := s.pool.Exec(ctx, `
INSERT INTO urls (url, host, url_extension, link_distance, status, retries)
VALUES ($1, $2, $3, $4, '', 0)
ON CONFLICT (url) DO NOTHING`, raw, urlkit.ExtractHost(raw), urlkit.Extension(raw), distance)
		if err != nil {
			return added, storeErr("add url", err)
		}
		added += tag.RowsAffected()
	}
	return added, nil
}

// ApplyParseResult writes the tunebook and its tunes in one transaction and
// advances the URL to parsed. An empty tune list still advances the URL, with
// has_abc = FALSE and no tunebook row. On failure the URL rides the retry
// ladder back to fetched.
func (s *PipelineStore) ApplyParseResult(ctx context.Context, id int64, outcome store.ParseOutcome, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin parse result", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if outcome.Failed {
		err := retryLadder(ctx, tx, id, store.StatusFetched)
		if err != nil {
			return err
		}
		return commit(ctx, tx, "parse result")
	}

	var rawURL string
	if err := tx.QueryRow(ctx, `SELECT url FROM urls WHERE id = $1`, id).Scan(&rawURL); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		return storeErr("load url", err)
	}

	hasABC := len(outcome.Tunes) > 0
	if hasABC {
		var tunebookID int64
		err := tx.QueryRow(ctx, `
INSERT INTO tunebooks (url, created_at, status)
VALUES ($1, $2, '')
ON CONFLICT (url) DO UPDATE SET url = EXCLUDED.url
RETURNING id`, rawURL, now).Scan(&tunebookID)
		if err != nil {
			return storeErr("insert tunebook", err)
		}
		for _, t := range outcome.Tunes {
			_, err := tx.Exec(ctx, `
INSERT INTO tunes (
	tunebook_id, reference_number, title, composer, origin, area, meter,
	unit_note_length, tempo, parts, transcription, notes, "group", history,
	"key", rhythm, book, discography, source, instruction, tune_body,
	pitches, status
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
				tunebookID, t.ReferenceNumber, t.Title, t.Composer, t.Origin, t.Area,
				t.Meter, t.UnitNoteLength, t.Tempo, t.Parts, t.Transcription, t.Notes,
				t.Group, t.History, t.Key, t.Rhythm, t.Book, t.Discography, t.Source,
				t.Instruction, t.TuneBody, t.Pitches, t.Status)
			if err != nil {
				return storeErr("insert tune", err)
			}
		}
	}

	_, err = tx.Exec(ctx, `
UPDATE urls SET status = 'parsed', has_abc = $1, dispatched_at = NULL
WHERE id = $2`, hasABC, id)
	if err != nil {
		return storeErr("mark parsed", err)
	}
	return commit(ctx, tx, "parse result")
}

// ApplyIndexResult writes the interval vectors for a tunebook's tunes, marks
// the tunebook indexed, and advances the source URL to indexed once every
// tunebook for that URL is done. Re-applying the same vectors is harmless. On
// failure the tunebook rides its own retry ladder while the URL falls back to
// parsed. Returns the URL's resulting status so callers can tell the final
// tunebook of a URL from an intermediate one.
func (s *PipelineStore) ApplyIndexResult(ctx context.Context, tunebookID int64, outcome store.IndexOutcome) (store.URLStatus, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", storeErr("begin index result", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if outcome.Failed {
		var retries int
		err := tx.QueryRow(ctx, `
UPDATE tunebooks
SET retries = COALESCE(retries, 0) + 1,
    status = CASE WHEN COALESCE(retries, 0) + 1 >= $1 THEN 'error' ELSE '' END,
    dispatched_at = NULL
WHERE id = $2
RETURNING retries`, store.MaxRetries, tunebookID).Scan(&retries)
		if err != nil {
			return "", storeErr("bump tunebook retries", err)
		}
		_, err = tx.Exec(ctx, `
UPDATE urls SET status = 'parsed', dispatched_at = NULL
WHERE url = (SELECT url FROM tunebooks WHERE id = $1) AND status = 'indexing'`, tunebookID)
		if err != nil {
			return "", storeErr("revert url to parsed", err)
		}
		return store.StatusParsed, commit(ctx, tx, "index result")
	}

	for tuneID, intervals := range outcome.IntervalsByTune {
		_, err := tx.Exec(ctx, `UPDATE tunes SET intervals = $1 WHERE id = $2`, intervals, tuneID)
		if err != nil {
			return "", storeErr("write intervals", err)
		}
	}

	_, err = tx.Exec(ctx, `
UPDATE tunebooks SET status = 'indexed', dispatched_at = NULL WHERE id = $1`, tunebookID)
	if err != nil {
		return "", storeErr("mark tunebook indexed", err)
	}

	tag, err := tx.Exec(ctx, `
UPDATE urls SET status = 'indexed', dispatched_at = NULL
WHERE url = (SELECT url FROM tunebooks WHERE id = $1)
  AND NOT EXISTS (
	SELECT 1 FROM tunebooks tb
	WHERE tb.url = urls.url AND tb.status <> 'indexed'
  )`, tunebookID)
	if err != nil {
		return "", storeErr("mark url indexed", err)
	}
	status := store.StatusIndexing
	if tag.RowsAffected() > 0 {
		status = store.StatusIndexed
	}
	return status, commit(ctx, tx, "index result")
}

func retryLadder(ctx context.Context, tx pgx.Tx, id int64, revertTo store.URLStatus) error {
	var retries int
	err := tx.QueryRow(ctx, `
UPDATE urls
SET retries = COALESCE(retries, 0) + 1,
    status = CASE WHEN COALESCE(retries, 0) + 1 >= $1 THEN 'error' ELSE $2 END,
    dispatched_at = NULL
WHERE id = $3
RETURNING retries`, store.MaxRetries, string(revertTo), id).Scan(&retries)
	if err != nil {
		return storeErr("bump retries", err)
	}
	return nil
}

func commit(ctx context.Context, tx pgx.Tx, op string) error {
	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit "+op, err)
	}
	return nil
}

// ReleaseStuck reverts every in-flight URL older than the TTL back to its
// queueable predecessor, and releases tunebook claims the same way. Returns
// the number of rows reverted.
func (s *PipelineStore) ReleaseStuck(ctx context.Context, now time.Time, ttl time.Duration) (int64, error) {
	cutoff := now.Add(-ttl)
	tag, err := s.pool.Exec(ctx, `
UPDATE urls
SET status = CASE status
	WHEN 'dispatched' THEN ''
	WHEN 'parsing' THEN 'fetched'
	WHEN 'indexing' THEN 'parsed'
	END,
    dispatched_at = NULL
WHERE status IN ('dispatched', 'parsing', 'indexing')
  AND (dispatched_at IS NULL OR dispatched_at <= $1)`, cutoff)
	if err != nil {
		return 0, storeErr("release stuck urls", err)
	}
	reverted := tag.RowsAffected()

	tbTag, err := s.pool.Exec(ctx, `
UPDATE tunebooks SET status = '', dispatched_at = NULL
WHERE status = 'indexing'
  AND (dispatched_at IS NULL OR dispatched_at <= $1)`, cutoff)
	if err != nil {
		return reverted, storeErr("release stuck tunebooks", err)
	}
	return reverted + tbTag.RowsAffected(), nil
}

// ResetOnStartup reverts every in-flight row regardless of age. Called once
// before the dispatcher accepts worker connections.
func (s *PipelineStore) ResetOnStartup(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE urls
SET status = CASE status
	WHEN 'dispatched' THEN ''
	WHEN 'parsing' THEN 'fetched'
	WHEN 'indexing' THEN 'parsed'
	END,
    dispatched_at = NULL
WHERE status IN ('dispatched', 'parsing', 'indexing')`)
	if err != nil {
		return 0, storeErr("reset urls", err)
	}
	reverted := tag.RowsAffected()

	tbTag, err := s.pool.Exec(ctx, `
UPDATE tunebooks SET status = '', dispatched_at = NULL
WHERE status = 'indexing'`)
	if err != nil {
		return reverted, storeErr("reset tunebooks", err)
	}
	return reverted + tbTag.RowsAffected(), nil
}

// GetDocument loads the stored body for one URL so parser workers can re-read
// it instead of shipping multi-megabyte frames over the worker socket.
func (s *PipelineStore) GetDocument(ctx context.Context, id int64) ([]byte, string, error) {
	var body []byte
	var rawURL string
	err := s.pool.QueryRow(ctx, `SELECT document, url FROM urls WHERE id = $1`, id).Scan(&body, &rawURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", store.ErrNotFound
		}
		return nil, "", storeErr("get document", err)
	}
	return body, rawURL, nil
}

// TunesForTunebook returns the parsed tunes of one tunebook, id and pitch
// sequence only, for the indexer assignment payload.
func (s *PipelineStore) TunesForTunebook(ctx context.Context, tunebookID int64) ([]store.Tune, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, COALESCE(pitches, '')
FROM tunes
WHERE tunebook_id = $1 AND status = 'parsed'
ORDER BY id ASC`, tunebookID)
	if err != nil {
		return nil, storeErr("list tunes", err)
	}
	defer rows.Close()

	var tunes []store.Tune
	for rows.Next() {
		t := store.Tune{TunebookID: tunebookID}
		if err := rows.Scan(&t.ID, &t.Pitches); err != nil {
			return nil, storeErr("scan tune", err)
		}
		tunes = append(tunes, t)
	}
	return tunes, rows.Err()
}

// GetHost loads one host row or ErrNotFound.
func (s *PipelineStore) GetHost(ctx context.Context, host string) (store.Host, error) {
	var h store.Host
	err := s.pool.QueryRow(ctx, `
SELECT host, last_access, last_http_status, COALESCE(downloads, 0),
       COALESCE(disabled, FALSE), COALESCE(disabled_reason, ''), disabled_at
FROM hosts WHERE host = $1`, host).Scan(
		&h.Host, &h.LastAccess, &h.LastHTTPStatus, &h.Downloads,
		&h.Disabled, &h.DisabledReason, &h.DisabledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Host{}, store.ErrNotFound
		}
		return store.Host{}, storeErr("get host", err)
	}
	return h, nil
}

// DisableHost marks a host disabled with the given reason, inserting the row
// if it was never seen. Re-disabling a disabled host is a no-op by effect.
func (s *PipelineStore) DisableHost(ctx context.Context, host, reason string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO hosts (host, disabled, disabled_reason, disabled_at)
VALUES ($1, TRUE, $2, $3)
ON CONFLICT (host) DO UPDATE
SET disabled = TRUE, disabled_reason = EXCLUDED.disabled_reason,
    disabled_at = EXCLUDED.disabled_at`, host, reason, now)
	if err != nil {
		return storeErr("disable host", err)
	}
	return nil
}

// EnableTimedOutHosts clears the disabled flag from hosts whose timeout block
// has aged past the cutoff. Returns the number of hosts re-enabled.
func (s *PipelineStore) EnableTimedOutHosts(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE hosts
SET disabled = FALSE, disabled_reason = NULL, disabled_at = NULL
WHERE disabled = TRUE AND disabled_reason = $1 AND disabled_at <= $2`,
		store.DisableReasonTimeout, cutoff)
	if err != nil {
		return 0, storeErr("enable timed out hosts", err)
	}
	return tag.RowsAffected(), nil
}

// RefusedExtensions lists the file extensions the pipeline refuses to crawl.
func (s *PipelineStore) RefusedExtensions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT extension FROM refused_extensions`)
	if err != nil {
		return nil, storeErr("list refused extensions", err)
	}
	defer rows.Close()

	var exts []string
	for rows.Next() {
		var ext string
		if err := rows.Scan(&ext); err != nil {
			return nil, storeErr("scan refused extension", err)
		}
		exts = append(exts, ext)
	}
	return exts, rows.Err()
}

// AllowedMimePatterns lists the enabled MIME allow-list patterns. Patterns
// may contain '*' wildcards.
func (s *PipelineStore) AllowedMimePatterns(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT pattern FROM mime_types WHERE enabled = TRUE`)
	if err != nil {
		return nil, storeErr("list mime patterns", err)
	}
	defer rows.Close()

	var patterns []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, storeErr("scan mime pattern", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}
