package postgres

import (
	"context"

	"github.com/tunedex/tunecrawler/internal/store"
)

// DeleteRefusedURLs removes a batch of URLs whose extension appears in the
// refused list. Returns the number of rows deleted; callers loop until zero.
func (s *PipelineStore) DeleteRefusedURLs(ctx context.Context, extensions []string, limit int) (int64, error) {
	if len(extensions) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
DELETE FROM urls
WHERE id IN (
	SELECT id FROM urls
	WHERE url_extension = ANY($1)
	LIMIT $2
)`, extensions, limit)
	if err != nil {
		return 0, storeErr("delete refused urls", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteDNSHostURLs removes a batch of URLs belonging to hosts disabled for
// DNS failures. Returns the number of rows deleted.
func (s *PipelineStore) DeleteDNSHostURLs(ctx context.Context, limit int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM urls
WHERE id IN (
	SELECT id FROM urls
	WHERE host IN (SELECT host FROM hosts WHERE disabled = TRUE AND disabled_reason = $1)
	LIMIT $2
)`, store.DisableReasonDNS, limit)
	if err != nil {
		return 0, storeErr("delete dns host urls", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteDNSHosts removes host rows disabled for DNS failures once their URLs
// are gone.
func (s *PipelineStore) DeleteDNSHosts(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM hosts WHERE disabled = TRUE AND disabled_reason = $1`, store.DisableReasonDNS)
	if err != nil {
		return 0, storeErr("delete dns hosts", err)
	}
	return tag.RowsAffected(), nil
}

// ListErasableDocuments returns a batch of parsed non-ABC URLs whose
// documents have not been erased yet, payload included so callers can archive
// before erasure.
func (s *PipelineStore) ListErasableDocuments(ctx context.Context, limit int) ([]store.ErasableDocument, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, url, document
FROM urls
WHERE status = 'parsed' AND has_abc = FALSE
  AND document IS NOT NULL AND document <> $1
LIMIT $2`, []byte(store.DocumentErased), limit)
	if err != nil {
		return nil, storeErr("list erasable documents", err)
	}
	defer rows.Close()

	var docs []store.ErasableDocument
	for rows.Next() {
		var d store.ErasableDocument
		if err := rows.Scan(&d.ID, &d.URL, &d.Document); err != nil {
			return nil, storeErr("scan erasable document", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// EraseDocuments overwrites the payload of the given URLs with the tombstone
// and zeroes their size.
func (s *PipelineStore) EraseDocuments(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE urls SET document = $1, size_bytes = 0 WHERE id = ANY($2)`,
		[]byte(store.DocumentErased), ids)
	if err != nil {
		return 0, storeErr("erase documents", err)
	}
	return tag.RowsAffected(), nil
}
