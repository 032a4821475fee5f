// Package purger runs the periodic cleanup loop: refused-extension URLs and
// DNS-dead hosts are deleted, timeout-blocked hosts are re-enabled after
// their cooling-off period, and the payloads of parsed pages that held no
// tunes are archived and erased.
package purger

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/metrics"
	"github.com/tunedex/tunecrawler/internal/store"
)

// Store is the slice of the store the purger needs.
type Store interface {
	RefusedExtensions(ctx context.Context) ([]string, error)
	DeleteRefusedURLs(ctx context.Context, extensions []string, limit int) (int64, error)
	DeleteDNSHostURLs(ctx context.Context, limit int) (int64, error)
	DeleteDNSHosts(ctx context.Context) (int64, error)
	EnableTimedOutHosts(ctx context.Context, cutoff time.Time) (int64, error)
	ListErasableDocuments(ctx context.Context, limit int) ([]store.ErasableDocument, error)
	EraseDocuments(ctx context.Context, ids []int64) (int64, error)
}

// Archive receives document payloads before they are erased.
type Archive interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// Config controls the purge loop.
type Config struct {
	Interval time.Duration
	// DeleteBatch bounds one DELETE statement; the loop repeats until a
	// batch comes back empty.
	DeleteBatch int
	// EraseBatch bounds one archive-and-erase round per cycle.
	EraseBatch int
	// ReenableAfter is how long a timeout-disabled host stays blocked.
	ReenableAfter time.Duration
	// ArchivePrefix is the object name prefix in the archive.
	ArchivePrefix string
	// ArchiveContentType is recorded on archived objects.
	ArchiveContentType string
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.DeleteBatch <= 0 {
		c.DeleteBatch = 500
	}
	if c.EraseBatch <= 0 {
		c.EraseBatch = 200
	}
	if c.ReenableAfter <= 0 {
		c.ReenableAfter = 24 * time.Hour
	}
	if c.ArchivePrefix == "" {
		c.ArchivePrefix = "documents"
	}
	if c.ArchiveContentType == "" {
		c.ArchiveContentType = "text/html"
	}
}

// Purger drives the cleanup loop.
type Purger struct {
	cfg     Config
	store   Store
	archive Archive
	clock   Clock
	logger  *zap.Logger
}

// New constructs a Purger. A nil archive disables archival; documents are
// then erased without a copy.
func New(st Store, archive Archive, clock Clock, cfg Config, logger *zap.Logger) *Purger {
	cfg.applyDefaults()
	return &Purger{cfg: cfg, store: st, archive: archive, clock: clock, logger: logger}
}

// Run blocks until the context finishes, purging once immediately and then
// once per interval.
func (p *Purger) Run(ctx context.Context) error {
	p.RunOnce(ctx)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce executes one full purge cycle. Each stage logs and continues on
// failure so one broken stage does not starve the others.
func (p *Purger) RunOnce(ctx context.Context) {
	p.purgeRefusedURLs(ctx)
	p.purgeDNSHosts(ctx)
	p.reenableTimedOutHosts(ctx)
	p.eraseDocuments(ctx)
}

func (p *Purger) purgeRefusedURLs(ctx context.Context) {
	extensions, err := p.store.RefusedExtensions(ctx)
	if err != nil {
		p.logger.Error("load refused extensions failed", zap.Error(err))
		return
	}
	if len(extensions) == 0 {
		return
	}
	var total int64
	for {
		n, err := p.store.DeleteRefusedURLs(ctx, extensions, p.cfg.DeleteBatch)
		if err != nil {
			p.logger.Error("delete refused urls failed", zap.Error(err))
			break
		}
		total += n
		if n == 0 {
			break
		}
	}
	if total > 0 {
		metrics.ObservePurge("refused_url", total)
		p.logger.Info("purged refused-extension urls", zap.Int64("deleted", total))
	}
}

func (p *Purger) purgeDNSHosts(ctx context.Context) {
	var urls int64
	for {
		n, err := p.store.DeleteDNSHostURLs(ctx, p.cfg.DeleteBatch)
		if err != nil {
			p.logger.Error("delete dns host urls failed", zap.Error(err))
			return
		}
		urls += n
		if n == 0 {
			break
		}
	}
	hosts, err := p.store.DeleteDNSHosts(ctx)
	if err != nil {
		p.logger.Error("delete dns hosts failed", zap.Error(err))
		return
	}
	if urls > 0 || hosts > 0 {
		metrics.ObservePurge("dns_url", urls)
		metrics.ObservePurge("dns_host", hosts)
		p.logger.Info("purged dns-dead hosts",
			zap.Int64("urls", urls), zap.Int64("hosts", hosts))
	}
}

func (p *Purger) reenableTimedOutHosts(ctx context.Context) {
	cutoff := p.clock.Now().Add(-p.cfg.ReenableAfter)
	n, err := p.store.EnableTimedOutHosts(ctx, cutoff)
	if err != nil {
		p.logger.Error("re-enable timed out hosts failed", zap.Error(err))
		return
	}
	if n > 0 {
		metrics.ObservePurge("host_reenabled", n)
		p.logger.Info("re-enabled timeout-blocked hosts", zap.Int64("hosts", n))
	}
}

// eraseDocuments archives and tombstones the payloads of parsed pages that
// yielded no tunes. A document whose archive upload fails keeps its payload
// and is retried next cycle.
func (p *Purger) eraseDocuments(ctx context.Context) {
	docs, err := p.store.ListErasableDocuments(ctx, p.cfg.EraseBatch)
	if err != nil {
		p.logger.Error("list erasable documents failed", zap.Error(err))
		return
	}
	if len(docs) == 0 {
		return
	}

	ids := make([]int64, 0, len(docs))
	for _, doc := range docs {
		if p.archive != nil {
			uri, err := p.archive.PutObject(ctx, p.objectName(doc.ID),
				p.cfg.ArchiveContentType, bytes.NewReader(doc.Document))
			if err != nil {
				p.logger.Warn("archive document failed",
					zap.Int64("url_id", doc.ID),
					zap.String("url", doc.URL),
					zap.Error(err))
				continue
			}
			p.logger.Debug("document archived",
				zap.Int64("url_id", doc.ID), zap.String("uri", uri))
		}
		ids = append(ids, doc.ID)
	}
	if len(ids) == 0 {
		return
	}

	n, err := p.store.EraseDocuments(ctx, ids)
	if err != nil {
		p.logger.Error("erase documents failed", zap.Error(err))
		return
	}
	metrics.ObservePurge("document_erased", n)
	p.logger.Info("erased documents", zap.Int64("erased", n))
}

func (p *Purger) objectName(urlID int64) string {
	return fmt.Sprintf("%s/%d.html", p.cfg.ArchivePrefix, urlID)
}
