// Package parserworker implements the parse executor. The assignment carries
// only the URL id and URL; the document body is re-read from the store rather than
// shipped over the worker socket.
package parserworker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/abc"
	"github.com/tunedex/tunecrawler/internal/protocol"
	"github.com/tunedex/tunecrawler/internal/store"
)

// DocumentStore is the slice of the store the parser needs.
type DocumentStore interface {
	GetDocument(ctx context.Context, id int64) ([]byte, string, error)
}

// Executor parses one stored document per assignment.
type Executor struct {
	docs   DocumentStore
	logger *zap.Logger
}

// New builds an Executor.
func New(docs DocumentStore, logger *zap.Logger) *Executor {
	return &Executor{docs: docs, logger: logger}
}

// Role identifies the executor to the dispatcher.
func (e *Executor) Role() string { return protocol.RoleParser }

// Execute loads the document and extracts its tunes. A document with no ABC
// content is a successful parse with zero tunes; only load failures ride the
// retry ladder.
func (e *Executor) Execute(ctx context.Context, assign *protocol.Assign) protocol.Outcome {
	body, rawURL, err := e.docs.GetDocument(ctx, assign.Payload.URLID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("document missing for parse assignment",
				zap.Int64("url_id", assign.Payload.URLID))
			return parseFailure("document not found")
		}
		e.logger.Error("load document failed",
			zap.Int64("url_id", assign.Payload.URLID), zap.Error(err))
		return parseFailure(err.Error())
	}
	if len(body) == 0 || string(body) == store.DocumentErased {
		return parseFailure("document body empty or erased")
	}

	tunes := abc.ParseDocument(body)
	e.logger.Debug("document parsed",
		zap.Int64("url_id", assign.Payload.URLID),
		zap.String("url", rawURL),
		zap.Int("tunes", len(tunes)))
	return protocol.Outcome{Parse: &store.ParseOutcome{Tunes: tunes}}
}

func parseFailure(detail string) protocol.Outcome {
	return protocol.Outcome{Parse: &store.ParseOutcome{Failed: true, ErrorDetail: detail}}
}
