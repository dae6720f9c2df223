// Package indexer drives a single queue item through the dispatch protocol
// and records the outcome on the queue.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/dispatch"
	"github.com/searchsync/indexqueue/internal/domain"
	"github.com/searchsync/indexqueue/internal/envelope"
	"github.com/searchsync/indexqueue/internal/repository"
)

// ErrActionFailed marks an exchange that completed but reported a failed or
// missing action result.
var ErrActionFailed = errors.New("action failed")

// storeTimeout bounds the write that records an outcome. It runs detached
// from the caller so an exchange that completed is never lost to a
// cancellation that arrived while it was in flight.
const storeTimeout = 10 * time.Second

// Config describes how requests are built for each item.
type Config struct {
	BaseURL    string
	Actions    []string
	Username   string
	Password   string
	Timeout    time.Duration
	Parameters map[string]any
}

// Sender is satisfied by *dispatch.Client.
type Sender interface {
	Send(ctx context.Context, req *envelope.Request, url string) (*envelope.Response, error)
}

// Indexer dispatches queue items and writes results back to the repository.
type Indexer struct {
	repo   repository.QueueRepository
	sender Sender
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(repo repository.QueueRepository, sender Sender, cfg Config, logger *zap.Logger) *Indexer {
	if len(cfg.Actions) == 0 {
		cfg.Actions = []string{"indexPage"}
	}
	return &Indexer{
		repo: repo, sender: sender, cfg: cfg, logger: logger,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Index dispatches item on behalf of owner, who must hold the item's lease.
// Success stamps the indexed time and clears errors; any failure is recorded
// on the item and returned. Failures never touch other items.
//
// If ctx ends before the exchange completes the item's lease is released and
// an error wrapping domain.ErrDispatchInterrupted is returned; nothing is
// recorded on the item.
func (ix *Indexer) Index(ctx context.Context, item *domain.QueueItem, owner string) error {
	log := ix.logger.With(
		zap.Int64("item_id", item.ID),
		zap.String("site", item.Site),
		zap.String("configuration", item.IndexingConfiguration),
	)

	req, err := ix.buildRequest(item)
	if err != nil {
		return ix.fail(ctx, log, item, owner, err)
	}
	log = log.With(zap.String("request_id", req.RequestID()))

	target, err := PageURL(ix.cfg.BaseURL, item.RecordPageID)
	if err != nil {
		return ix.fail(ctx, log, item, owner, err)
	}

	resp, err := ix.sender.Send(ctx, req, target)
	if err != nil {
		if ctx.Err() != nil {
			return ix.interrupted(ctx, log, item, owner, err)
		}
		return ix.fail(ctx, log, item, owner, err)
	}

	if err := checkResults(resp, req.Actions()); err != nil {
		return ix.fail(ctx, log, item, owner, err)
	}

	sctx, cancel := detached(ctx)
	defer cancel()
	if err := ix.repo.MarkIndexed(sctx, item.ID, owner, ix.now()); err != nil {
		log.Error("failed to mark item as indexed", zap.Error(err))
		return fmt.Errorf("mark indexed: %w", err)
	}
	log.Debug("item indexed")
	return nil
}

func (ix *Indexer) buildRequest(item *domain.QueueItem) (*envelope.Request, error) {
	req := envelope.NewRequest()
	for _, a := range ix.cfg.Actions {
		req.AddAction(a)
	}
	for k, v := range ix.cfg.Parameters {
		if err := req.SetParameter(k, v); err != nil {
			return nil, err
		}
	}
	req.SetAuthorizationCredentials(ix.cfg.Username, ix.cfg.Password)
	req.SetTimeout(ix.cfg.Timeout)
	req.SetIndexQueueItem(item)
	return req, nil
}

func (ix *Indexer) fail(ctx context.Context, log *zap.Logger, item *domain.QueueItem, owner string, cause error) error {
	log.Warn("indexing item failed",
		zap.String("reason", string(dispatch.ReasonOf(cause))),
		zap.Error(cause),
	)
	sctx, cancel := detached(ctx)
	defer cancel()
	if err := ix.repo.MarkFailed(sctx, item.ID, owner, cause.Error()); err != nil {
		log.Error("failed to record item error", zap.Error(err))
		return fmt.Errorf("%w (recording failed: %v)", cause, err)
	}
	return cause
}

func (ix *Indexer) interrupted(ctx context.Context, log *zap.Logger, item *domain.QueueItem, owner string, cause error) error {
	log.Info("dispatch interrupted, releasing item", zap.Error(cause))
	sctx, cancel := detached(ctx)
	defer cancel()
	if err := ix.repo.Release(sctx, item.ID, owner); err != nil {
		log.Warn("failed to release interrupted item", zap.Error(err))
	}
	return fmt.Errorf("%w: %w", domain.ErrDispatchInterrupted, cause)
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
}

// checkResults requires a result for every requested action. A result object
// with a non-empty "error" field counts as a failure.
func checkResults(resp *envelope.Response, actions []string) error {
	for _, action := range actions {
		raw, ok := resp.ActionResult(action)
		if !ok {
			return fmt.Errorf("%w: no result for %s", ErrActionFailed, action)
		}
		var result struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &result) == nil && result.Error != "" {
			return fmt.Errorf("%w: %s: %s", ErrActionFailed, action, result.Error)
		}
	}
	return nil
}

// PageURL returns the rendering URL for a page: the base URL with the page id
// set as the "id" query parameter.
func PageURL(base string, pageID int64) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", base)
	}
	q := u.Query()
	q.Set("id", strconv.FormatInt(pageID, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
