package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/domain"
	"github.com/searchsync/indexqueue/internal/repository"
	"github.com/searchsync/indexqueue/internal/source"
)

const (
	// DefaultIndexBatchSize is the number of items a manual indexing run
	// processes when the operator does not choose one.
	DefaultIndexBatchSize = 10
	// MaxIndexBatchSize bounds a manual run so it finishes within a single
	// admin request.
	MaxIndexBatchSize = 100
)

// ItemIndexer is satisfied by *indexer.Indexer.
type ItemIndexer interface {
	Index(ctx context.Context, item *domain.QueueItem, owner string) error
}

// IndexQueueService coordinates the queue store, the record source and the
// indexer for operator-triggered actions. HTTP handlers and the CLI depend on
// this service, not on the store directly.
type IndexQueueService struct {
	repo     repository.QueueRepository
	records  source.RecordSource
	ix       ItemIndexer
	configs  []domain.IndexingConfiguration
	leaseFor time.Duration
	logger   *zap.Logger
}

func NewIndexQueueService(
	repo repository.QueueRepository,
	records source.RecordSource,
	ix ItemIndexer,
	configs []domain.IndexingConfiguration,
	leaseFor time.Duration,
	logger *zap.Logger,
) *IndexQueueService {
	return &IndexQueueService{
		repo: repo, records: records, ix: ix,
		configs: configs, leaseFor: leaseFor, logger: logger,
	}
}

// Configurations returns the indexing configurations known to the service.
func (s *IndexQueueService) Configurations() []domain.IndexingConfiguration {
	out := make([]domain.IndexingConfiguration, len(s.configs))
	copy(out, s.configs)
	return out
}

func (s *IndexQueueService) configuration(name string) (domain.IndexingConfiguration, bool) {
	for _, c := range s.configs {
		if c.Name == name {
			return c, true
		}
	}
	return domain.IndexingConfiguration{}, false
}

// InitializeQueue fills the queue of site with the records selected by each
// named configuration. Every name is validated before anything is written.
// Records already queued for a configuration are left untouched, so running
// it again only adds what is new.
func (s *IndexQueueService) InitializeQueue(ctx context.Context, site string, names []string) ([]domain.InitializedConfiguration, error) {
	if site == "" {
		return nil, domain.ErrInvalidSite
	}
	if len(names) == 0 {
		s.logger.Warn("index queue not initialized: no indexing configuration selected",
			zap.String("site", site))
		return nil, domain.ErrNoConfigurationSelected
	}

	var selected []domain.IndexingConfiguration
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		cfg, ok := s.configuration(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownConfiguration, name)
		}
		selected = append(selected, cfg)
	}

	result := make([]domain.InitializedConfiguration, 0, len(selected))
	for _, cfg := range selected {
		recs, err := s.records.Records(ctx, site, cfg)
		if err != nil {
			return result, fmt.Errorf("load records for %s: %w", cfg.Name, err)
		}
		inserted, err := s.repo.Initialize(ctx, site, cfg.Name, recs)
		if err != nil {
			return result, fmt.Errorf("initialize %s: %w", cfg.Name, err)
		}
		stats, err := s.repo.Statistics(ctx, site, cfg.Name)
		if err != nil {
			return result, fmt.Errorf("count %s: %w", cfg.Name, err)
		}
		result = append(result, domain.InitializedConfiguration{
			Name: cfg.Name, Inserted: inserted, Total: stats.Total,
		})
		s.logger.Info("index queue initialized",
			zap.String("site", site),
			zap.String("configuration", cfg.Name),
			zap.Int("inserted", inserted),
			zap.Int("total", stats.Total),
		)
	}
	return result, nil
}

// Statistics aggregates the queue of site, optionally for one configuration.
func (s *IndexQueueService) Statistics(ctx context.Context, site, configuration string) (*domain.Statistics, error) {
	if site == "" {
		return nil, domain.ErrInvalidSite
	}
	return s.repo.Statistics(ctx, site, configuration)
}

// ConfigurationStatistics returns the statistics of every configuration that
// has items queued for site, ordered by name.
func (s *IndexQueueService) ConfigurationStatistics(ctx context.Context, site string) ([]domain.ConfigurationStatistics, error) {
	if site == "" {
		return nil, domain.ErrInvalidSite
	}
	byName, err := s.repo.StatisticsByConfiguration(ctx, site)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ConfigurationStatistics, 0, len(byName))
	for name, st := range byName {
		out = append(out, domain.ConfigurationStatistics{Name: name, Statistics: *st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Errors lists the items of site whose last dispatch failed.
func (s *IndexQueueService) Errors(ctx context.Context, site string) ([]*domain.QueueItem, error) {
	if site == "" {
		return nil, domain.ErrInvalidSite
	}
	return s.repo.Errors(ctx, site)
}

// GetItem returns domain.ErrNotFound for unknown ids.
func (s *IndexQueueService) GetItem(ctx context.Context, id int64) (*domain.QueueItem, error) {
	return s.repo.GetByID(ctx, id)
}

// ClearQueue removes every item of site.
func (s *IndexQueueService) ClearQueue(ctx context.Context, site string) (int, error) {
	if site == "" {
		return 0, domain.ErrInvalidSite
	}
	n, err := s.repo.DeleteBySite(ctx, site)
	if err != nil {
		return 0, err
	}
	s.logger.Info("index queue cleared", zap.String("site", site), zap.Int("deleted", n))
	return n, nil
}

// ResetAllErrors clears the error of every item on every site so failed
// items become eligible again.
func (s *IndexQueueService) ResetAllErrors(ctx context.Context) (int, error) {
	n, err := s.repo.ResetAllErrors(ctx)
	if err != nil {
		s.logger.Error("resetting queue errors failed", zap.Error(err))
		return 0, err
	}
	s.logger.Info("queue errors reset", zap.Int("items", n))
	return n, nil
}

// IndexItems claims up to max pending items of site and indexes them one by
// one. A failing item is recorded and does not stop the batch. When ctx ends
// the interrupted item and everything after it are released, not failed.
func (s *IndexQueueService) IndexItems(ctx context.Context, site string, max int) (*domain.IndexRun, error) {
	if site == "" {
		return nil, domain.ErrInvalidSite
	}
	if max <= 0 || max > MaxIndexBatchSize {
		return nil, domain.ErrInvalidMaxCount
	}

	owner := "manual-" + uuid.NewString()
	items, err := s.repo.Claim(ctx, domain.ClaimFilter{Site: site, Limit: max}, owner, s.leaseFor)
	if err != nil {
		return nil, fmt.Errorf("claim items: %w", err)
	}

	run := &domain.IndexRun{Site: site, Claimed: len(items)}
	for i, item := range items {
		if ctx.Err() != nil {
			s.release(items[i:], owner)
			return run, ctx.Err()
		}
		if err := s.ix.Index(ctx, item, owner); err != nil {
			if errors.Is(err, domain.ErrDispatchInterrupted) {
				s.release(items[i+1:], owner)
				return run, err
			}
			run.Failed++
			continue
		}
		run.Indexed++
	}

	s.logger.Info("manual indexing run finished",
		zap.String("site", site),
		zap.Int("claimed", run.Claimed),
		zap.Int("indexed", run.Indexed),
		zap.Int("failed", run.Failed),
	)
	return run, nil
}

func (s *IndexQueueService) release(items []*domain.QueueItem, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, it := range items {
		if err := s.repo.Release(ctx, it.ID, owner); err != nil {
			s.logger.Warn("failed to release item", zap.Int64("item_id", it.ID), zap.Error(err))
		}
	}
}
