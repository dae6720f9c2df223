package domain

import "time"

// QueueItem is one record or page waiting to be (re-)indexed.
//
// An item whose Errors field is non-empty is skipped by the dispatcher until
// the errors are reset. LeaseOwner/LeaseUntil mark an item as in flight for a
// single worker.
type QueueItem struct {
	ID                    int64      `json:"id"`
	Site                  string     `json:"site"`
	RecordTable           string     `json:"record_table"`
	RecordUID             int64      `json:"record_uid"`
	RecordPageID          int64      `json:"record_page_id"`
	IndexingConfiguration string     `json:"indexing_configuration"`
	Changed               time.Time  `json:"changed"`
	Indexed               *time.Time `json:"indexed,omitempty"`
	Errors                string     `json:"errors"`
	ErrorCount            int        `json:"error_count"`
	LeaseOwner            *string    `json:"lease_owner,omitempty"`
	LeaseUntil            *time.Time `json:"lease_until,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
}

// HasErrors reports whether the last dispatch of the item failed.
func (i *QueueItem) HasErrors() bool {
	return i.Errors != ""
}

// NeverIndexed reports whether the item has no successful indexing run yet.
func (i *QueueItem) NeverIndexed() bool {
	return i.Indexed == nil || i.Indexed.IsZero()
}

// IsPending reports whether the item is waiting for dispatch: no recorded
// error and content changed after the last successful indexing run.
func (i *QueueItem) IsPending() bool {
	if i.HasErrors() {
		return false
	}
	return i.NeverIndexed() || i.Indexed.Before(i.Changed)
}

// IsLeased reports whether a worker holds an unexpired lease at now.
func (i *QueueItem) IsLeased(now time.Time) bool {
	return i.LeaseOwner != nil && i.LeaseUntil != nil && i.LeaseUntil.After(now)
}

// Statistics is the derived aggregate over the queue items of one site.
// It is recomputed on every request and never stored.
type Statistics struct {
	Total   int `json:"total"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
	Indexed int `json:"indexed"`
}

// Add counts one item into the aggregate.
func (s *Statistics) Add(item *QueueItem) {
	s.Total++
	switch {
	case item.HasErrors():
		s.Failed++
	case item.IsPending():
		s.Pending++
	default:
		s.Indexed++
	}
}

// IndexingConfiguration is a named rule selecting which records of a table
// belong to a queue category.
type IndexingConfiguration struct {
	Name  string `json:"name" toml:"name"`
	Table string `json:"table" toml:"table"`
}

// SourceRecord is a record found by an indexing configuration that can be
// placed on the queue.
type SourceRecord struct {
	Table   string
	UID     int64
	PageID  int64
	Changed time.Time
}

// InitializedConfiguration reports the outcome of initializing one indexing
// configuration for operator feedback.
type InitializedConfiguration struct {
	Name     string `json:"name"`
	Inserted int    `json:"inserted"`
	Total    int    `json:"total"`
}

// ClaimFilter narrows which eligible items a worker may lease.
type ClaimFilter struct {
	Site  string
	Limit int
}

// ConfigurationStatistics is the statistics of one indexing configuration
// within a site.
type ConfigurationStatistics struct {
	Name string `json:"name"`
	Statistics
}

// IndexRun summarises one manual indexing batch.
type IndexRun struct {
	Site    string `json:"site"`
	Claimed int    `json:"claimed"`
	Indexed int    `json:"indexed"`
	Failed  int    `json:"failed"`
}

// OK reports whether the batch completed without a single failed item.
func (r *IndexRun) OK() bool { return r.Failed == 0 }
