package model

import (
	"context"
	"time"
)

// RawListing is an unprocessed posting as handed over by a source client. Source
// adapters map their wire format into this shape; values stay as the source sent
// them (dates with time components, pay figures as text) until normalization.
type RawListing struct {
	ExternalID   string
	Title        string
	Organisation string
	Department   string
	Grades       []string
	Locations    []string
	Remuneration []RawRemuneration
	StartDate    string
	EndDate      string
	CloseDate    string
	URI          string
}

// RawRemuneration is one pay band of a raw listing.
type RawRemuneration struct {
	Min string
	Max string
}

// RemunerationRange is the normalized pay band of a posting. No unit conversion.
type RemunerationRange struct {
	Min float64 `json:"min" bson:"min"`
	Max float64 `json:"max" bson:"max"`
}

// JobRecord is the canonical, storage-ready representation of one posting.
// FetchedAt is zero until the reconciliation engine stamps the batch.
type JobRecord struct {
	ExternalID   string            `json:"external_id"`
	Title        string            `json:"title"`
	Organisation string            `json:"organisation"`
	Department   string            `json:"department"`
	Grade        string            `json:"grade"`
	Locations    []string          `json:"locations"`
	Remuneration RemunerationRange `json:"remuneration_range"`
	StartDate    string            `json:"start_date"` // ISO calendar date
	CloseDate    string            `json:"close_date"` // ISO calendar date
	DurationDays int               `json:"duration_days"`
	SourceURI    string            `json:"source_uri"`
	FetchedAt    time.Time         `json:"fetched_at"`
}

// StoredRecord is a JobRecord plus the identity the store assigned on insert.
type StoredRecord struct {
	ID RecordID `json:"id"`
	JobRecord
}

// RecordID is an opaque, store-assigned identity. It is stable for the lifetime
// of the stored record.
type RecordID string

// Less orders ids shorter-first and then bytewise. For decimal row ids this is
// numeric order; for fixed-width ObjectID hex it is generation order.
func (id RecordID) Less(other RecordID) bool {
	if len(id) != len(other) {
		return len(id) < len(other)
	}
	return id < other
}

// GroupMember is one stored record inside a duplicate group.
type GroupMember struct {
	ID        RecordID
	FetchedAt time.Time
}

// DuplicateGroup lists every stored record sharing one external id.
type DuplicateGroup struct {
	ExternalID string
	Members    []GroupMember
}

// InsertFailure reports a single record the store refused.
type InsertFailure struct {
	ExternalID string
	Err        error
}

// InsertResult is the per-record outcome of RecordStore.InsertMany.
type InsertResult struct {
	Inserted []StoredRecord
	Failed   []InsertFailure
}

// SearchParams are the parameters handed to a source client.
type SearchParams struct {
	Location string
	Role     string
	Keyword  string
	MinPay   *int
	MaxPay   *int
}

// Searcher fetches raw listings from a job-postings source. The source may
// paginate internally; callers see one call per fetch cycle.
type Searcher interface {
	Search(ctx context.Context, params SearchParams) ([]RawListing, error)
}

// RecordStore holds the primitives the reconciliation engine needs.
type RecordStore interface {
	// InsertMany inserts every record independently. A failing record is
	// reported in InsertResult.Failed and does not stop the others.
	InsertMany(ctx context.Context, records []JobRecord) (InsertResult, error)
	// DuplicateGroups groups the whole collection by external id and returns
	// the groups with more than one member.
	DuplicateGroups(ctx context.Context) ([]DuplicateGroup, error)
	DeleteMany(ctx context.Context, ids []RecordID) (int64, error)
	Find(ctx context.Context, ids []RecordID) ([]StoredRecord, error)
}

// Store is a RecordStore with the extra operations the boundary layer exposes.
type Store interface {
	RecordStore
	List(ctx context.Context) ([]StoredRecord, error)
	Wipe(ctx context.Context) (int64, error)
	Close() error
}

// Notifier announces postings a fetch cycle stored for the first time.
type Notifier interface {
	Notify(query Query, records []StoredRecord) error
}
