package store

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/amishk599/jobtracker/internal/model"
)

var errEmptyExternalID = errors.New("external_id must not be empty")

// MemoryStore keeps records in process memory. It backs dry runs and tests;
// nothing survives a restart.
type MemoryStore struct {
	mu      sync.Mutex
	seq     int64
	records map[model.RecordID]model.StoredRecord
}

var _ model.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[model.RecordID]model.StoredRecord)}
}

func (s *MemoryStore) InsertMany(ctx context.Context, records []model.JobRecord) (model.InsertResult, error) {
	if err := ctx.Err(); err != nil {
		return model.InsertResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var res model.InsertResult
	for _, r := range records {
		if r.ExternalID == "" {
			res.Failed = append(res.Failed, model.InsertFailure{ExternalID: r.ExternalID, Err: errEmptyExternalID})
			continue
		}
		s.seq++
		rec := model.StoredRecord{ID: model.RecordID(strconv.FormatInt(s.seq, 10)), JobRecord: cloneRecord(r)}
		s.records[rec.ID] = rec
		res.Inserted = append(res.Inserted, model.StoredRecord{ID: rec.ID, JobRecord: cloneRecord(rec.JobRecord)})
	}
	return res, nil
}

func (s *MemoryStore) DuplicateGroups(ctx context.Context) ([]model.DuplicateGroup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byExternal := make(map[string][]model.GroupMember)
	for _, r := range s.sortedLocked() {
		byExternal[r.ExternalID] = append(byExternal[r.ExternalID], model.GroupMember{ID: r.ID, FetchedAt: r.FetchedAt})
	}

	var groups []model.DuplicateGroup
	for ext, members := range byExternal {
		if len(members) > 1 {
			groups = append(groups, model.DuplicateGroup{ExternalID: ext, Members: members})
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ExternalID < groups[j].ExternalID })
	return groups, nil
}

func (s *MemoryStore) DeleteMany(ctx context.Context, ids []model.RecordID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) Find(ctx context.Context, ids []model.RecordID) ([]model.StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.StoredRecord
	for _, id := range ids {
		if r, ok := s.records[id]; ok {
			out = append(out, model.StoredRecord{ID: r.ID, JobRecord: cloneRecord(r.JobRecord)})
		}
	}
	return out, nil
}

// List returns every record in insertion order.
func (s *MemoryStore) List(ctx context.Context) ([]model.StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked(), nil
}

func (s *MemoryStore) Wipe(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.records))
	s.records = make(map[model.RecordID]model.StoredRecord)
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) sortedLocked() []model.StoredRecord {
	out := make([]model.StoredRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, model.StoredRecord{ID: r.ID, JobRecord: cloneRecord(r.JobRecord)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

func cloneRecord(r model.JobRecord) model.JobRecord {
	r.Locations = nonNil(append([]string(nil), r.Locations...))
	return r
}
