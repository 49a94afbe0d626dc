package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/caresync/internal/model"
	"github.com/jwalitptl/caresync/internal/repository"
)

// Store is an in-memory stand-in for the Postgres repositories. It keeps the
// same uniqueness rules (idempotency key, op id, case record natural key) so
// services can be tested without a database.
//
// It is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	keys      map[string]*model.IdempotencyRecord
	receipts  map[string]*model.OpReceipt
	records   map[uuid.UUID]*model.CaseRecord
	receivers map[uuid.UUID]*model.CareReceiver
	events    []*model.OutboxEvent

	// ApplyErr, when set, makes ApplyOperation fail without side effects.
	ApplyErr error
	// Applies counts successful ApplyOperation calls.
	Applies int
}

func NewStore() *Store {
	return &Store{
		keys:      make(map[string]*model.IdempotencyRecord),
		receipts:  make(map[string]*model.OpReceipt),
		records:   make(map[uuid.UUID]*model.CaseRecord),
		receivers: make(map[uuid.UUID]*model.CareReceiver),
	}
}

// Repository views.
func (s *Store) Idempotency() repository.IdempotencyRepository { return idempotencyRepo{s} }
func (s *Store) Receipts() repository.ReceiptRepository        { return receiptRepo{s} }
func (s *Store) CaseRecords() repository.CaseRecordRepository  { return caseRecordRepo{s} }
func (s *Store) CareReceivers() repository.CareReceiverRepository {
	return careReceiverRepo{s}
}
func (s *Store) Outbox() repository.OutboxRepository { return outboxRepo{s} }

// CaseRecordCount returns the number of stored case records.
func (s *Store) CaseRecordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Events returns a copy of the recorded outbox events.
func (s *Store) Events() []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.OutboxEvent, len(s.events))
	for i, e := range s.events {
		out[i] = *e
	}
	return out
}

// PutCareReceiver seeds a care receiver, defaulting version to 1.
func (s *Store) PutCareReceiver(cr *model.CareReceiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cr.ID == uuid.Nil {
		cr.ID = uuid.New()
	}
	if cr.Version == 0 {
		cr.Version = 1
	}
	c := *cr
	s.receivers[cr.ID] = &c
}

// PutCaseRecord seeds a case record, defaulting version to 1.
func (s *Store) PutCaseRecord(rec *model.CaseRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	c := *rec
	s.records[rec.ID] = &c
}

// SetReceipt overwrites the receipt for opID.
func (s *Store) SetReceipt(r *model.OpReceipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *r
	s.receipts[r.OpID] = &c
}

func (s *Store) addEvent(eventType string, payload interface{}) {
	data, _ := json.Marshal(payload)
	now := time.Now().UTC()
	s.events = append(s.events, &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   data,
		Status:    string(model.OutboxStatusPending),
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// findByNaturalKey must be called with mu held.
func (s *Store) findByNaturalKey(rec *model.CaseRecord) *model.CaseRecord {
	for _, existing := range s.records {
		if existing.UserID == rec.UserID && existing.ServiceType == rec.ServiceType &&
			existing.RecordDate == rec.RecordDate && existing.Section == rec.Section &&
			existing.ItemKey == rec.ItemKey {
			return existing
		}
	}
	return nil
}

type idempotencyRepo struct{ s *Store }

func (r idempotencyRepo) Reserve(_ context.Context, key, requestHash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.keys[key]; ok {
		return false, nil
	}
	r.s.keys[key] = &model.IdempotencyRecord{Key: key, RequestHash: requestHash, CreatedAt: time.Now().UTC()}
	return true, nil
}

func (r idempotencyRepo) Lookup(_ context.Context, key string) (*model.IdempotencyRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.keys[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (r idempotencyRepo) Store(_ context.Context, key, requestHash string, status int, body []byte) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.keys[key]
	if ok && rec.RequestHash != requestHash {
		return nil
	}
	now := time.Now().UTC()
	if !ok {
		rec = &model.IdempotencyRecord{Key: key, RequestHash: requestHash, CreatedAt: now}
		r.s.keys[key] = rec
	}
	rec.ResponseStatus = &status
	rec.ResponseBody = append([]byte(nil), body...)
	rec.CompletedAt = &now
	return nil
}

func (r idempotencyRepo) DeleteCompletedBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, rec := range r.s.keys {
		t := rec.CreatedAt
		if rec.CompletedAt != nil {
			t = *rec.CompletedAt
		}
		if t.Before(before) {
			delete(r.s.keys, k)
			n++
		}
	}
	return n, nil
}

type receiptRepo struct{ s *Store }

func (r receiptRepo) Insert(_ context.Context, opID, payloadHash string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.receipts[opID]; ok {
		return false, nil
	}
	now := time.Now().UTC()
	r.s.receipts[opID] = &model.OpReceipt{
		OpID:        opID,
		PayloadHash: payloadHash,
		Status:      model.ReceiptProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return true, nil
}

func (r receiptRepo) Get(_ context.Context, opID string) (*model.OpReceipt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.receipts[opID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (r receiptRepo) MarkFailed(_ context.Context, opID, message string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.receipts[opID]
	if !ok || rec.Status != model.ReceiptProcessing {
		return nil
	}
	rec.Status = model.ReceiptFailed
	rec.Error = &message
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r receiptRepo) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, rec := range r.s.receipts {
		if rec.Status != model.ReceiptProcessing && rec.UpdatedAt.Before(before) {
			delete(r.s.receipts, k)
			n++
		}
	}
	return n, nil
}

type caseRecordRepo struct{ s *Store }

func (r caseRecordRepo) ApplyOperation(_ context.Context, opID string, rec *model.CaseRecord) (*model.CaseRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.ApplyErr != nil {
		return nil, r.s.ApplyErr
	}

	out := r.s.upsertLocked(opID, rec)
	result, err := json.Marshal(model.AppliedCaseRecord{ID: out.ID.String(), Version: out.Version, UpdatedAt: out.UpdatedAt})
	if err != nil {
		return nil, err
	}
	if receipt, ok := r.s.receipts[opID]; ok {
		receipt.Status = model.ReceiptApplied
		receipt.Result = result
		receipt.Error = nil
		receipt.UpdatedAt = out.UpdatedAt
	}
	r.s.Applies++

	c := *out
	return &c, nil
}

func (r caseRecordRepo) Upsert(_ context.Context, rec *model.CaseRecord) (*model.CaseRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *r.s.upsertLocked("", rec)
	return &c, nil
}

func (s *Store) upsertLocked(opID string, rec *model.CaseRecord) *model.CaseRecord {
	now := time.Now().UTC()
	out := s.findByNaturalKey(rec)
	if out == nil {
		c := *rec
		c.ID = uuid.New()
		c.Version = 1
		c.CreatedAt = now
		c.UpdatedAt = now
		out = &c
		s.records[c.ID] = out
	} else {
		out.ServiceID = rec.ServiceID
		out.Content = rec.Content
		out.Source = rec.Source
		out.Version++
		out.UpdatedAt = now
	}

	s.addEvent(model.EventCaseRecordUpserted, model.CaseRecordEvent{
		RecordID:    out.ID.String(),
		UserID:      out.UserID,
		ServiceType: out.ServiceType,
		RecordDate:  out.RecordDate,
		Version:     out.Version,
		OpID:        opID,
	})
	return out
}

func (r caseRecordRepo) Get(_ context.Context, id uuid.UUID) (*model.CaseRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (r caseRecordRepo) List(_ context.Context, f model.CaseRecordFilters) ([]*model.CaseRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.CaseRecord{}
	for _, rec := range r.s.records {
		if f.UserID != "" && rec.UserID != f.UserID {
			continue
		}
		if f.ServiceType != "" && rec.ServiceType != f.ServiceType {
			continue
		}
		if f.From != "" && rec.RecordDate < f.From {
			continue
		}
		if f.To != "" && rec.RecordDate > f.To {
			continue
		}
		c := *rec
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordDate > out[j].RecordDate })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r caseRecordRepo) UpdateVersioned(_ context.Context, id uuid.UUID, expectedVersion int64, patch map[string]interface{}) (repository.VersionOutcome, *model.CaseRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.records[id]
	if !ok {
		return repository.VersionNotFound, nil, nil
	}
	if rec.Version != expectedVersion {
		return repository.VersionConflict, nil, nil
	}
	if date, ok := patch["record_date"].(string); ok {
		moved := *rec
		moved.RecordDate = date
		if other := r.s.findByNaturalKey(&moved); other != nil && other.ID != rec.ID {
			return 0, nil, repository.ErrDuplicate
		}
	}
	for col, v := range patch {
		switch col {
		case "record_date":
			rec.RecordDate = v.(string)
		case "content":
			rec.Content = v.(json.RawMessage)
		case "source":
			rec.Source = v.(string)
		default:
			return 0, nil, fmt.Errorf("column is not updatable: case_records.%s", col)
		}
	}
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	r.s.addEvent(model.EventCaseRecordUpdated, model.CaseRecordEvent{
		RecordID: rec.ID.String(), UserID: rec.UserID, ServiceType: rec.ServiceType,
		RecordDate: rec.RecordDate, Version: rec.Version,
	})
	c := *rec
	return repository.VersionUpdated, &c, nil
}

type careReceiverRepo struct{ s *Store }

func (r careReceiverRepo) Get(_ context.Context, id uuid.UUID) (*model.CareReceiver, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cr, ok := r.s.receivers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *cr
	return &c, nil
}

func (r careReceiverRepo) List(_ context.Context, f model.CareReceiverFilters) ([]*model.CareReceiver, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.CareReceiver{}
	for _, cr := range r.s.receivers {
		if f.ServiceID != "" && cr.ServiceID != f.ServiceID {
			continue
		}
		if f.ActiveOnly && !cr.IsActive {
			continue
		}
		c := *cr
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r careReceiverRepo) UpdateVersioned(_ context.Context, id uuid.UUID, expectedVersion int64, patch map[string]interface{}) (repository.VersionOutcome, *model.CareReceiver, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cr, ok := r.s.receivers[id]
	if !ok {
		return repository.VersionNotFound, nil, nil
	}
	if cr.Version != expectedVersion {
		return repository.VersionConflict, nil, nil
	}
	// Round-trip through JSON so patch values land on typed fields.
	cols := map[string]bool{}
	for _, c := range model.CareReceiverUpdatableFields {
		cols[c] = true
	}
	for col := range patch {
		if !cols[col] {
			return 0, nil, fmt.Errorf("column is not updatable: care_receivers.%s", col)
		}
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return 0, nil, err
	}
	if err := json.Unmarshal(data, cr); err != nil {
		return 0, nil, err
	}
	cr.Version++
	cr.UpdatedAt = time.Now().UTC()
	r.s.addEvent(model.EventCareReceiverUpdated, model.CareReceiverEvent{
		ID: cr.ID.String(), Code: cr.Code, ServiceID: cr.ServiceID, Version: cr.Version,
	})
	c := *cr
	return repository.VersionUpdated, &c, nil
}

func (r careReceiverRepo) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cr, ok := r.s.receivers[id]
	if !ok {
		return false, nil
	}
	delete(r.s.receivers, id)
	r.s.addEvent(model.EventCareReceiverDeleted, model.CareReceiverEvent{
		ID: cr.ID.String(), Code: cr.Code, ServiceID: cr.ServiceID, Version: cr.Version,
	})
	return true, nil
}

type outboxRepo struct{ s *Store }

func (r outboxRepo) Create(_ context.Context, event *model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	event.ID = uuid.New()
	event.Status = string(model.OutboxStatusPending)
	event.CreatedAt = now
	event.UpdatedAt = now
	c := *event
	r.s.events = append(r.s.events, &c)
	return nil
}

func (r outboxRepo) ClaimPending(_ context.Context, limit int, lease time.Duration) ([]*model.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	var out []*model.OutboxEvent
	for _, e := range r.s.events {
		if len(out) >= limit {
			break
		}
		if e.Status != string(model.OutboxStatusPending) && e.Status != string(model.OutboxStatusRetry) {
			continue
		}
		if e.RetryAt != nil && e.RetryAt.After(now) {
			continue
		}
		c := *e
		out = append(out, &c)
		until := now.Add(lease)
		e.RetryAt = &until
	}
	return out, nil
}

func (r outboxRepo) find(id uuid.UUID) *model.OutboxEvent {
	for _, e := range r.s.events {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (r outboxRepo) MarkProcessed(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e := r.find(id); e != nil {
		now := time.Now().UTC()
		e.Status = string(model.OutboxStatusProcessed)
		e.ProcessedAt = &now
		e.RetryAt = nil
		e.ErrorMessage = nil
	}
	return nil
}

func (r outboxRepo) MarkRetry(_ context.Context, id uuid.UUID, errMsg string, retryAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e := r.find(id); e != nil {
		e.Status = string(model.OutboxStatusRetry)
		e.ErrorMessage = &errMsg
		e.RetryCount++
		e.RetryAt = &retryAt
	}
	return nil
}

func (r outboxRepo) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e := r.find(id); e != nil {
		e.Status = string(model.OutboxStatusFailed)
		e.ErrorMessage = &errMsg
		e.RetryCount++
		e.RetryAt = nil
	}
	return nil
}

func (r outboxRepo) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	kept := r.s.events[:0]
	for _, e := range r.s.events {
		if e.Status == string(model.OutboxStatusProcessed) && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.s.events = kept
	return n, nil
}
