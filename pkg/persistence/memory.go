package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/envelope"
	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

type logEntry struct {
	record StoredRecord
	seq    uint64 // global insertion sequence, for replay/cursor ordering
}

type logBucket struct {
	order []digest.Digest // recordID insertion order
	byID  map[string]*logEntry
}

func newLogBucket() *logBucket {
	return &logBucket{byID: map[string]*logEntry{}}
}

// MemoryStore is the in-memory Store implementation, grounded on the
// teacher's mutex-guarded InMemoryRegistry.
type MemoryStore struct {
	mu           sync.RWMutex
	operatorLogs map[string]*logBucket
	packageLogs  map[string]*logBucket
	checkpoints  []StoredCheckpoint
	seqCounter   uint64
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		operatorLogs: map[string]*logBucket{},
		packageLogs:  map[string]*logBucket{},
	}
}

func (s *MemoryStore) bucket(m map[string]*logBucket, logID digest.Digest) *logBucket {
	key := logID.String()
	b, ok := m[key]
	if !ok {
		b = newLogBucket()
		m[key] = b
	}
	return b
}

func missingSet(digests []digest.Digest) map[string]struct{} {
	out := make(map[string]struct{}, len(digests))
	for _, d := range digests {
		out[d.String()] = struct{}{}
	}
	return out
}

func (s *MemoryStore) store(m map[string]*logBucket, logID, recordID digest.Digest, env envelope.Envelope, missing []digest.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := StatusValidated
	ms := missingSet(missing)
	if len(ms) > 0 {
		status = StatusMissingContent
	}

	s.seqCounter++
	b := s.bucket(m, logID)
	b.order = append(b.order, recordID)
	b.byID[recordID.String()] = &logEntry{
		record: StoredRecord{RecordID: recordID, Envelope: env, Status: status, Missing: ms},
		seq:    s.seqCounter,
	}
}

func (s *MemoryStore) StoreOperatorRecord(_ context.Context, logID, recordID digest.Digest, env envelope.Envelope) error {
	s.store(s.operatorLogs, logID, recordID, env, nil)
	return nil
}

func (s *MemoryStore) StorePackageRecord(_ context.Context, logID, recordID digest.Digest, env envelope.Envelope, missing []digest.Digest) error {
	s.store(s.packageLogs, logID, recordID, env, missing)
	return nil
}

func (s *MemoryStore) reject(m map[string]*logBucket, logID, recordID digest.Digest, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookupLocked(m, logID, recordID)
	if err != nil {
		return err
	}
	e.record.Status = StatusRejected
	e.record.RejectReason = reason
	return nil
}

func (s *MemoryStore) RejectOperatorRecord(_ context.Context, logID, recordID digest.Digest, reason string) error {
	return s.reject(s.operatorLogs, logID, recordID, reason)
}

func (s *MemoryStore) RejectPackageRecord(_ context.Context, logID, recordID digest.Digest, reason string) error {
	return s.reject(s.packageLogs, logID, recordID, reason)
}

func (s *MemoryStore) commit(m map[string]*logBucket, logID, recordID digest.Digest, registryLogIndex uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookupLocked(m, logID, recordID)
	if err != nil {
		return err
	}
	e.record.Status = StatusPublished
	e.record.RegistryLogIndex = registryLogIndex
	e.record.HasLogIndex = true
	return nil
}

func (s *MemoryStore) CommitOperatorRecord(_ context.Context, logID, recordID digest.Digest, registryLogIndex uint64) error {
	return s.commit(s.operatorLogs, logID, recordID, registryLogIndex)
}

func (s *MemoryStore) CommitPackageRecord(_ context.Context, logID, recordID digest.Digest, registryLogIndex uint64) error {
	return s.commit(s.packageLogs, logID, recordID, registryLogIndex)
}

func (s *MemoryStore) lookupLocked(m map[string]*logBucket, logID, recordID digest.Digest) (*logEntry, error) {
	b, ok := m[logID.String()]
	if !ok {
		return nil, fmt.Errorf("persistence: %w: log %s", wargerr.LogNotFound, logID)
	}
	e, ok := b.byID[recordID.String()]
	if !ok {
		return nil, fmt.Errorf("persistence: %w: record %s", wargerr.RecordNotFound, recordID)
	}
	return e, nil
}

func (s *MemoryStore) IsContentMissing(_ context.Context, logID, recordID, d digest.Digest) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, err := s.lookupLocked(s.packageLogs, logID, recordID)
	if err != nil {
		return false, err
	}
	_, missing := e.record.Missing[d.String()]
	return missing, nil
}

func (s *MemoryStore) SetContentPresent(_ context.Context, logID, recordID, d digest.Digest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookupLocked(s.packageLogs, logID, recordID)
	if err != nil {
		return false, err
	}
	if _, ok := e.record.Missing[d.String()]; !ok {
		return false, nil
	}
	delete(e.record.Missing, d.String())
	if len(e.record.Missing) == 0 {
		e.record.Status = StatusValidated
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) StoreCheckpoint(_ context.Context, checkpointID digest.Digest, signed envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, StoredCheckpoint{CheckpointID: checkpointID, Envelope: signed})
	return nil
}

func (s *MemoryStore) GetLatestCheckpoint(_ context.Context) (envelope.Envelope, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.checkpoints) == 0 {
		return envelope.Envelope{}, false, nil
	}
	return s.checkpoints[len(s.checkpoints)-1].Envelope, true, nil
}

func (s *MemoryStore) records(m map[string]*logBucket, logID, sinceRecordID digest.Digest, limit int) ([]StoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := m[logID.String()]
	if !ok {
		return nil, nil
	}
	start := 0
	if !sinceRecordID.IsZero() {
		for i, id := range b.order {
			if id.Equal(sinceRecordID) {
				start = i + 1
				break
			}
		}
	}
	out := make([]StoredRecord, 0, limit)
	for i := start; i < len(b.order) && (limit <= 0 || len(out) < limit); i++ {
		out = append(out, b.byID[b.order[i].String()].record)
	}
	return out, nil
}

func (s *MemoryStore) GetOperatorRecords(_ context.Context, logID, sinceRecordID digest.Digest, limit int) ([]StoredRecord, error) {
	return s.records(s.operatorLogs, logID, sinceRecordID, limit)
}

func (s *MemoryStore) GetPackageRecords(_ context.Context, logID, sinceRecordID digest.Digest, limit int) ([]StoredRecord, error) {
	return s.records(s.packageLogs, logID, sinceRecordID, limit)
}

func (s *MemoryStore) GetRecordStatus(_ context.Context, logID, recordID digest.Digest) (StoredRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range []map[string]*logBucket{s.operatorLogs, s.packageLogs} {
		if b, ok := m[logID.String()]; ok {
			if e, ok := b.byID[recordID.String()]; ok {
				return e.record, true, nil
			}
		}
	}
	return StoredRecord{}, false, nil
}

func (s *MemoryStore) GetAllCheckpoints(_ context.Context) ([]StoredCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StoredCheckpoint(nil), s.checkpoints...), nil
}

func (s *MemoryStore) GetAllValidatedRecords(_ context.Context) ([]ReplayRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type pendingRecord struct {
		rr  ReplayRecord
		seq uint64
	}
	var published []ReplayRecord
	var pending []pendingRecord
	collect := func(m map[string]*logBucket, isOperator bool) {
		for logIDStr, b := range m {
			logID, _ := digest.Parse(logIDStr)
			for _, id := range b.order {
				e := b.byID[id.String()]
				switch e.record.Status {
				case StatusPublished:
					published = append(published, ReplayRecord{LogID: logID, IsOperatorLog: isOperator, RegistryLogIndex: e.record.RegistryLogIndex, Record: e.record})
				case StatusValidated:
					pending = append(pending, pendingRecord{rr: ReplayRecord{LogID: logID, IsOperatorLog: isOperator, Record: e.record}, seq: e.seq})
				}
			}
		}
	}
	collect(s.operatorLogs, true)
	collect(s.packageLogs, false)

	sort.Slice(published, func(i, j int) bool { return published[i].RegistryLogIndex < published[j].RegistryLogIndex })
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	out := published
	for _, p := range pending {
		out = append(out, p.rr)
	}
	return out, nil
}
