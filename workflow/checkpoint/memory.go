package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentgraph/workflow/wire"
)

type memoryRun struct {
	order []*Record
	byID  map[string]*Record
}

// MemoryStore 进程内检查点存储，支持多 run 并发写入。
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*memoryRun
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*memoryRun)}
}

func (s *MemoryStore) Commit(ctx context.Context, runID string, value wire.Value, parent *Info) (Info, error) {
	if err := validateRunID(runID); err != nil {
		return Info{}, err
	}
	if err := validateParent(runID, parent); err != nil {
		return Info{}, err
	}
	id, err := newCheckpointID()
	if err != nil {
		return Info{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		run = &memoryRun{byID: make(map[string]*Record)}
		s.runs[runID] = run
	}
	if parent != nil {
		if _, ok := run.byID[parent.CheckpointID]; !ok {
			return Info{}, notFound(runID, *parent)
		}
	}

	rec := &Record{
		Info:      Info{RunID: runID, CheckpointID: id},
		Parent:    cloneInfo(parent),
		Value:     copyValue(value),
		CreatedAt: time.Now(),
	}
	run.order = append(run.order, rec)
	run.byID[id] = rec
	return rec.Info, nil
}

func (s *MemoryStore) Retrieve(ctx context.Context, runID string, info Info) (wire.Value, error) {
	rec, err := s.Load(ctx, runID, info)
	if err != nil {
		return wire.Value{}, err
	}
	return rec.Value, nil
}

func (s *MemoryStore) Load(ctx context.Context, runID string, info Info) (*Record, error) {
	if info.RunID != "" && info.RunID != runID {
		return nil, notFound(runID, info)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, notFound(runID, info)
	}
	rec, ok := run.byID[info.CheckpointID]
	if !ok {
		return nil, notFound(runID, info)
	}
	out := *rec
	out.Parent = cloneInfo(rec.Parent)
	out.Value = copyValue(rec.Value)
	return &out, nil
}

func (s *MemoryStore) ListIndex(ctx context.Context, runID string, parent *Info) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return []Info{}, nil
	}
	out := make([]Info, 0, len(run.order))
	for _, rec := range run.order {
		if parent != nil && (rec.Parent == nil || rec.Parent.CheckpointID != parent.CheckpointID) {
			continue
		}
		out = append(out, rec.Info)
	}
	return out, nil
}
