package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentgraph/workflow/wire"
)

// FileStore 基于本地文件系统的检查点存储。
// 布局：<baseDir>/<runID>/<checkpointID>.json
type FileStore struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileStore 创建文件存储，必要时创建根目录。
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, errors.New("checkpoint: file store base dir is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *FileStore) recordPath(runID, checkpointID string) string {
	return filepath.Join(s.runDir(runID), checkpointID+".json")
}

func (s *FileStore) Commit(ctx context.Context, runID string, value wire.Value, parent *Info) (Info, error) {
	if err := validateRunID(runID); err != nil {
		return Info{}, err
	}
	if err := validateParent(runID, parent); err != nil {
		return Info{}, err
	}
	if parent != nil {
		if _, err := os.Stat(s.recordPath(runID, parent.CheckpointID)); err != nil {
			return Info{}, notFound(runID, *parent)
		}
	}

	id, err := newCheckpointID()
	if err != nil {
		return Info{}, err
	}
	rec := Record{
		Info:      Info{RunID: runID, CheckpointID: id},
		Parent:    cloneInfo(parent),
		Value:     value,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return Info{}, fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.runDir(runID), 0o755); err != nil {
		return Info{}, fmt.Errorf("create run dir: %w", err)
	}
	// 先写临时文件再 rename，避免读到半写入的记录
	final := s.recordPath(runID, id)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Info{}, fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return Info{}, fmt.Errorf("commit checkpoint: %w", err)
	}
	return rec.Info, nil
}

func (s *FileStore) Retrieve(ctx context.Context, runID string, info Info) (wire.Value, error) {
	rec, err := s.Load(ctx, runID, info)
	if err != nil {
		return wire.Value{}, err
	}
	return rec.Value, nil
}

func (s *FileStore) Load(ctx context.Context, runID string, info Info) (*Record, error) {
	if info.RunID != "" && info.RunID != runID {
		return nil, notFound(runID, info)
	}
	if validateRunID(runID) != nil || strings.ContainsAny(info.CheckpointID, `/\.`) || info.CheckpointID == "" {
		return nil, notFound(runID, info)
	}
	return s.readRecord(s.recordPath(runID, info.CheckpointID), runID, info)
}

func (s *FileStore) readRecord(path, runID string, info Info) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(runID, info)
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return &rec, nil
}

func (s *FileStore) ListIndex(ctx context.Context, runID string, parent *Info) ([]Info, error) {
	if err := validateRunID(runID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.runDir(runID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Info{}, nil
		}
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	// UUIDv7 字典序即提交顺序
	sort.Strings(ids)

	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		info := Info{RunID: runID, CheckpointID: id}
		if parent != nil {
			rec, err := s.readRecord(s.recordPath(runID, id), runID, info)
			if err != nil {
				return nil, err
			}
			if rec.Parent == nil || rec.Parent.CheckpointID != parent.CheckpointID {
				continue
			}
		}
		out = append(out, info)
	}
	return out, nil
}
