package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/agentgraph/workflow/wire"
)

// ErrNotFound 是检查点查找失败的哨兵错误。
var ErrNotFound = errors.New("checkpoint not found")

// Info 是检查点定位符，每次提交都会返回，也作为后续提交的 parent 参数。
type Info struct {
	RunID        string `json:"run_id" bson:"run_id"`
	CheckpointID string `json:"checkpoint_id" bson:"checkpoint_id"`
}

func (i Info) String() string {
	return i.RunID + "/" + i.CheckpointID
}

// Record 是存储中的一条完整检查点记录。
type Record struct {
	Info
	Parent    *Info      `json:"parent,omitempty"`
	Value     wire.Value `json:"value"`
	CreatedAt time.Time  `json:"created_at"`
}

// Store 检查点持久化契约。
type Store interface {
	// Commit 追加一个检查点，parent 为 nil 表示根节点。
	Commit(ctx context.Context, runID string, value wire.Value, parent *Info) (Info, error)
	// Retrieve 读取检查点载荷，不存在时返回 *NotFoundError。
	Retrieve(ctx context.Context, runID string, info Info) (wire.Value, error)
	// ListIndex 按提交顺序列出 run 的检查点；parent 非 nil 时只返回其直接子节点。
	ListIndex(ctx context.Context, runID string, parent *Info) ([]Info, error)
}

// Inspector 由能返回完整记录（含父节点）的存储实现，用于谱系追溯。
type Inspector interface {
	Load(ctx context.Context, runID string, info Info) (*Record, error)
}

// NotFoundError 表示检查点不存在，errors.Is(err, ErrNotFound) 为 true。
type NotFoundError struct {
	RunID        string
	CheckpointID string
}

func (e *NotFoundError) Error() string {
	if e.CheckpointID == "" {
		return fmt.Sprintf("checkpoint not found: run %s", e.RunID)
	}
	return fmt.Sprintf("checkpoint not found: %s/%s", e.RunID, e.CheckpointID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func notFound(runID string, info Info) error {
	return &NotFoundError{RunID: runID, CheckpointID: info.CheckpointID}
}

// newCheckpointID 生成按时间单调递增的 UUIDv7。
func newCheckpointID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate checkpoint id: %w", err)
	}
	return id.String(), nil
}

func validateRunID(runID string) error {
	if runID == "" {
		return errors.New("checkpoint: run id is required")
	}
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return fmt.Errorf("checkpoint: invalid run id %q", runID)
	}
	return nil
}

// validateParent 校验父检查点属于同一个 run。
func validateParent(runID string, parent *Info) error {
	if parent == nil {
		return nil
	}
	if parent.RunID != runID {
		return fmt.Errorf("checkpoint: parent %s belongs to another run", parent)
	}
	if parent.CheckpointID == "" {
		return errors.New("checkpoint: parent checkpoint id is required")
	}
	return nil
}

// Latest 返回 run 最近一次提交的检查点。
func Latest(ctx context.Context, store Store, runID string) (Info, error) {
	infos, err := store.ListIndex(ctx, runID, nil)
	if err != nil {
		return Info{}, err
	}
	if len(infos) == 0 {
		return Info{}, &NotFoundError{RunID: runID}
	}
	return infos[len(infos)-1], nil
}

// Lineage 从 info 沿父指针回溯到根，返回 [根, ..., info]。
func Lineage(ctx context.Context, store Inspector, runID string, info Info) ([]Info, error) {
	var chain []Info
	seen := make(map[string]bool)
	current := &info
	for current != nil {
		if seen[current.CheckpointID] {
			return nil, fmt.Errorf("checkpoint: lineage cycle at %s", current)
		}
		seen[current.CheckpointID] = true

		rec, err := store.Load(ctx, runID, *current)
		if err != nil {
			return nil, err
		}
		chain = append(chain, rec.Info)
		current = rec.Parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func copyValue(v wire.Value) wire.Value {
	data := make([]byte, len(v.Data))
	copy(data, v.Data)
	return wire.Value{TypeID: v.TypeID, Data: data}
}

func cloneInfo(i *Info) *Info {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}
