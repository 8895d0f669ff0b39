package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentgraph/workflow/wire"
)

// CheckpointRow 是 workflow_checkpoints 表的 gorm 模型，
// 与 internal/migration 中的 SQL 迁移保持一致。
type CheckpointRow struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	RunID        string    `gorm:"column:run_id;size:128;not null;uniqueIndex:idx_workflow_checkpoints_run_cp,priority:1;index:idx_workflow_checkpoints_parent,priority:1"`
	CheckpointID string    `gorm:"column:checkpoint_id;size:64;not null;uniqueIndex:idx_workflow_checkpoints_run_cp,priority:2"`
	ParentID     *string   `gorm:"column:parent_id;size:64;index:idx_workflow_checkpoints_parent,priority:2"`
	TypeID       string    `gorm:"column:type_id;size:255;not null"`
	Payload      []byte    `gorm:"column:payload;not null"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName 实现 gorm.Tabler
func (CheckpointRow) TableName() string {
	return "workflow_checkpoints"
}

func (r *CheckpointRow) record() *Record {
	rec := &Record{
		Info:      Info{RunID: r.RunID, CheckpointID: r.CheckpointID},
		Value:     wire.Value{TypeID: r.TypeID, Data: r.Payload},
		CreatedAt: r.CreatedAt,
	}
	if r.ParentID != nil {
		rec.Parent = &Info{RunID: r.RunID, CheckpointID: *r.ParentID}
	}
	return rec
}

// GormStore 基于关系数据库的检查点存储。
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore 创建关系库存储
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "checkpoint_gorm")),
	}
}

// AutoMigrate 创建或更新检查点表；生产环境推荐使用 internal/migration。
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&CheckpointRow{})
}

func (s *GormStore) Commit(ctx context.Context, runID string, value wire.Value, parent *Info) (Info, error) {
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

	row := CheckpointRow{
		RunID:        runID,
		CheckpointID: id,
		TypeID:       value.TypeID,
		Payload:      []byte(value.Data),
		CreatedAt:    time.Now(),
	}
	if parent != nil {
		pid := parent.CheckpointID
		row.ParentID = &pid
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if parent != nil {
			var count int64
			if err := tx.Model(&CheckpointRow{}).
				Where("run_id = ? AND checkpoint_id = ?", runID, parent.CheckpointID).
				Count(&count).Error; err != nil {
				return fmt.Errorf("check parent checkpoint: %w", err)
			}
			if count == 0 {
				return notFound(runID, *parent)
			}
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return Info{}, err
		}
		return Info{}, fmt.Errorf("commit checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint committed",
		zap.String("run_id", runID),
		zap.String("checkpoint_id", id),
		zap.Uint64("row_id", row.ID),
	)
	return Info{RunID: runID, CheckpointID: id}, nil
}

func (s *GormStore) Retrieve(ctx context.Context, runID string, info Info) (wire.Value, error) {
	rec, err := s.Load(ctx, runID, info)
	if err != nil {
		return wire.Value{}, err
	}
	return rec.Value, nil
}

func (s *GormStore) Load(ctx context.Context, runID string, info Info) (*Record, error) {
	if info.RunID != "" && info.RunID != runID {
		return nil, notFound(runID, info)
	}
	var row CheckpointRow
	err := s.db.WithContext(ctx).
		Where("run_id = ? AND checkpoint_id = ?", runID, info.CheckpointID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(runID, info)
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	return row.record(), nil
}

func (s *GormStore) ListIndex(ctx context.Context, runID string, parent *Info) ([]Info, error) {
	q := s.db.WithContext(ctx).Model(&CheckpointRow{}).Where("run_id = ?", runID)
	if parent != nil {
		q = q.Where("parent_id = ?", parent.CheckpointID)
	}
	var ids []string
	if err := q.Order("id ASC").Pluck("checkpoint_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		out = append(out, Info{RunID: runID, CheckpointID: id})
	}
	return out, nil
}
