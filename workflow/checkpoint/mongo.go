package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/workflow/wire"
)

const defaultMongoCollection = "workflow_checkpoints"

type mongoCheckpoint struct {
	RunID        string    `bson:"run_id"`
	CheckpointID string    `bson:"checkpoint_id"`
	ParentID     *string   `bson:"parent_id,omitempty"`
	TypeID       string    `bson:"type_id"`
	Payload      []byte    `bson:"payload"`
	CreatedAt    time.Time `bson:"created_at"`
}

// MongoStore 基于 MongoDB 的检查点存储。
// checkpoint_id 为 UUIDv7，按其排序即提交顺序。
type MongoStore struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongoStore 创建 MongoDB 存储；collection 为空时使用 workflow_checkpoints。
func NewMongoStore(db *mongo.Database, collection string, logger *zap.Logger) *MongoStore {
	if collection == "" {
		collection = defaultMongoCollection
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{
		coll:   db.Collection(collection),
		logger: logger.With(zap.String("component", "checkpoint_mongo")),
	}
}

// EnsureIndexes 创建 (run_id, checkpoint_id) 唯一索引和 (run_id, parent_id) 索引。
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "run_id", Value: 1}, {Key: "checkpoint_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "parent_id", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create checkpoint indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) Commit(ctx context.Context, runID string, value wire.Value, parent *Info) (Info, error) {
	if err := validateRunID(runID); err != nil {
		return Info{}, err
	}
	if err := validateParent(runID, parent); err != nil {
		return Info{}, err
	}
	if parent != nil {
		n, err := s.coll.CountDocuments(ctx, bson.D{
			{Key: "run_id", Value: runID},
			{Key: "checkpoint_id", Value: parent.CheckpointID},
		})
		if err != nil {
			return Info{}, fmt.Errorf("check parent checkpoint: %w", err)
		}
		if n == 0 {
			return Info{}, notFound(runID, *parent)
		}
	}

	id, err := newCheckpointID()
	if err != nil {
		return Info{}, err
	}
	doc := mongoCheckpoint{
		RunID:        runID,
		CheckpointID: id,
		TypeID:       value.TypeID,
		Payload:      []byte(value.Data),
		CreatedAt:    time.Now().UTC(),
	}
	if parent != nil {
		pid := parent.CheckpointID
		doc.ParentID = &pid
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return Info{}, fmt.Errorf("commit checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint committed",
		zap.String("run_id", runID),
		zap.String("checkpoint_id", id),
	)
	return Info{RunID: runID, CheckpointID: id}, nil
}

func (s *MongoStore) Retrieve(ctx context.Context, runID string, info Info) (wire.Value, error) {
	rec, err := s.Load(ctx, runID, info)
	if err != nil {
		return wire.Value{}, err
	}
	return rec.Value, nil
}

func (s *MongoStore) Load(ctx context.Context, runID string, info Info) (*Record, error) {
	if info.RunID != "" && info.RunID != runID {
		return nil, notFound(runID, info)
	}
	var doc mongoCheckpoint
	err := s.coll.FindOne(ctx, bson.D{
		{Key: "run_id", Value: runID},
		{Key: "checkpoint_id", Value: info.CheckpointID},
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound(runID, info)
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	rec := &Record{
		Info:      Info{RunID: doc.RunID, CheckpointID: doc.CheckpointID},
		Value:     wire.Value{TypeID: doc.TypeID, Data: doc.Payload},
		CreatedAt: doc.CreatedAt,
	}
	if doc.ParentID != nil {
		rec.Parent = &Info{RunID: doc.RunID, CheckpointID: *doc.ParentID}
	}
	return rec, nil
}

func (s *MongoStore) ListIndex(ctx context.Context, runID string, parent *Info) ([]Info, error) {
	filter := bson.D{{Key: "run_id", Value: runID}}
	if parent != nil {
		filter = append(filter, bson.E{Key: "parent_id", Value: parent.CheckpointID})
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "checkpoint_id", Value: 1}}).
		SetProjection(bson.D{{Key: "checkpoint_id", Value: 1}})

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer cursor.Close(ctx)

	out := []Info{}
	for cursor.Next(ctx) {
		var doc struct {
			CheckpointID string `bson:"checkpoint_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode checkpoint index: %w", err)
		}
		out = append(out, Info{RunID: runID, CheckpointID: doc.CheckpointID})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return out, nil
}
