package checkpoint

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StoreType 检查点存储类型
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeFile     StoreType = "file"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDatabase StoreType = "database"
	StoreTypeMongo    StoreType = "mongo"
)

// StoreConfig 描述要创建的存储及其依赖的客户端。
// 客户端由调用方创建并负责关闭。
type StoreConfig struct {
	Type       StoreType
	BaseDir    string
	KeyPrefix  string
	Collection string

	Redis redis.UniversalClient
	DB    *gorm.DB
	Mongo *mongo.Database
}

// NewStore 根据配置创建检查点存储
func NewStore(config StoreConfig, logger *zap.Logger) (Store, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeFile:
		return NewFileStore(config.BaseDir)
	case StoreTypeRedis:
		if config.Redis == nil {
			return nil, errors.New("checkpoint: redis store requires a redis client")
		}
		return NewRedisStore(config.Redis, config.KeyPrefix, logger), nil
	case StoreTypeDatabase:
		if config.DB == nil {
			return nil, errors.New("checkpoint: database store requires a gorm db")
		}
		return NewGormStore(config.DB, logger), nil
	case StoreTypeMongo:
		if config.Mongo == nil {
			return nil, errors.New("checkpoint: mongo store requires a database handle")
		}
		return NewMongoStore(config.Mongo, config.Collection, logger), nil
	default:
		return nil, fmt.Errorf("unsupported checkpoint store type: %s", config.Type)
	}
}
