package migration

import (
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/config"
)

// NewMigratorFromConfig 为 cfg.Database 指向的检查点数据库创建迁移器
func NewMigratorFromConfig(cfg *config.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

// NewMigratorFromDatabaseConfig 由 database 配置段拼接连接串；sqlite 时 Name 为文件路径
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, err
	}

	host, port, user, password, sslMode := dbCfg.Host, dbCfg.Port, dbCfg.User, dbCfg.Password, dbCfg.SSLMode
	switch dbType {
	case DatabaseTypeMySQL:
		sslMode = ""
	case DatabaseTypeSQLite:
		host, port, user, password, sslMode = "", 0, "", "", ""
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  BuildDatabaseURL(dbType, host, port, dbCfg.Name, user, password, sslMode),
		Logger:       logger,
	})
}

// NewMigratorFromURL 直接使用连接串，绕过配置文件（migrate --db-type --db-url）
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL, Logger: logger})
}
