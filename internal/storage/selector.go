package storage

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"vmail/backend/internal/config"
)

// StoreOpener 按后端种类打开对应的存储实现。
// 两个构造函数由调用方注入，避免本包反向依赖具体后端包。
type StoreOpener struct {
	OpenTurso    func(url, authToken string) (EmailStore, error)
	OpenPostgres func(cfg *config.DatabaseConfig) (EmailStore, error)
}

// Select 根据配置的显式后端标签打开存储。
//
// 选择只看 database.type 标签：未知或未配置的标签记一条警告后
// 回退到 turso，绝不探测连接参数来猜测后端。选中后端之后，
// 该后端必需的连接参数缺失是致命错误，不再继续回退。
func (o StoreOpener) Select(cfg *config.Config, log *zap.Logger) (EmailStore, error) {
	kind := cfg.Database.Type

	switch kind {
	case config.DatabaseTurso, config.DatabasePostgres:
	default:
		log.Warn("未知的数据库后端，回退到 turso",
			zap.String("database_type", string(kind)))
		kind = config.DatabaseTurso
	}

	switch kind {
	case config.DatabasePostgres:
		if cfg.Database.DSN == "" {
			return nil, fmt.Errorf("database.dsn is required for postgres backend")
		}
		return o.OpenPostgres(&cfg.Database)
	default:
		if cfg.Turso.URL == "" {
			return nil, fmt.Errorf("turso.url is required for turso backend")
		}
		// 本地 file: 库不需要令牌，远端库必须带令牌
		if cfg.Turso.AuthToken == "" && !strings.HasPrefix(cfg.Turso.URL, "file:") {
			return nil, fmt.Errorf("turso.auth_token is required for remote turso backend")
		}
		return o.OpenTurso(cfg.Turso.URL, cfg.Turso.AuthToken)
	}
}
