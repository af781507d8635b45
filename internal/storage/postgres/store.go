// Package postgres 实现关系型 SQL 引擎的存储适配器。
//
// 连接方式有两种子选择：pooled 适用于经 pgbouncer/无服务器代理的部署
// （pgx 简单协议，避免预编译语句在代理后冲突），direct 适用于直连
// 数据库套接字的部署（lib/pq）。两者之上共享同一个 GORM 存储实现。
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq" // direct 客户端驱动
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"vmail/backend/internal/config"
	"vmail/backend/internal/domain"
	"vmail/backend/internal/storage"
)

// Store PostgreSQL 存储实现。
type Store struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// NewStore 创建 PostgreSQL 存储实例并执行建表迁移。
func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	sqlDB, err := openClient(cfg)
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{
		Conn: sqlDB,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{db: gormDB, sqlDB: sqlDB}
	if err := store.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// openClient 按配置的客户端子选择打开底层连接。
func openClient(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Client {
	case config.PostgresClientPooled:
		connCfg, err := pgx.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to parse database DSN: %w", err)
		}
		// 代理后的连接不能依赖会话级预编译语句
		connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
		return stdlib.OpenDB(*connCfg), nil
	case config.PostgresClientDirect:
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported postgres client kind: %s", cfg.Client)
	}
}

// migrate 自动迁移数据库表结构。
// (message_to, created_at) 索引由模型标签声明，读热路径依赖它。
func (s *Store) migrate() error {
	return s.db.AutoMigrate(&domain.Email{})
}

// Kind 返回后端标签。
func (s *Store) Kind() config.DatabaseKind {
	return config.DatabasePostgres
}

// SaveEmail 写入一条记录，主键冲突为静默空操作。
func (s *Store) SaveEmail(ctx context.Context, email *domain.Email) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(email)
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert email: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// GetEmail 按 id 读取单条记录。
func (s *Store) GetEmail(ctx context.Context, id string) (*domain.Email, error) {
	var rows []domain.Email
	if err := s.db.WithContext(ctx).Where("id = ?", id).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query email: %w", err)
	}
	// 主键之下多行不应出现，出现时按未找到处理
	if len(rows) != 1 {
		return nil, storage.ErrEmailNotFound
	}
	return &rows[0], nil
}

// GetEmailRecipient 按 id 只取收件人。
func (s *Store) GetEmailRecipient(ctx context.Context, id string) (string, error) {
	var recipients []string
	err := s.db.WithContext(ctx).
		Model(&domain.Email{}).
		Where("id = ?", id).
		Limit(1).
		Pluck("message_to", &recipients).Error
	if err != nil {
		return "", fmt.Errorf("failed to query email recipient: %w", err)
	}
	if len(recipients) == 0 {
		return "", storage.ErrEmailNotFound
	}
	return recipients[0], nil
}

// ListEmailsByRecipient 返回某收件人的记录，created_at 降序。
func (s *Store) ListEmailsByRecipient(ctx context.Context, recipient string, limit int) ([]domain.Email, error) {
	emails := make([]domain.Email, 0)
	query := s.db.WithContext(ctx).
		Where("message_to = ?", recipient).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&emails).Error; err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	return emails, nil
}

// CountEmails 返回记录总数。
func (s *Store) CountEmails(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&domain.Email{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count emails: %w", err)
	}
	return count, nil
}

// ImportEmails 在单个事务中写入一批记录。
func (s *Store) ImportEmails(ctx context.Context, emails []*domain.Email) (storage.ImportResult, error) {
	var result storage.ImportResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, email := range emails {
			res := tx.
				Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
				Create(email)
			if res.Error != nil {
				return fmt.Errorf("failed to import email %s: %w", email.ID, res.Error)
			}
			if res.RowsAffected > 0 {
				result.Inserted++
			} else {
				result.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return storage.ImportResult{}, err
	}
	return result, nil
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Health 检查数据库健康状态。
func (s *Store) Health(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}
