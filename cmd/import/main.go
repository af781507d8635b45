// 命令 import 从 JSON 导出文件批量导入历史邮件记录。
//
// 用法:
//
//	import <文件或目录>
//
// 目标是单个 JSON 文件或包含多个 JSON 文件的目录。
// 每个文件在一个事务中导入，重复 id 跳过，转换失败的记录跳过并计数。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"vmail/backend/internal/config"
	"vmail/backend/internal/importer"
	"vmail/backend/internal/logger"
	"vmail/backend/internal/monitoring"
	"vmail/backend/internal/service"
	"vmail/backend/internal/storage"
	"vmail/backend/internal/storage/postgres"
	"vmail/backend/internal/storage/turso"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <file-or-directory>\n", os.Args[0])
		os.Exit(2)
	}
	target := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	opener := storage.StoreOpener{
		OpenTurso: func(url, authToken string) (storage.EmailStore, error) {
			s, err := turso.NewStore(url, authToken)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		OpenPostgres: func(dbCfg *config.DatabaseConfig) (storage.EmailStore, error) {
			s, err := postgres.NewStore(dbCfg)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}
	store, err := opener.Select(cfg, log)
	if err != nil {
		log.Fatal("failed to open storage backend", zap.Error(err))
	}
	defer store.Close()
	log.Info("storage backend ready", zap.String("backend", string(store.Kind())))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := monitoring.NewMetrics()
	emails := service.NewEmailService(store, log, metrics)
	imp := importer.NewImporter(emails, log, metrics)

	summary, err := imp.ImportPath(ctx, target)

	fmt.Printf("Import summary:\n")
	fmt.Printf("- Files:    %d\n", summary.Files)
	fmt.Printf("- Inserted: %d\n", summary.Inserted)
	fmt.Printf("- Skipped:  %d\n", summary.Skipped)
	fmt.Printf("- Errored:  %d\n", summary.Errored)

	if err != nil {
		log.Error("import failed", zap.Error(err))
		os.Exit(1)
	}
	log.Info("import completed successfully")
}
