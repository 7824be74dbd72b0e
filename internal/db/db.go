package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/types"
	"github.com/doctalk/doctalk-backend/internal/utils"
)

type Service struct {
	db  *gorm.DB
	log *logger.Logger
}

// New opens the relational store. DB_DRIVER=sqlite switches to a local
// file database for development; everything else uses Postgres.
func New(log *logger.Logger) (*Service, error) {
	svcLog := log.With("service", "DB")

	driver := utils.GetEnv("DB_DRIVER", "postgres", svcLog)

	var (
		gdb *gorm.DB
		err error
	)
	switch driver {
	case "sqlite":
		path := utils.GetEnv("SQLITE_PATH", "doctalk.db", svcLog)
		gdb, err = gorm.Open(sqlite.Open(path), &gorm.Config{})
	default:
		host := utils.GetEnv("DB_HOST", "localhost", svcLog)
		port := utils.GetEnv("DB_PORT", "5432", svcLog)
		user := utils.GetEnv("DB_USER", "postgres", svcLog)
		pass := utils.GetEnv("DB_PASSWORD", "postgres", svcLog)
		name := utils.GetEnv("DB_NAME", "doctalk", svcLog)
		sslmode := utils.GetEnv("DB_SSLMODE", "disable", svcLog)
		dsn := fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, pass, name, sslmode,
		)
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	}
	if err != nil {
		return nil, fmt.Errorf("open database (%s): %w", driver, err)
	}

	svcLog.Info("Database connection established", "driver", driver)
	return &Service{db: gdb, log: svcLog}, nil
}

func (s *Service) DB() *gorm.DB { return s.db }

func (s *Service) AutoMigrateAll() error {
	return s.db.AutoMigrate(
		&types.User{},
		&types.Conversation{},
		&types.Document{},
		&types.DocumentChunk{},
		&types.ChatMessage{},
		&types.Flashcard{},
		&types.Mindmap{},
	)
}
