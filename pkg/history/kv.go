package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// KV stores whole serialized values keyed by name in a database table.
type KV struct {
	open   gorm.Dialector
	db     *gorm.DB
	logger logger.Interface
}

type record struct {
	Key       string `gorm:"primaryKey"`
	Value     []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (record) TableName() string {
	return "history"
}

func NewKV(dbType, dbConn string, debug bool) (*KV, error) {
	var open gorm.Dialector
	switch dbType {
	case "postgres":
		open = postgres.Open(dbConn)
	case "mysql":
		open = mysql.Open(dbConn)
	case "sqlite":
		open = sqlite.Open(dbConn)
	default:
		return nil, fmt.Errorf("history: unknown db type: %s", dbType)
	}
	l := logger.Default.LogMode(logger.Silent)
	if debug {
		l = logger.Default.LogMode(logger.Warn)
	}
	return &KV{
		open:   open,
		logger: l,
	}, nil
}

func (s *KV) Start(ctx context.Context) error {
	// Launch the database connection in a goroutine so we can timeout if it
	// takes too long.
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	errC := make(chan error, 1)
	go func() {
		db, err := gorm.Open(s.open, &gorm.Config{
			Logger: s.logger,
		})
		if err != nil {
			errC <- fmt.Errorf("history: failed to open database: %w", err)
			return
		}
		s.db = db
		errC <- nil
	}()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("history: timed out opening database: %w", ctx.Err())
		}
		return ctx.Err()
	case err := <-errC:
		if err != nil {
			return err
		}
	}
	if err := s.db.AutoMigrate(&record{}); err != nil {
		return fmt.Errorf("history: failed to migrate database: %w", err)
	}
	return nil
}

func (s *KV) Read(ctx context.Context, key string) ([]byte, bool, error) {
	var v record
	if err := s.db.WithContext(ctx).First(&v, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("history: failed to get %s: %w", key, err)
	}
	return v.Value, true, nil
}

func (s *KV) Write(ctx context.Context, key string, value []byte) error {
	v := record{
		Key:   key,
		Value: value,
	}
	if err := s.db.WithContext(ctx).Save(&v).Error; err != nil {
		return fmt.Errorf("history: failed to set %s: %w", key, err)
	}
	return nil
}

func (s *KV) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&record{}, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("history: failed to delete %s: %w", key, err)
	}
	return nil
}
