package prefs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Preference struct {
	Owner     string `gorm:"primaryKey;size:128"`
	Key       string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"size:256"`
	UpdatedAt time.Time
}

func (Preference) TableName() string {
	return "preferences"
}

// OpenPostgres connects with the query log routed through zap.
func OpenPostgres(dsn string, debug bool) (*gorm.DB, error) {
	level := logger.Error
	if debug {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.New(zap.NewStdLog(zap.L()), logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      level,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("prefs: open postgres: %w", err)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(new(Preference))
}

// GormKV stores one user's values as rows of the preferences table.
type GormKV struct {
	db    *gorm.DB
	owner string
}

func NewGormKV(db *gorm.DB, owner string) *GormKV {
	return &GormKV{db: db, owner: owner}
}

func (g *GormKV) Get(ctx context.Context, key string) (string, error) {
	var p Preference
	err := g.db.WithContext(ctx).
		Where("owner = ? AND key = ?", g.owner, key).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("prefs: select %s: %w", key, err)
	}
	return p.Value, nil
}

func (g *GormKV) Set(ctx context.Context, key, value string) error {
	p := Preference{Owner: g.owner, Key: key, Value: value}
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&p).Error
	if err != nil {
		return fmt.Errorf("prefs: upsert %s: %w", key, err)
	}
	return nil
}
