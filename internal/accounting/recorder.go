// Package accounting 持久化每次问答的 token 用量，用于成本核算。
package accounting

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/heyemlee/ai-knowledgehub/types"
)

// UsageRecord 单次请求的 token 用量记录
type UsageRecord struct {
	ID               uint   `gorm:"primaryKey"`
	UserID           string `gorm:"index"`
	Endpoint         string `gorm:"index"`
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Partial          bool
	CreatedAt        time.Time `gorm:"index"`
}

// Recorder 基于 SQLite 的用量记录器
type Recorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRecorder 打开（必要时创建）用量数据库并迁移表结构
func NewRecorder(path string, logger *zap.Logger) (*Recorder, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open usage db %s: %w", path, err)
	}
	if err := db.AutoMigrate(&UsageRecord{}); err != nil {
		return nil, fmt.Errorf("migrate usage db: %w", err)
	}
	return &Recorder{
		db:     db,
		logger: logger.With(zap.String("component", "usage_recorder")),
	}, nil
}

// Record 写入一条用量记录。写入失败只记日志，不影响请求主流程。
func (r *Recorder) Record(ctx context.Context, userID, endpoint string, usage types.TokenUsage) {
	if usage.IsZero() {
		return
	}
	rec := UsageRecord{
		UserID:           userID,
		Endpoint:         endpoint,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		Partial:          usage.Partial,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		r.logger.Warn("用量记录写入失败",
			zap.String("user_id", userID),
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
	}
}

// TotalSince 统计某用户自 since 起的 token 总量
func (r *Recorder) TotalSince(ctx context.Context, userID string, since time.Time) (types.TokenUsage, error) {
	var row struct {
		PromptTokens     int
		CompletionTokens int
		TotalTokens      int
	}
	err := r.db.WithContext(ctx).
		Model(&UsageRecord{}).
		Select("COALESCE(SUM(prompt_tokens),0) AS prompt_tokens, COALESCE(SUM(completion_tokens),0) AS completion_tokens, COALESCE(SUM(total_tokens),0) AS total_tokens").
		Where("user_id = ? AND created_at >= ?", userID, since).
		Scan(&row).Error
	if err != nil {
		return types.TokenUsage{}, fmt.Errorf("sum usage for %s: %w", userID, err)
	}
	return types.TokenUsage{
		PromptTokens:     row.PromptTokens,
		CompletionTokens: row.CompletionTokens,
		TotalTokens:      row.TotalTokens,
	}, nil
}

// Close 关闭底层数据库连接
func (r *Recorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
