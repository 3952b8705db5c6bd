// Package retry 为外部依赖调用提供指数退避重试。
// 每个依赖（生成、嵌入、向量库）各持有独立的 Retryer 实例，互不串扰。
package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heyemlee/ai-knowledgehub/config"
	"github.com/heyemlee/ai-knowledgehub/types"
)

// Policy 定义重试策略
type Policy struct {
	MaxAttempts int           // 总尝试次数（含首次执行，最小为 1）
	MinWait     time.Duration // 首次重试前的等待时间
	MaxWait     time.Duration // 等待时间上限
	Multiplier  float64       // 等待时间倍增因子（指数退避）
	Jitter      bool          // 是否添加随机抖动（防止雪崩）
}

// FromProfile 从配置档位构造策略，倍增因子与抖动取默认值
func FromProfile(p config.RetryProfile) *Policy {
	return &Policy{
		MaxAttempts: p.MaxAttempts,
		MinWait:     p.MinWait,
		MaxWait:     p.MaxWait,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// Retryer 基于指数退避的重试器
type Retryer struct {
	policy *Policy
	logger *zap.Logger
}

// NewRetryer 创建重试器，非法策略参数回落到安全默认值
func NewRetryer(policy *Policy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = &Policy{MaxAttempts: 3, MinWait: time.Second, MaxWait: 30 * time.Second, Multiplier: 2.0, Jitter: true}
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.MinWait <= 0 {
		policy.MinWait = time.Second
	}
	if policy.MaxWait < policy.MinWait {
		policy.MaxWait = policy.MinWait
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	return &Retryer{policy: policy, logger: logger}
}

// Do 执行 fn，瞬时错误按策略重试。
// 尝试次数耗尽后返回最后一次的原始错误，不做包装，
// 调用方据此保留错误分类信息。
func (r *Retryer) Do(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.calculateDelay(attempt)
			r.logger.Warn("操作失败，准备重试",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				r.logger.Info("重试成功",
					zap.String("op", op),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}

		if !IsTransient(lastErr) {
			return lastErr
		}
	}

	r.logger.Info("重试次数耗尽",
		zap.String("op", op),
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)
	return lastErr
}

// calculateDelay 计算第 attempt 次尝试前的等待时间
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	// 指数退避：delay = min_wait * multiplier^(attempt-2)
	delay := float64(r.policy.MinWait) * math.Pow(r.policy.Multiplier, float64(attempt-2))

	if delay > float64(r.policy.MaxWait) {
		delay = float64(r.policy.MaxWait)
	}

	// ±25% 随机抖动
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(r.policy.MinWait) {
		delay = float64(r.policy.MinWait)
	}

	return time.Duration(delay)
}

// transientKeywords 网络类瞬时故障的报错关键词
var transientKeywords = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"connection",
	"timeout",
	"unavailable",
	"rate limit",
	"too many requests",
	"temporary",
	"network",
}

// IsTransient 判定错误是否值得重试。
// 配置和鉴权错误立即失败；结构化错误看 Retryable 标记和 HTTP 状态码；
// 其余错误按报错文本中的网络故障关键词兜底判定。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if types.IsFatal(err) {
		return false
	}

	if appErr, ok := types.AsError(err); ok {
		if appErr.Retryable {
			return true
		}
		if appErr.HTTPStatus >= 500 || appErr.HTTPStatus == 429 {
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range transientKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
