package expect

import "time"

// DefaultBudget 单节点一整串操作（如完整登录）的默认墙钟预算
const DefaultBudget = 1800 * time.Second

// Deadline 一段操作链共享的墙钟预算。所有 wait/retry 调用都对照同一个起点
// 消耗剩余时间，而不是每一步各起一个新计时器，避免慢步骤叠加后悄悄超出节点预算。
type Deadline struct {
	start  time.Time
	budget time.Duration
}

// NewDeadline 从当前时刻起计一份预算；budget <= 0 时使用默认值
func NewDeadline(budget time.Duration) *Deadline {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Deadline{start: time.Now(), budget: budget}
}

// Elapsed 已消耗时间
func (d *Deadline) Elapsed() time.Duration {
	return time.Since(d.start)
}

// Remaining 剩余预算，耗尽后为 0
func (d *Deadline) Remaining() time.Duration {
	rem := d.budget - time.Since(d.start)
	if rem < 0 {
		return 0
	}
	return rem
}

// Expired 预算是否已耗尽
func (d *Deadline) Expired() bool {
	return time.Since(d.start) >= d.budget
}

// Sub 派生一份子预算：不超过 max，也不超过父预算的剩余时间。
// 用于单次重试窗口这类"局部限时但整体受共享预算约束"的场景。
func (d *Deadline) Sub(max time.Duration) *Deadline {
	rem := d.Remaining()
	if max <= 0 || max > rem {
		max = rem
	}
	return &Deadline{start: time.Now(), budget: max}
}
