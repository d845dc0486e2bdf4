package model

import (
	"time"
)

// 构建任务状态机：queued -> running -> success / failed
const (
	BuildStatusQueued  = "queued"
	BuildStatusRunning = "running"
	BuildStatusSuccess = "success"
	BuildStatusFailed  = "failed"
)

// BuildTask 一次 ISO 到 box 的构建任务
type BuildTask struct {
	ID       string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Platform string `json:"platform" gorm:"type:varchar(16);not null"`
	ISOPath  string `json:"iso_path" gorm:"type:text;not null"`
	// ISOKind mini / full，决定内存规格
	ISOKind   string `json:"iso_kind" gorm:"type:varchar(16)"`
	BoxPath   string `json:"box_path" gorm:"type:text"`
	OVAPath   string `json:"ova_path" gorm:"type:text"`
	Status    string `json:"status" gorm:"type:varchar(16);not null;default:'queued'"`
	Error     string `json:"error" gorm:"type:text"`
	CreateOVA bool   `json:"create_ova" gorm:"not null;default:false"`
	SkipTest  bool   `json:"skip_test" gorm:"not null;default:false"`
	// Capabilities 探测到的镜像能力摘要（k9sec/mgbl/管理口地址）
	Capabilities string     `json:"capabilities" gorm:"type:text"`
	StartedAt    *time.Time `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (BuildTask) TableName() string {
	return "build_tasks"
}

// BuildLog 构建过程的分步日志
type BuildLog struct {
	ID     uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	TaskID string `json:"task_id" gorm:"type:varchar(64);not null;index"`
	// Step 步骤名（create-vm / boot / configure / package ...）
	Step      string    `json:"step" gorm:"type:varchar(64);not null"`
	Level     string    `json:"level" gorm:"type:varchar(16);not null;default:'info'"`
	Message   string    `json:"message" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (BuildLog) TableName() string {
	return "build_logs"
}
