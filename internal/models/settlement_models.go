package models

import (
	"time"
)

// SettlementOperation committed operation, in execution order. Replaying the
// log through the command dispatcher rebuilds in-memory state.
type SettlementOperation struct {
	ID          uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Sequence    uint64    `json:"sequence" gorm:"not null;uniqueIndex"`
	OperationID string    `json:"operation_id" gorm:"size:36;not null;uniqueIndex"`
	Batch       uint64    `json:"batch" gorm:"not null;index"`
	Timestamp   time.Time `json:"timestamp" gorm:"not null"`
	Sender      string    `json:"sender" gorm:"size:42;not null;index"`
	Kind        string    `json:"kind" gorm:"size:64;not null;index"`
	Payload     string    `json:"payload" gorm:"type:jsonb;not null"` // command arguments (JSON)
	EventCount  int       `json:"event_count" gorm:"default:0"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name
func (SettlementOperation) TableName() string {
	return "settlement_operations"
}

// SettlementEvent event emitted by a committed operation
type SettlementEvent struct {
	ID          uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	OperationID string    `json:"operation_id" gorm:"size:36;not null;index"`
	Sequence    uint64    `json:"sequence" gorm:"not null;index"`
	Position    int       `json:"position" gorm:"not null"`
	Component   string    `json:"component" gorm:"size:32;not null;index:idx_settlement_event_name"`
	Name        string    `json:"name" gorm:"size:64;not null;index:idx_settlement_event_name"`
	Batch       uint64    `json:"batch" gorm:"not null"`
	Timestamp   time.Time `json:"timestamp" gorm:"not null"`
	Attributes  string    `json:"attributes" gorm:"type:jsonb"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name
func (SettlementEvent) TableName() string {
	return "settlement_events"
}

// RedemptionRecordStatus status of a delayed redemption
type RedemptionRecordStatus string

const (
	RedemptionRecordStatusQueued  RedemptionRecordStatus = "queued"
	RedemptionRecordStatusClaimed RedemptionRecordStatus = "claimed"
)

// RedemptionRecord read projection of the vault redemption queue
type RedemptionRecord struct {
	ID          uint64                 `json:"id" gorm:"primaryKey;autoIncrement"`
	User        string                 `json:"user" gorm:"size:42;not null;uniqueIndex:idx_redemption_user_index"`
	Index       uint64                 `json:"index" gorm:"column:record_index;not null;uniqueIndex:idx_redemption_user_index"`
	Assets      string                 `json:"assets" gorm:"size:78;not null"` // base units
	Shares      string                 `json:"shares" gorm:"size:78;not null"`
	QueuedAt    time.Time              `json:"queued_at"`
	ClaimableAt time.Time              `json:"claimable_at" gorm:"index"`
	Status      RedemptionRecordStatus `json:"status" gorm:"size:16;not null;default:'queued';index"`
	ClaimedAt   *time.Time             `json:"claimed_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// TableName specifies the table name
func (RedemptionRecord) TableName() string {
	return "redemption_records"
}

// GatewayQueueStatus status of a gateway redemption request
type GatewayQueueStatus string

const (
	GatewayQueueStatusQueued    GatewayQueueStatus = "queued"
	GatewayQueueStatusProcessed GatewayQueueStatus = "processed"
	GatewayQueueStatusCancelled GatewayQueueStatus = "cancelled"
)

// GatewayQueueEntry read projection of the gateway FIFO queue
type GatewayQueueEntry struct {
	ID         uint64             `json:"id" gorm:"primaryKey;autoIncrement"`
	EntryID    string             `json:"entry_id" gorm:"size:66;not null;uniqueIndex"`
	Sender     string             `json:"sender" gorm:"size:42;not null;index"`
	Receiver   string             `json:"receiver" gorm:"size:42;not null;index"`
	Amount     string             `json:"amount" gorm:"size:78;not null"`
	Underlying string             `json:"underlying" gorm:"size:78"` // paid out, before fee
	Fee        string             `json:"fee" gorm:"size:78"`
	Status     GatewayQueueStatus `json:"status" gorm:"size:16;not null;default:'queued';index"`
	QueuedAt   time.Time          `json:"queued_at"`
	SettledAt  *time.Time         `json:"settled_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// TableName specifies the table name
func (GatewayQueueEntry) TableName() string {
	return "gateway_queue_entries"
}
