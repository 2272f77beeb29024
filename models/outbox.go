package models

import (
	"encoding/json"
	"time"

	"github.com/T0MGL/0rdefy-sub003/config"
	"github.com/T0MGL/0rdefy-sub003/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outbox publish statuses for OutboxMessageRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// OutboxMessageRecord stages one audit message per inventory movement. The
// row is created in the movement's transaction; the dispatcher publishes it
// after commit and records the outcome here.
type OutboxMessageRecord struct {
	ID         int       `gorm:"primaryKey;index:idx_outbox_dispatch,priority:3" json:"id"`
	BusinessId string    `gorm:"size:64;not null;index" json:"business_id"`
	OccurredAt time.Time `gorm:"index;not null" json:"occurred_at"`
	MovementId int       `gorm:"index;not null" json:"movement_id"`
	ProductId  int       `json:"product_id"`
	OrderId    int       `json:"order_id"`
	Payload    []byte    `gorm:"type:blob" json:"payload"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToAuditMessage(record OutboxMessageRecord) config.AuditMessage {
	return config.AuditMessage{
		ID:            record.ID,
		BusinessId:    record.BusinessId,
		OccurredAt:    record.OccurredAt,
		MovementId:    record.MovementId,
		ProductId:     record.ProductId,
		OrderId:       record.OrderId,
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}

// enqueueMovementAudit writes the outbox row for a freshly created movement
// in the same transaction. The dispatcher picks it up after commit.
func enqueueMovementAudit(tx *gorm.DB, movement *InventoryMovement) error {
	payload, err := json.Marshal(movement)
	if err != nil {
		return err
	}
	correlationId := ""
	if ctx := tx.Statement.Context; ctx != nil {
		correlationId, _ = utils.GetCorrelationIdFromContext(ctx)
	}
	if correlationId == "" {
		correlationId = uuid.NewString()
	}
	record := OutboxMessageRecord{
		BusinessId:    movement.BusinessId,
		OccurredAt:    time.Now().UTC(),
		MovementId:    movement.ID,
		ProductId:     movement.ProductId,
		OrderId:       movement.OrderId,
		Payload:       payload,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationId,
	}
	return tx.Create(&record).Error
}
