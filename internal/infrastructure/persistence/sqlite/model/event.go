package model

// Event rows are append-only; event_id order is creation order.
type Event struct {
	EventID   uint64  `gorm:"column:event_id;primaryKey;autoIncrement"`
	IssueID   uint64  `gorm:"column:issue_id;not null;index"`
	Kind      string  `gorm:"column:kind;type:text;not null"`
	Message   string  `gorm:"column:message;type:text;not null"`
	Metadata  *string `gorm:"column:metadata;type:text"`
	CreatedAt string  `gorm:"column:created_at;type:text;not null"`
}

func (Event) TableName() string {
	return "events"
}
