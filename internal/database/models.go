package database

// DocumentSnapshot stores the latest text of a document under its storage key.
type DocumentSnapshot struct {
	StorageKey       string `gorm:"column:storage_key;primaryKey;size:190;not null"`
	Text             string `gorm:"column:text;type:text;not null"`
	Version          int64  `gorm:"column:version;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentSnapshot) TableName() string {
	return "document_snapshots"
}
