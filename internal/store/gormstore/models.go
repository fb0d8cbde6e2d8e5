package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the ledger_accounts table.
type Account struct {
	Identity  string    `gorm:"primaryKey"`
	Balance   int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "ledger_accounts" }

// Transaction mirrors the ledger_transactions table.
type Transaction struct {
	TransactionID string    `gorm:"type:uuid;primaryKey"`
	Identity      string    `gorm:"not null;index:idx_transactions_identity_sequence,unique,priority:1"`
	Sequence      int       `gorm:"not null;index:idx_transactions_identity_sequence,unique,priority:2"`
	Kind          string    `gorm:"not null"`
	Amount        int64     `gorm:"not null"`
	BalanceBefore int64     `gorm:"not null"`
	BalanceAfter  int64     `gorm:"not null"`
	Description   string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (Transaction) TableName() string { return "ledger_transactions" }

func (transaction *Transaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// DubbingJob mirrors the dubbing_history table.
type DubbingJob struct {
	JobID         string         `gorm:"type:uuid;primaryKey"`
	Identity      string         `gorm:"not null;index:idx_dubbing_identity_created,priority:1"`
	FileName      string         `gorm:"not null"`
	InputName     string         `gorm:"not null"`
	AudioLocation string         `gorm:"not null"`
	CreditsUsed   int64          `gorm:"not null"`
	Metadata      datatypes.JSON `gorm:"not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_dubbing_identity_created,priority:2"`
}

func (DubbingJob) TableName() string { return "dubbing_history" }

func (job *DubbingJob) BeforeCreate(tx *gorm.DB) error {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	return nil
}

// AutoMigrate creates or updates every table owned by this package.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &Transaction{}, &DubbingJob{})
}
