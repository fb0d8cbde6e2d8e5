package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/aurisvoice/internal/dubbing"
	"github.com/MarkoPoloResearchLab/aurisvoice/pkg/ledger"
)

const errorSubjectHistory = "history"

// HistoryStore implements dubbing.HistoryRecorder on the dubbing_history table.
type HistoryStore struct {
	db *gorm.DB
}

type jobMetadata struct {
	Language string `json:"language"`
	Voice    string `json:"voice"`
	Provider string `json:"provider"`
}

// NewHistoryStore returns a HistoryStore backed by gorm.DB.
func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Record inserts a finished job.
func (store *HistoryStore) Record(ctx context.Context, item dubbing.HistoryItem) error {
	metadata, err := json.Marshal(jobMetadata{Language: item.Language, Voice: item.Voice, Provider: item.Provider})
	if err != nil {
		return ledger.StorageError(errorSubjectHistory, errorCodeInvalid, err)
	}
	job := DubbingJob{
		JobID:         item.JobID,
		Identity:      item.Identity.String(),
		FileName:      item.FileName,
		InputName:     item.InputName,
		AudioLocation: item.AudioLocation,
		CreditsUsed:   item.CreditsUsed.Int64(),
		Metadata:      datatypes.JSON(metadata),
		CreatedAt:     time.Unix(item.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&job).Error; err != nil {
		return ledger.StorageError(errorSubjectHistory, errorCodeInsert, err)
	}
	return nil
}

// List returns up to limit jobs for identity, newest first.
func (store *HistoryStore) List(ctx context.Context, identity ledger.Identity, limit int) ([]dubbing.HistoryItem, error) {
	query := store.db.WithContext(ctx).
		Where("identity = ?", identity.String()).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []DubbingJob
	if err := query.Find(&rows).Error; err != nil {
		return nil, ledger.StorageError(errorSubjectHistory, errorCodeList, err)
	}
	items := make([]dubbing.HistoryItem, 0, len(rows))
	for _, row := range rows {
		item, err := mapJob(identity, row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Find returns the job with jobID owned by identity.
func (store *HistoryStore) Find(ctx context.Context, identity ledger.Identity, jobID string) (dubbing.HistoryItem, error) {
	var row DubbingJob
	err := store.db.WithContext(ctx).
		Where("identity = ? AND job_id = ?", identity.String(), jobID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dubbing.HistoryItem{}, fmt.Errorf("%w: %s", dubbing.ErrJobNotFound, jobID)
	}
	if err != nil {
		return dubbing.HistoryItem{}, ledger.StorageError(errorSubjectHistory, errorCodeLookup, err)
	}
	return mapJob(identity, row)
}

func mapJob(identity ledger.Identity, row DubbingJob) (dubbing.HistoryItem, error) {
	var metadata jobMetadata
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return dubbing.HistoryItem{}, ledger.StorageError(errorSubjectHistory, errorCodeInvalid, err)
		}
	}
	return dubbing.HistoryItem{
		JobID:          row.JobID,
		Identity:       identity,
		FileName:       row.FileName,
		InputName:      row.InputName,
		AudioLocation:  row.AudioLocation,
		CreditsUsed:    ledger.Credits(row.CreditsUsed),
		Language:       metadata.Language,
		Voice:          metadata.Voice,
		Provider:       metadata.Provider,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}
