package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"insiderwatch/internal/insider"
)

// Finding is a scored suspect ready to be recorded as an alert.
type Finding struct {
	AccountID   uuid.UUID
	MarketID    string
	Severity    insider.Severity
	SignalType  insider.SignalType
	Title       string
	Description string
	Evidence    AlertEvidence
	RunID       string
}

// MergeOutcome says what CreateOrMergeAlert did.
type MergeOutcome string

const (
	OutcomeCreated   MergeOutcome = "created"
	OutcomeUpdated   MergeOutcome = "updated"
	OutcomeUnchanged MergeOutcome = "unchanged"
)

// MergeResult identifies the alert a finding landed on.
type MergeResult struct {
	AlertID  uuid.UUID
	Outcome  MergeOutcome
	Severity insider.Severity
	// Previous is the severity before an update; empty for new alerts.
	Previous insider.Severity
}

// Escalated reports whether the alert is new or its severity went up.
func (r MergeResult) Escalated() bool {
	switch r.Outcome {
	case OutcomeCreated:
		return true
	case OutcomeUpdated:
		return r.Severity.Rank() > r.Previous.Rank()
	default:
		return false
	}
}

// CreateOrMergeAlert records a finding. If the account already has an
// unresolved alert created inside the dedup window, the most recent one is
// patched when the new severity is at least as high and left alone
// otherwise. Only when there is none is a new alert inserted and the account
// flagged. Calls for the same account are serialized.
func (s *Store) CreateOrMergeAlert(ctx context.Context, f Finding) (MergeResult, error) {
	if f.AccountID == uuid.Nil {
		return MergeResult{}, fmt.Errorf("merge alert: missing account id")
	}
	if f.Severity.Rank() == 0 {
		f.Severity = insider.SeverityLow
	}

	unlock := s.locks.Lock("alert:" + f.AccountID.String())
	defer unlock()

	var result MergeResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		since := s.utcNow().Add(-s.dedupWindow)

		var existing Alert
		err := tx.
			Where("account_id = ? AND status IN ? AND created_at >= ?", f.AccountID, unresolvedStatuses, since).
			Order("created_at DESC").
			First(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			alert := Alert{
				ID:          uuid.New(),
				AccountID:   f.AccountID,
				MarketID:    f.MarketID,
				Severity:    f.Severity,
				SignalType:  f.SignalType,
				Title:       f.Title,
				Description: f.Description,
				Evidence:    datatypes.NewJSONType(f.Evidence),
				Status:      StatusNew,
				RunID:       f.RunID,
			}
			if err := tx.Create(&alert).Error; err != nil {
				return fmt.Errorf("insert alert: %w", err)
			}
			res := tx.Model(&Account{}).Where("id = ?", f.AccountID).Update("is_flagged", true)
			if res.Error != nil {
				return fmt.Errorf("flag account: %w", res.Error)
			}
			result = MergeResult{AlertID: alert.ID, Outcome: OutcomeCreated, Severity: alert.Severity}
			return nil

		case err != nil:
			return fmt.Errorf("find open alert: %w", err)
		}

		result = MergeResult{
			AlertID:  existing.ID,
			Outcome:  OutcomeUnchanged,
			Severity: existing.Severity,
			Previous: existing.Severity,
		}
		if !f.Severity.AtLeast(existing.Severity) {
			return nil
		}

		existing.Severity = f.Severity
		existing.SignalType = f.SignalType
		existing.Title = f.Title
		existing.Description = f.Description
		existing.Evidence = datatypes.NewJSONType(f.Evidence)
		if f.MarketID != "" {
			existing.MarketID = f.MarketID
		}
		if f.RunID != "" {
			existing.RunID = f.RunID
		}
		if err := tx.Save(&existing).Error; err != nil {
			return fmt.Errorf("update alert: %w", err)
		}
		result.Outcome = OutcomeUpdated
		result.Severity = existing.Severity
		return nil
	})
	if err != nil {
		return MergeResult{}, err
	}

	s.logger.Debug("alert merged",
		zap.String("alert_id", result.AlertID.String()),
		zap.String("outcome", string(result.Outcome)),
		zap.String("severity", string(result.Severity)),
	)
	return result, nil
}

var allowedTransitions = map[AlertStatus][]AlertStatus{
	StatusNew:           {StatusInvestigating},
	StatusInvestigating: {StatusConfirmed, StatusDismissed},
}

func canTransition(from, to AlertStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionAlert moves an alert along new → investigating →
// {confirmed, dismissed}.
func (s *Store) TransitionAlert(ctx context.Context, id uuid.UUID, to AlertStatus) (*Alert, error) {
	var alert Alert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", id).First(&alert).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAlertNotFound
		}
		if err != nil {
			return fmt.Errorf("load alert: %w", err)
		}
		if !canTransition(alert.Status, to) {
			return fmt.Errorf("%s -> %s: %w", alert.Status, to, ErrInvalidTransition)
		}
		alert.Status = to
		if err := tx.Save(&alert).Error; err != nil {
			return fmt.Errorf("save alert: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("alert status changed",
		zap.String("alert_id", id.String()),
		zap.String("status", string(to)),
	)
	return &alert, nil
}

// GetAlert loads one alert.
func (s *Store) GetAlert(ctx context.Context, id uuid.UUID) (*Alert, error) {
	var alert Alert
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return &alert, nil
}

// AlertFilter narrows ListAlerts. Zero fields match everything.
type AlertFilter struct {
	Status    AlertStatus
	AccountID uuid.UUID
	MarketID  string
	Limit     int
}

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(ctx context.Context, f AlertFilter) ([]Alert, error) {
	q := s.db.WithContext(ctx).Model(&Alert{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.AccountID != uuid.Nil {
		q = q.Where("account_id = ?", f.AccountID)
	}
	if f.MarketID != "" {
		q = q.Where("market_id = ?", f.MarketID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var out []Alert
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return out, nil
}

// CountAlertsByStatus returns the number of alerts in each status.
func (s *Store) CountAlertsByStatus(ctx context.Context) (map[AlertStatus]int64, error) {
	var rows []struct {
		Status AlertStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&Alert{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count alerts: %w", err)
	}
	out := make(map[AlertStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
