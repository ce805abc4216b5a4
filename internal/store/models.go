package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"insiderwatch/internal/insider"
)

// AlertStatus is the investigation state of an alert.
type AlertStatus string

const (
	StatusNew           AlertStatus = "new"
	StatusInvestigating AlertStatus = "investigating"
	StatusConfirmed     AlertStatus = "confirmed"
	StatusDismissed     AlertStatus = "dismissed"
)

// ParseAlertStatus returns the status named by s, or false.
func ParseAlertStatus(s string) (AlertStatus, bool) {
	switch st := AlertStatus(s); st {
	case StatusNew, StatusInvestigating, StatusConfirmed, StatusDismissed:
		return st, true
	}
	return "", false
}

// Resolved reports whether no further transitions are possible.
func (s AlertStatus) Resolved() bool {
	return s == StatusConfirmed || s == StatusDismissed
}

var unresolvedStatuses = []AlertStatus{StatusNew, StatusInvestigating}

// Account is the canonical record for one wallet.
type Account struct {
	ID             uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	Address        string                      `gorm:"type:varchar(64);uniqueIndex;not null" json:"address"`
	DisplayName    string                      `gorm:"type:varchar(128)" json:"displayName,omitempty"`
	PreviousNames  datatypes.JSONSlice[string] `json:"previousNames,omitempty"`
	TotalTrades    int                         `json:"totalTrades"`
	TotalVolume    decimal.Decimal             `gorm:"type:decimal(20,2)" json:"totalVolume"`
	TotalProfit    decimal.Decimal             `gorm:"type:decimal(20,2)" json:"totalProfit"`
	WinRate        float64                     `json:"winRate"`
	UniqueMarkets  int                         `json:"uniqueMarkets"`
	AccountAgeDays *float64                    `json:"accountAgeDays,omitempty"`
	RiskScore      int                         `gorm:"index" json:"riskScore"`
	Flags          datatypes.JSONSlice[string] `json:"flags,omitempty"`
	IsFlagged      bool                        `gorm:"index" json:"isFlagged"`
	LastSeenAt     time.Time                   `json:"lastSeenAt"`
	CreatedAt      time.Time                   `json:"createdAt"`
	UpdatedAt      time.Time                   `json:"updatedAt"`
}

// AlertEvidence is the structured evidence stored with an alert.
type AlertEvidence struct {
	Metrics   insider.EvidenceMetrics `json:"metrics"`
	Reasoning []string                `json:"reasoning"`
	Flags     []insider.InsiderFlag   `json:"flags"`
}

// Alert is one investigative record for an account.
type Alert struct {
	ID          uuid.UUID                         `gorm:"type:uuid;primaryKey" json:"id"`
	AccountID   uuid.UUID                         `gorm:"type:uuid;not null;index:idx_alerts_account_created,priority:1" json:"accountId"`
	MarketID    string                            `gorm:"type:varchar(128);index" json:"marketId"`
	Severity    insider.Severity                  `gorm:"type:varchar(16);not null" json:"severity"`
	SignalType  insider.SignalType                `gorm:"type:varchar(32);not null" json:"signalType"`
	Title       string                            `gorm:"type:varchar(256);not null" json:"title"`
	Description string                            `gorm:"type:text" json:"description"`
	Evidence    datatypes.JSONType[AlertEvidence] `json:"evidence"`
	Status      AlertStatus                       `gorm:"type:varchar(16);not null;index" json:"status"`
	RunID       string                            `gorm:"type:varchar(64)" json:"runId,omitempty"`
	CreatedAt   time.Time                         `gorm:"index:idx_alerts_account_created,priority:2" json:"createdAt"`
	UpdatedAt   time.Time                         `json:"updatedAt"`
}
