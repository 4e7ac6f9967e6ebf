package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AuditMetadata carries the contextual details of a claim attempt.
type AuditMetadata struct {
	OriginalAmount   float64 `json:"original_amount,omitempty"`
	ActualAmount     float64 `json:"actual_amount,omitempty"`
	NewBalance       float64 `json:"new_balance,omitempty"`
	ActivitiesMarked int     `json:"activities_marked,omitempty"`
	SessionCompleted bool    `json:"session_completed,omitempty"`
	FailureKind      string  `json:"failure_kind,omitempty"`
}

type ClaimAuditLog struct {
	bun.BaseModel `bun:"table:claim_audit_log,alias:cal"`

	ID              int64         `bun:"id,pk,autoincrement"`
	UserID          int64         `bun:"user_id,notnull"`
	Operation       string        `bun:"operation,notnull"`
	Amount          float64       `bun:"amount,notnull"`
	TransactionID   string        `bun:"transaction_id"`
	Success         bool          `bun:"success,notnull"`
	FingerprintHash string        `bun:"fingerprint_hash"`
	Metadata        AuditMetadata `bun:"metadata,type:jsonb"`
	CreatedAt       time.Time     `bun:"created_at,notnull,default:current_timestamp"`
}

// SuspiciousMetadata describes why an attempt tripped a heuristic.
type SuspiciousMetadata struct {
	Operation        string  `json:"operation,omitempty"`
	RequestedAmount  float64 `json:"requested_amount,omitempty"`
	AvailableBalance float64 `json:"available_balance,omitempty"`
	Amount           float64 `json:"amount,omitempty"`
	Attempts         int     `json:"attempts,omitempty"`
	ClientClaimable  float64 `json:"client_claimable,omitempty"`
	ServerClaimable  float64 `json:"server_claimable,omitempty"`
	Difference       float64 `json:"difference,omitempty"`
	Tolerance        float64 `json:"tolerance,omitempty"`
}

type SuspiciousActivity struct {
	bun.BaseModel `bun:"table:suspicious_activity_log,alias:sal"`

	ID           int64              `bun:"id,pk,autoincrement"`
	UserID       int64              `bun:"user_id,notnull"`
	ActivityType string             `bun:"activity_type,notnull"`
	Metadata     SuspiciousMetadata `bun:"metadata,type:jsonb"`
	CreatedAt    time.Time          `bun:"created_at,notnull,default:current_timestamp"`
}
