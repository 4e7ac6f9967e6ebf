package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Activity types recorded in the ledger.
const (
	ActivityMiningStart       = "mining_start"
	ActivityMiningComplete    = "mining_complete"
	ActivityClaim             = "rzc_claim"
	ActivityTransferToAirdrop = "rzc_transfer_to_airdrop"
	ActivityDexPurchase       = "dex_purchase"
)

// Activity statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ActivityMetadata is the typed metadata bag attached to activity rows.
// All fields are optional; which ones are set depends on the activity type.
// ClaimedToAirdrop is the authoritative "has this mining reward been claimed"
// marker for mining_complete rows.
type ActivityMetadata struct {
	// mining_complete rows
	ClaimedToAirdrop     bool       `json:"claimed_to_airdrop,omitempty"`
	ClaimedAt            *time.Time `json:"claimed_at,omitempty"`
	TransactionID        string     `json:"transaction_id,omitempty"`
	SessionID            int64      `json:"session_id,omitempty"`
	ElapsedHours         float64    `json:"elapsed_hours,omitempty"`
	CompletedDuringClaim bool       `json:"completed_during_claim,omitempty"`

	// rzc_claim rows
	ClaimType        string  `json:"claim_type,omitempty"`
	ActivitiesMarked int     `json:"activities_marked,omitempty"`
	PreviousBalance  float64 `json:"previous_available_balance,omitempty"`
	NewBalance       float64 `json:"new_available_balance,omitempty"`
}

type Activity struct {
	bun.BaseModel `bun:"table:activities,alias:a"`

	ID     int64   `bun:"id,pk,autoincrement"`
	UserID int64   `bun:"user_id,notnull"`
	Type   string  `bun:"type,notnull"`
	Amount float64 `bun:"amount,notnull"`
	Status string  `bun:"status,notnull"`

	// TransactionID is the idempotency key, unique when present.
	TransactionID string `bun:"transaction_id,nullzero"`

	Metadata  ActivityMetadata `bun:"metadata,type:jsonb"`
	CreatedAt time.Time        `bun:"created_at,notnull,default:current_timestamp"`
}

// Unclaimed reports whether a completed mining reward is still claimable.
func (a *Activity) Unclaimed() bool {
	return a.Type == ActivityMiningComplete &&
		a.Status == StatusCompleted &&
		!a.Metadata.ClaimedToAirdrop
}
