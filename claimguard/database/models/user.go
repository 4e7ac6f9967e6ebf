package models

import (
	"time"

	"github.com/uptrace/bun"
)

type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID         int64  `bun:"id,pk,autoincrement"`
	TelegramID int64  `bun:"telegram_id,notnull,unique"`
	Username   string `bun:"username"`

	// AvailableBalance is the spendable RZC credited by successful claims.
	// Mutated only together with an audit-logged activity row.
	AvailableBalance float64   `bun:"available_balance,notnull,default:0"`
	LastClaimTime    time.Time `bun:"last_claim_time,nullzero"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}
