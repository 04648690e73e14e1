package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Tab is one browser tab talking to the gateway. Everything the tab authenticates
// is scoped to it.
type Tab struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserAgent  string    `json:"userAgent"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt" gorm:"index"`
}

// LoginKey is a persisted disposable session key. Only chains whose login keys are
// session scoped store rows here.
type LoginKey struct {
	ID         uuid.UUID      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TabID      uuid.UUID      `json:"tabId" gorm:"type:uuid;not null;uniqueIndex:idx_login_key_scope"`
	Chain      ChainName      `json:"chain" gorm:"not null;uniqueIndex:idx_login_key_scope"`
	AccountID  string         `json:"accountId" gorm:"not null;uniqueIndex:idx_login_key_scope"`
	PrivateKey string         `json:"-" gorm:"not null"`
	Flags      datatypes.JSON `json:"flags" gorm:"type:jsonb;default:'[]'"`
	CreatedAt  time.Time      `json:"createdAt"`
}
