package account

import (
	"context"

	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/keystore"
)

type ResolutionKind int

const (
	NoAccount ResolutionKind = iota
	AccountWithActiveSession
	AccountWithoutSession
)

func (k ResolutionKind) String() string {
	switch k {
	case NoAccount:
		return "noAccount"
	case AccountWithActiveSession:
		return "accountWithActiveSession"
	case AccountWithoutSession:
		return "accountWithoutSession"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of looking up the wallet's account. Session is set only
// for AccountWithActiveSession, AccountID for both account kinds.
type Resolution struct {
	Kind      ResolutionKind
	AccountID domain.HexBytes
	Session   *Session
}

// Resolve finds the wallet's account and whether a stored login key still opens a
// session on it. It never writes to the chain.
func Resolve(ctx context.Context, in *Interactor, store keystore.LoginKeyStore, flags []string) (Resolution, error) {
	accounts, err := in.GetAccounts(ctx)
	if err != nil {
		return Resolution{}, err
	}
	if len(accounts) == 0 {
		return Resolution{Kind: NoAccount}, nil
	}
	accountID := accounts[0].ID

	session, err := in.RestoreSession(ctx, accountID, store, flags)
	if err != nil {
		return Resolution{}, err
	}
	if session != nil {
		return Resolution{Kind: AccountWithActiveSession, AccountID: accountID, Session: session}, nil
	}
	return Resolution{Kind: AccountWithoutSession, AccountID: accountID}, nil
}
