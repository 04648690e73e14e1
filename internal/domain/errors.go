package domain

import "errors"

// Auth errors
var (
	ErrWalletUnavailable  = errors.New("wallet provider unavailable")
	ErrNotConnected       = errors.New("not connected or missing chain client")
	ErrConnectInProgress  = errors.New("connection already in progress")
	ErrNotRegistered      = errors.New("no account registered for this wallet")
	ErrAlreadyRegistered  = errors.New("account already registered")
	ErrNoSession          = errors.New("no chain session")
	ErrInvalidAuthStatus  = errors.New("invalid auth status for this action")
	ErrUnknownChain       = errors.New("unknown chain")
	ErrSigningRejected    = errors.New("signing request rejected by wallet")
	ErrSignerDisconnected = errors.New("wallet signer disconnected")
	ErrInvalidAddress     = errors.New("invalid wallet address")
)

// Tab errors
var (
	ErrTabNotFound = errors.New("tab not found")
	ErrInvalidTab  = errors.New("invalid tab token")
)

// Inventory and upload errors
var (
	ErrTokenNotFound     = errors.New("token not found")
	ErrInvalidFileType   = errors.New("invalid model file type")
	ErrEmptyFile         = errors.New("empty file")
	ErrInvalidDomain     = errors.New("invalid model domain")
	ErrInvalidWizardStep = errors.New("invalid attach wizard step")
	ErrUnknownItemKind   = errors.New("unknown inventory item kind")
)
