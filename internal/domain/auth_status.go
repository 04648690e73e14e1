package domain

import "fmt"

// AuthStatus is the projection of (wallet connected, account exists, session active).
type AuthStatus string

const (
	AuthStatusConnected     AuthStatus = "connected"
	AuthStatusNotRegistered AuthStatus = "notRegistered"
	AuthStatusDisconnected  AuthStatus = "disconnected"
)

func ParseAuthStatus(s string) (AuthStatus, error) {
	switch AuthStatus(s) {
	case AuthStatusConnected, AuthStatusNotRegistered, AuthStatusDisconnected:
		return AuthStatus(s), nil
	}
	return "", fmt.Errorf("unknown auth status %q", s)
}

// ChainName identifies which of the two chains an auth context talks to.
type ChainName string

const (
	ChainPrimary ChainName = "primary"
	ChainHub     ChainName = "hub"
)

func ParseChainName(s string) (ChainName, error) {
	switch ChainName(s) {
	case ChainPrimary, ChainHub:
		return ChainName(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChain, s)
}
