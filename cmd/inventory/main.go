package main

import (
	"os"

	"github.com/fatih/color"

	"github.com/megayours/pfp-inventory/internal/domain"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func statusColor(status domain.AuthStatus) *color.Color {
	switch status {
	case domain.AuthStatusConnected:
		return color.New(color.FgGreen)
	case domain.AuthStatusNotRegistered:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
