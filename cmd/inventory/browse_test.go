package main

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/megayours/pfp-inventory/internal/api/handlers"
	"github.com/megayours/pfp-inventory/internal/domain"
)

func press(m tea.Model, keys ...tea.KeyMsg) tea.Model {
	for _, k := range keys {
		m, _ = m.Update(k)
	}
	return m
}

var (
	keyRight = tea.KeyMsg{Type: tea.KeyRight}
	keyLeft  = tea.KeyMsg{Type: tea.KeyLeft}
	keyDown  = tea.KeyMsg{Type: tea.KeyDown}
	keyUp    = tea.KeyMsg{Type: tea.KeyUp}
)

func TestBrowseModel_Navigation(t *testing.T) {
	tokens := []handlers.TokenResponse{
		{Token: domain.Token{Name: "knight", Models: domain.Models{
			{Domain: "arena", URL: "https://files.test/a"},
			{Domain: "plaza", URL: "https://files.test/b"},
			{Domain: "city", URL: "https://files.test/c"},
		}}},
		{Token: domain.Token{Name: "mage"}},
	}

	tests := []struct {
		name        string
		keys        []tea.KeyMsg
		wantCursor  int
		wantDomain  string
		wantHasPick bool
	}{
		{name: "starts on the first domain", wantDomain: "arena", wantHasPick: true},
		{name: "down cycles forward", keys: []tea.KeyMsg{keyDown, keyDown}, wantDomain: "city", wantHasPick: true},
		{name: "down wraps", keys: []tea.KeyMsg{keyDown, keyDown, keyDown}, wantDomain: "arena", wantHasPick: true},
		{name: "up wraps backward", keys: []tea.KeyMsg{keyUp}, wantDomain: "city", wantHasPick: true},
		{name: "right moves to a token without models", keys: []tea.KeyMsg{keyRight}, wantCursor: 1},
		{name: "right stops at the last token", keys: []tea.KeyMsg{keyRight, keyRight}, wantCursor: 1},
		{name: "left stops at the first token", keys: []tea.KeyMsg{keyLeft}, wantDomain: "arena", wantHasPick: true},
		{name: "selection survives paging", keys: []tea.KeyMsg{keyDown, keyRight, keyLeft}, wantDomain: "plaza", wantHasPick: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := press(newBrowseModel(tokens), tt.keys...).(browseModel)
			assert.Equal(t, tt.wantCursor, m.cursor)
			got, ok := m.selected()
			assert.Equal(t, tt.wantHasPick, ok)
			assert.Equal(t, tt.wantDomain, got)
		})
	}
}

func TestBrowseModel_View(t *testing.T) {
	m := newBrowseModel([]handlers.TokenResponse{
		{Token: domain.Token{Name: "knight", Models: domain.Models{{Domain: "arena", URL: "https://files.test/a"}}}},
	})
	view := m.View()
	assert.Contains(t, view, "knight")
	assert.Contains(t, view, "https://files.test/a")

	assert.Contains(t, newBrowseModel(nil).View(), "No tokens")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	assert.NotNil(t, cmd)
}
