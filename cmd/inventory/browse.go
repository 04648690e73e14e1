package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/megayours/pfp-inventory/internal/api/handlers"
	"github.com/megayours/pfp-inventory/internal/inventory"
)

// browseModel shows one token card at a time. Left/right moves between tokens,
// up/down cycles the card's model domains.
type browseModel struct {
	tokens    []handlers.TokenResponse
	selectors []*inventory.Selector
	cursor    int
}

func newBrowseModel(tokens []handlers.TokenResponse) browseModel {
	m := browseModel{tokens: tokens, selectors: make([]*inventory.Selector, len(tokens))}
	for i, t := range tokens {
		m.selectors[i] = inventory.NewSelector(t.Models)
	}
	return m
}

func (m browseModel) Init() tea.Cmd { return nil }

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c", "esc", "q":
		return m, tea.Quit
	case "right", "l":
		if m.cursor < len(m.tokens)-1 {
			m.cursor++
		}
	case "left", "h":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j", "tab":
		if len(m.selectors) > 0 {
			m.selectors[m.cursor].Next()
		}
	case "up", "k", "shift+tab":
		if len(m.selectors) > 0 {
			m.selectors[m.cursor].Prev()
		}
	}
	return m, nil
}

// selected is the domain shown on the current card.
func (m browseModel) selected() (string, bool) {
	if len(m.selectors) == 0 {
		return "", false
	}
	return m.selectors[m.cursor].Selected()
}

func (m browseModel) View() string {
	if len(m.tokens) == 0 {
		return "No tokens. Press q to quit.\n"
	}
	t := m.tokens[m.cursor]
	bold := color.New(color.Bold)
	faint := color.New(color.Faint)

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s\n", bold.Sprint(t.Name), faint.Sprintf("%d/%d", m.cursor+1, len(m.tokens)))
	fmt.Fprintf(&b, "%s #%d\n", t.Collection, t.ID)
	if t.Description != "" {
		fmt.Fprintf(&b, "%s\n", t.Description)
	}
	fmt.Fprintf(&b, "image: %s\n\n", t.Image)

	if sel, ok := m.selected(); ok {
		for _, d := range m.selectors[m.cursor].Domains() {
			if d == sel {
				fmt.Fprintf(&b, "  %s\n", color.New(color.FgCyan, color.Bold).Sprint("> "+d))
			} else {
				fmt.Fprintf(&b, "    %s\n", d)
			}
		}
		url, _ := t.Models.Get(sel)
		fmt.Fprintf(&b, "\nmodel: %s\n", url)
	} else {
		b.WriteString(faint.Sprint("no 3D models attached") + "\n")
	}
	b.WriteString(faint.Sprint("\n←/→ token  ↑/↓ model  q quit") + "\n")
	return b.String()
}

func newBrowseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Page through token cards and their models",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := client()
			if err != nil {
				return err
			}
			tokens, err := c.Tokens()
			if err != nil {
				return explain(err)
			}
			_, err = tea.NewProgram(newBrowseModel(tokens)).Run()
			return err
		},
	}
}
