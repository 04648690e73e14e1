package inventory

import "github.com/megayours/pfp-inventory/internal/domain"

// Selector tracks which model domain of a token is shown.
type Selector struct {
	domains  []string
	selected int
}

// NewSelector selects the first domain in insertion order, or none.
func NewSelector(models domain.Models) *Selector {
	s := &Selector{domains: models.Domains(), selected: -1}
	if len(s.domains) > 0 {
		s.selected = 0
	}
	return s
}

// Selected returns the current domain; ok is false when the token has no models.
func (s *Selector) Selected() (string, bool) {
	if s.selected < 0 {
		return "", false
	}
	return s.domains[s.selected], true
}

func (s *Selector) Next() {
	if len(s.domains) < 2 {
		return
	}
	s.selected = (s.selected + 1) % len(s.domains)
}

func (s *Selector) Prev() {
	if len(s.domains) < 2 {
		return
	}
	s.selected = (s.selected - 1 + len(s.domains)) % len(s.domains)
}

func (s *Selector) Domains() []string {
	return append([]string(nil), s.domains...)
}
