package inventory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/inventory"
)

func models(domains ...string) domain.Models {
	var m domain.Models
	for _, d := range domains {
		m = m.With(d, "https://models/"+d)
	}
	return m
}

func TestSelector_Initial(t *testing.T) {
	_, ok := inventory.NewSelector(nil).Selected()
	assert.False(t, ok)

	got, ok := inventory.NewSelector(models("b", "a", "c")).Selected()
	require.True(t, ok)
	assert.Equal(t, "b", got)
}

func TestSelector_CycleWraps(t *testing.T) {
	for n := 2; n <= 5; n++ {
		domains := []string{"d0", "d1", "d2", "d3", "d4"}[:n]
		s := inventory.NewSelector(models(domains...))

		for i := 0; i < n; i++ {
			s.Next()
		}
		got, _ := s.Selected()
		assert.Equal(t, "d0", got, "N nexts return to start for N=%d", n)

		s.Prev()
		got, _ = s.Selected()
		assert.Equal(t, domains[n-1], got, "prev from start wraps for N=%d", n)
	}
}

func TestSelector_NoOpBelowTwo(t *testing.T) {
	s := inventory.NewSelector(models("only"))
	s.Next()
	s.Prev()
	got, ok := s.Selected()
	assert.True(t, ok)
	assert.Equal(t, "only", got)

	empty := inventory.NewSelector(nil)
	empty.Next()
	empty.Prev()
	_, ok = empty.Selected()
	assert.False(t, ok)
}

func TestAttachWizard(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		mode     inventory.AttachMode
		domain   string
		wantStep inventory.WizardStep
		wantErr  error
	}{
		{name: "no models skips the choice", existing: nil, domain: "free", wantStep: inventory.StepReady},
		{name: "replace accepts existing", existing: []string{"a", "b"}, mode: inventory.ModeReplace, domain: "b", wantStep: inventory.StepReady},
		{name: "replace rejects unknown", existing: []string{"a"}, mode: inventory.ModeReplace, domain: "z", wantStep: inventory.StepEnterDomain, wantErr: domain.ErrInvalidDomain},
		{name: "new accepts free text", existing: []string{"a"}, mode: inventory.ModeNew, domain: "z", wantStep: inventory.StepReady},
		{name: "new rejects blank", existing: []string{"a"}, mode: inventory.ModeNew, domain: "  ", wantStep: inventory.StepEnterDomain, wantErr: domain.ErrInvalidDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := inventory.NewAttachWizard(models(tt.existing...))
			w.Begin()
			if len(tt.existing) == 0 {
				assert.Equal(t, inventory.StepEnterDomain, w.Step())
				assert.Equal(t, inventory.ModeNew, w.Mode())
			} else {
				require.Equal(t, inventory.StepChooseMode, w.Step())
				assert.ErrorIs(t, w.SetDomain("x"), domain.ErrInvalidWizardStep)
				require.NoError(t, w.Choose(tt.mode))
			}

			err := w.SetDomain(tt.domain)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStep, w.Step())
		})
	}
}

func TestAttachWizard_Reset(t *testing.T) {
	w := inventory.NewAttachWizard(models("a"))
	assert.ErrorIs(t, w.Choose(inventory.ModeNew), domain.ErrInvalidWizardStep)
	w.Begin()
	require.NoError(t, w.Choose(inventory.ModeReplace))
	assert.Equal(t, []string{"a"}, w.Choices())
	w.Reset()
	assert.Equal(t, inventory.StepIdle, w.Step())
	assert.Empty(t, w.Domain())
}

func TestResolveTarget(t *testing.T) {
	got, err := inventory.ResolveTarget(models("a"), inventory.ModeReplace, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	_, err = inventory.ResolveTarget(models("a"), inventory.ModeReplace, "b")
	assert.ErrorIs(t, err, domain.ErrInvalidDomain)

	got, err = inventory.ResolveTarget(nil, inventory.ModeReplace, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
}
