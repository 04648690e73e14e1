package inventory

import (
	"fmt"
	"strings"

	"github.com/megayours/pfp-inventory/internal/domain"
)

type WizardStep int

const (
	StepIdle WizardStep = iota
	// StepChooseMode asks whether to replace an existing domain or add a new one.
	StepChooseMode
	StepEnterDomain
	StepReady
)

func (s WizardStep) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepChooseMode:
		return "chooseMode"
	case StepEnterDomain:
		return "enterDomain"
	case StepReady:
		return "ready"
	default:
		return "unknown"
	}
}

type AttachMode string

const (
	ModeReplace AttachMode = "replace"
	ModeNew     AttachMode = "new"
)

func ParseAttachMode(s string) (AttachMode, error) {
	switch AttachMode(s) {
	case ModeReplace, ModeNew:
		return AttachMode(s), nil
	case "":
		return ModeNew, nil
	}
	return "", fmt.Errorf("unknown attach mode %q", s)
}

// AttachWizard collects the target domain of a model upload.
type AttachWizard struct {
	existing []string
	step     WizardStep
	mode     AttachMode
	domain   string
}

func NewAttachWizard(models domain.Models) *AttachWizard {
	return &AttachWizard{existing: models.Domains()}
}

func (w *AttachWizard) Step() WizardStep { return w.step }
func (w *AttachWizard) Mode() AttachMode { return w.mode }
func (w *AttachWizard) Domain() string   { return w.domain }

// Choices lists the domains selectable in replace mode.
func (w *AttachWizard) Choices() []string {
	return append([]string(nil), w.existing...)
}

// Begin goes straight to domain entry when the token has no models yet.
func (w *AttachWizard) Begin() {
	w.domain = ""
	if len(w.existing) == 0 {
		w.mode = ModeNew
		w.step = StepEnterDomain
		return
	}
	w.mode = ""
	w.step = StepChooseMode
}

func (w *AttachWizard) Choose(mode AttachMode) error {
	if w.step != StepChooseMode {
		return fmt.Errorf("%w: choose mode during %s", domain.ErrInvalidWizardStep, w.step)
	}
	if mode != ModeReplace && mode != ModeNew {
		return fmt.Errorf("unknown attach mode %q", mode)
	}
	w.mode = mode
	w.step = StepEnterDomain
	return nil
}

// SetDomain accepts only existing domains in replace mode and any non-empty name in new mode.
func (w *AttachWizard) SetDomain(name string) error {
	if w.step != StepEnterDomain && w.step != StepReady {
		return fmt.Errorf("%w: set domain during %s", domain.ErrInvalidWizardStep, w.step)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ErrInvalidDomain
	}
	if w.mode == ModeReplace && !contains(w.existing, name) {
		return fmt.Errorf("%w: %q is not an attached domain", domain.ErrInvalidDomain, name)
	}
	w.domain = name
	w.step = StepReady
	return nil
}

// Reset returns to idle, as when the upload dialog closes.
func (w *AttachWizard) Reset() {
	w.step = StepIdle
	w.mode = ""
	w.domain = ""
}

// ResolveTarget runs the wizard in one go for callers that already know mode and domain.
func ResolveTarget(models domain.Models, mode AttachMode, name string) (string, error) {
	w := NewAttachWizard(models)
	w.Begin()
	if w.Step() == StepChooseMode {
		if err := w.Choose(mode); err != nil {
			return "", err
		}
	}
	if err := w.SetDomain(name); err != nil {
		return "", err
	}
	return w.Domain(), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
