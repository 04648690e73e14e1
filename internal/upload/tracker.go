package upload

import (
	"sync"

	"github.com/megayours/pfp-inventory/internal/domain"
)

// Tracker is the single progress record of a tab. A new upload overwrites whatever
// the previous one left behind.
type Tracker struct {
	mu        sync.Mutex
	progress  domain.UploadProgress
	observers []func(domain.UploadProgress)
}

func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) OnChange(fn func(domain.UploadProgress)) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

func (t *Tracker) Snapshot() domain.UploadProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

func (t *Tracker) Start(fileName string) {
	t.set(func(p *domain.UploadProgress) {
		*p = domain.UploadProgress{FileName: fileName, Status: domain.UploadPreparing}
	})
}

// Advance moves to uploading and raises the percentage. Lower values are ignored.
func (t *Tracker) Advance(percent int) {
	if percent > 100 {
		percent = 100
	}
	t.set(func(p *domain.UploadProgress) {
		if p.Status == domain.UploadComplete {
			return
		}
		p.Status = domain.UploadUploading
		if percent > p.Progress {
			p.Progress = percent
		}
	})
}

func (t *Tracker) Stored(fileHash string) {
	t.set(func(p *domain.UploadProgress) {
		p.FileHash = fileHash
		p.Progress = 100
		p.IsComplete = true
		p.Status = domain.UploadComplete
	})
}

// Fail resets the record to zero progress, dropping file name and hash.
func (t *Tracker) Fail() {
	t.set(func(p *domain.UploadProgress) { *p = domain.UploadProgress{} })
}

func (t *Tracker) Reset() {
	t.set(func(p *domain.UploadProgress) { *p = domain.UploadProgress{} })
}

func (t *Tracker) set(fn func(*domain.UploadProgress)) {
	t.mu.Lock()
	before := t.progress
	fn(&t.progress)
	after := t.progress
	observers := append([]func(domain.UploadProgress){}, t.observers...)
	t.mu.Unlock()
	if before == after {
		return
	}
	for _, o := range observers {
		o(after)
	}
}
