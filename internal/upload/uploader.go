package upload

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/inventory"
)

// Request is one model upload for a token of a tab.
type Request struct {
	// HubSession stores the file, PrimarySession attaches it to the token.
	HubSession     Sender
	PrimarySession inventory.Session
	Tracker        *Tracker
	Inventory      *inventory.Service

	TokenUID    domain.HexBytes
	Domain      string
	FileName    string
	ContentType string
	Data        []byte
}

type Result struct {
	File   StoredFile `json:"file"`
	Domain string     `json:"domain"`
}

// Uploader stores a model file and attaches it to a token.
type Uploader struct {
	store      FileStore
	extensions []string
	logger     *logrus.Logger
}

func NewUploader(store FileStore, extensions []string, logger *logrus.Logger) *Uploader {
	return &Uploader{store: store, extensions: extensions, logger: logger}
}

// Upload validates before any transfer. Every failure resets the progress record.
func (u *Uploader) Upload(ctx context.Context, req Request) (Result, error) {
	if req.HubSession == nil || req.PrimarySession == nil {
		return Result{}, domain.ErrNoSession
	}
	if err := ValidateModelFile(req.FileName, u.extensions); err != nil {
		req.Tracker.Reset()
		return Result{}, err
	}
	if len(req.Data) == 0 {
		req.Tracker.Reset()
		return Result{}, domain.ErrEmptyFile
	}

	logger := u.logger.WithFields(logrus.Fields{
		"uid":    req.TokenUID.String(),
		"file":   req.FileName,
		"domain": req.Domain,
		"bytes":  len(req.Data),
	})

	req.Tracker.Start(req.FileName)
	stored, err := u.store.Store(ctx, req.HubSession, req.Data, req.ContentType, Events{
		OnProgress:   req.Tracker.Advance,
		OnFileStored: req.Tracker.Stored,
	})
	if err != nil {
		req.Tracker.Fail()
		logger.WithError(err).Warn("Model upload failed")
		return Result{}, fmt.Errorf("upload model: %w", err)
	}

	if err := req.Inventory.AttachModel(ctx, req.PrimarySession, req.TokenUID, req.Domain, stored.URL); err != nil {
		req.Tracker.Fail()
		logger.WithError(err).Warn("Attaching uploaded model failed")
		return Result{}, err
	}

	logger.WithField("hash", stored.Hash).Info("Model uploaded")
	return Result{File: stored, Domain: req.Domain}, nil
}
