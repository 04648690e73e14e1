package upload_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megayours/pfp-inventory/internal/account"
	"github.com/megayours/pfp-inventory/internal/chain"
	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/inventory"
	"github.com/megayours/pfp-inventory/internal/logging"
	"github.com/megayours/pfp-inventory/internal/query"
	"github.com/megayours/pfp-inventory/internal/upload"
)

type stubStore struct {
	calls int
	err   error
}

func (s *stubStore) Store(_ context.Context, _ upload.Sender, data []byte, _ string, ev upload.Events) (upload.StoredFile, error) {
	s.calls++
	ev.OnProgress(50)
	if s.err != nil {
		return upload.StoredFile{}, s.err
	}
	ev.OnProgress(100)
	ev.OnFileStored("cafe")
	return upload.StoredFile{Hash: "cafe", URL: "https://gw/cafe", Size: len(data)}, nil
}

type primarySession struct {
	recordingSender
	tokens  string
	queries int
}

func (p *primarySession) Query(_ context.Context, _ string, _ map[string]any, out any) error {
	p.queries++
	return json.Unmarshal([]byte(p.tokens), out)
}

func (p *primarySession) Send(ctx context.Context, auth account.Authenticator, ops ...chain.Operation) (chain.Receipt, error) {
	return p.recordingSender.Send(ctx, auth, ops...)
}

func newRequest() (upload.Request, *primarySession) {
	cache := query.New(query.Options{}, query.MetricsHooks{})
	primary := &primarySession{tokens: `[{"uid":"01","name":"One"}]`}
	return upload.Request{
		HubSession:     &recordingSender{},
		PrimarySession: primary,
		Tracker:        upload.NewTracker(),
		Inventory:      inventory.NewService(cache, logging.NewNop()),
		TokenUID:       domain.HexBytes{1},
		Domain:         "arena",
		FileName:       "hero.glb",
		ContentType:    "model/gltf-binary",
		Data:           []byte("glTF"),
	}, primary
}

func newUploader(store upload.FileStore) *upload.Uploader {
	return upload.NewUploader(store, []string{".glb", ".fbx"}, logging.NewNop())
}

func TestUploader_Success(t *testing.T) {
	store := &stubStore{}
	req, primary := newRequest()
	accountID := domain.HexBytes{0xaa}
	_, err := req.Inventory.AllTokens(context.Background(), primary, accountID)
	require.NoError(t, err)

	res, err := newUploader(store).Upload(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "https://gw/cafe", res.File.URL)
	assert.Equal(t, domain.UploadProgress{FileHash: "cafe", FileName: "hero.glb", Progress: 100, IsComplete: true, Status: domain.UploadComplete}, req.Tracker.Snapshot())

	require.Len(t, primary.ops, 1)
	assert.Equal(t, []any{domain.HexBytes{1}, "arena", "https://gw/cafe"}, primary.ops[0].Args)
	_, err = req.Inventory.AllTokens(context.Background(), primary, accountID)
	require.NoError(t, err)
	assert.Equal(t, 2, primary.queries, "attaching drops the cached token list")
}

func TestUploader_RejectsBeforeTransfer(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *upload.Request)
		wantErr error
	}{
		{name: "wrong extension", mutate: func(r *upload.Request) { r.FileName = "hero.png" }, wantErr: domain.ErrInvalidFileType},
		{name: "empty file", mutate: func(r *upload.Request) { r.Data = nil }, wantErr: domain.ErrEmptyFile},
		{name: "no hub session", mutate: func(r *upload.Request) { r.HubSession = nil }, wantErr: domain.ErrNoSession},
		{name: "no primary session", mutate: func(r *upload.Request) { r.PrimarySession = nil }, wantErr: domain.ErrNoSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &stubStore{}
			req, primary := newRequest()
			req.Tracker.Start("previous.glb")
			req.Tracker.Advance(30)
			tt.mutate(&req)

			_, err := newUploader(store).Upload(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, store.calls)
			assert.Empty(t, primary.ops)
		})
	}
}

func TestUploader_InvalidTypeResetsProgress(t *testing.T) {
	store := &stubStore{}
	req, _ := newRequest()
	req.Tracker.Start("previous.glb")
	req.Tracker.Advance(30)
	req.FileName = "hero.obj"

	_, err := newUploader(store).Upload(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrInvalidFileType)
	assert.Equal(t, domain.UploadProgress{}, req.Tracker.Snapshot())
}

func TestUploader_FailureResetsProgress(t *testing.T) {
	t.Run("store fails", func(t *testing.T) {
		store := &stubStore{err: errors.New("node down")}
		req, primary := newRequest()

		_, err := newUploader(store).Upload(context.Background(), req)
		require.Error(t, err)
		assert.Equal(t, domain.UploadProgress{Progress: 0, IsComplete: false}, req.Tracker.Snapshot())
		assert.Empty(t, primary.ops)
	})

	t.Run("attach fails", func(t *testing.T) {
		store := &stubStore{}
		req, primary := newRequest()
		primary.fail = map[string]error{inventory.OpAttachModel: chain.ErrTxRejected}

		_, err := newUploader(store).Upload(context.Background(), req)
		require.ErrorIs(t, err, chain.ErrTxRejected)
		assert.Equal(t, domain.UploadProgress{}, req.Tracker.Snapshot())
	})
}
