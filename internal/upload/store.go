package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ipfs/boxo/files"
	shell "github.com/ipfs/go-ipfs-api"

	"github.com/megayours/pfp-inventory/internal/account"
	"github.com/megayours/pfp-inventory/internal/chain"
	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/inventory"
)

// DefaultChunkSize is the payload of one filehub chunk transaction.
const DefaultChunkSize = 1 << 20

const (
	OpStoreChunk = "filehub.store_chunk"
	OpStoreFile  = "filehub.store_file"
)

// Sender submits operations through an authenticated session.
type Sender interface {
	Send(ctx context.Context, auth account.Authenticator, ops ...chain.Operation) (chain.Receipt, error)
}

// Events report the progress of a store. Either callback may be nil.
type Events struct {
	OnProgress   func(percent int)
	OnFileStored func(hash string)
}

func (e Events) progress(p int) {
	if e.OnProgress != nil {
		e.OnProgress(p)
	}
}

func (e Events) stored(hash string) {
	if e.OnFileStored != nil {
		e.OnFileStored(hash)
	}
}

type StoredFile struct {
	Hash string `json:"hash"`
	URL  string `json:"url"`
	Size int    `json:"size"`
}

type FileStore interface {
	Store(ctx context.Context, session Sender, data []byte, contentType string, ev Events) (StoredFile, error)
}

// ModelURL is where the gateway serves a stored file.
func ModelURL(gateway, hash string) string {
	return strings.TrimRight(gateway, "/") + "/" + hash
}

// ValidateModelFile checks the file extension against the allowed list, case-insensitively.
func ValidateModelFile(name string, allowed []string) error {
	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range allowed {
		if ext != "" && ext == strings.ToLower(a) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (allowed: %s)", domain.ErrInvalidFileType, name, strings.Join(allowed, ", "))
}

// Filehub stores files on the hub chain in fixed-size chunks, one transaction each.
type Filehub struct {
	gateway   string
	chunkSize int
}

func NewFilehub(gateway string, chunkSize int) *Filehub {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Filehub{gateway: gateway, chunkSize: chunkSize}
}

func (f *Filehub) Store(ctx context.Context, session Sender, data []byte, contentType string, ev Events) (StoredFile, error) {
	if session == nil {
		return StoredFile{}, domain.ErrNoSession
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	chunks := (len(data) + f.chunkSize - 1) / f.chunkSize
	for i := 0; i < chunks; i++ {
		end := min((i+1)*f.chunkSize, len(data))
		chunk := domain.HexBytes(data[i*f.chunkSize : end])
		if _, err := session.Send(ctx, account.AuthSession, chain.Op(OpStoreChunk, hash, i, chunk)); err != nil {
			return StoredFile{}, fmt.Errorf("store chunk %d/%d: %w", i+1, chunks, err)
		}
		ev.progress((i + 1) * 100 / chunks)
	}
	if _, err := session.Send(ctx, account.AuthSession, chain.Op(OpStoreFile, hash, chunks, contentType)); err != nil {
		return StoredFile{}, fmt.Errorf("store file: %w", err)
	}
	ev.stored(hash)
	return StoredFile{Hash: hash, URL: ModelURL(f.gateway, hash), Size: len(data)}, nil
}

// IPFS adds and pins files through a kubo API node.
type IPFS struct {
	sh *shell.Shell
}

func NewIPFS(apiURL string) *IPFS {
	return &IPFS{sh: shell.NewShell(apiURL)}
}

func (s *IPFS) Store(ctx context.Context, _ Sender, data []byte, _ string, ev Events) (StoredFile, error) {
	r := &countingReader{r: bytes.NewReader(data), total: len(data), onProgress: ev.progress}
	dir := files.NewSliceDirectory([]files.DirEntry{files.FileEntry("", files.NewReaderFile(r))})

	// Built by hand instead of shell.Add so ctx reaches the request.
	var out struct{ Hash string }
	err := s.sh.Request("add").
		Option("pin", true).
		Body(files.NewMultiFileReader(dir, true, false)).
		Exec(ctx, &out)
	if err != nil {
		return StoredFile{}, fmt.Errorf("add file to ipfs: %w", err)
	}
	cid := out.Hash
	ev.progress(100)
	ev.stored(cid)
	return StoredFile{Hash: cid, URL: inventory.ConvertIPFSToGatewayURL("ipfs://" + cid), Size: len(data)}, nil
}

type countingReader struct {
	r          io.Reader
	read       int
	total      int
	onProgress func(int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	if c.total > 0 && n > 0 {
		// 100 is reported once the node has answered.
		c.onProgress(min(c.read*100/c.total, 99))
	}
	return n, err
}
