package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/wallet"
)

// TabBuilder creates tab rows with a builder pattern
type TabBuilder struct {
	userAgent string
	lastSeen  time.Time
}

// NewTabBuilder creates a new TabBuilder with default values
func NewTabBuilder() *TabBuilder {
	return &TabBuilder{
		userAgent: fmt.Sprintf("test-agent/%s", uuid.New().String()[:8]),
		lastSeen:  time.Now(),
	}
}

func (b *TabBuilder) WithUserAgent(ua string) *TabBuilder {
	b.userAgent = ua
	return b
}

func (b *TabBuilder) WithLastSeen(at time.Time) *TabBuilder {
	b.lastSeen = at
	return b
}

// Build creates the tab in the database
func (b *TabBuilder) Build(t *testing.T, db *gorm.DB) *domain.Tab {
	t.Helper()

	tab := &domain.Tab{
		ID:         uuid.New(),
		UserAgent:  b.userAgent,
		CreatedAt:  b.lastSeen,
		LastSeenAt: b.lastSeen,
	}
	if err := db.Create(tab).Error; err != nil {
		t.Fatalf("failed to create tab: %v", err)
	}
	return tab
}

// OpenTabResponse matches the API response of POST /tabs
type OpenTabResponse struct {
	TabID     string    `json:"tabId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// OpenTab opens a tab through the API and returns its id and token.
func (ts *TestServer) OpenTab(t *testing.T) (uuid.UUID, string) {
	t.Helper()

	resp, err := http.Post(ts.APIURL("/tabs"), "application/json", nil)
	if err != nil {
		t.Fatalf("failed to open tab: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code: %d", resp.StatusCode)
	}

	var opened OpenTabResponse
	if err := json.NewDecoder(resp.Body).Decode(&opened); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	id, err := uuid.Parse(opened.TabID)
	if err != nil {
		t.Fatalf("invalid tab id %q: %v", opened.TabID, err)
	}
	return id, opened.Token
}

// WalletTab is an open tab whose WebSocket plays the wallet.
type WalletTab struct {
	ID     uuid.UUID
	Token  string
	Wallet *wallet.LocalSigner
	WS     *WSClient
}

// OpenWalletTab opens a tab, connects its WebSocket with a fresh local wallet and
// connects that wallet through the API.
func (ts *TestServer) OpenWalletTab(t *testing.T) *WalletTab {
	t.Helper()

	signer, err := wallet.GenerateLocalSigner()
	if err != nil {
		t.Fatalf("failed to generate wallet: %v", err)
	}
	return ts.OpenTabWithWallet(t, signer)
}

func (ts *TestServer) OpenTabWithWallet(t *testing.T, signer *wallet.LocalSigner) *WalletTab {
	t.Helper()

	id, token := ts.OpenTab(t)
	ws := NewWSClient(t, ts.WebSocketURL(token)).SignWith(signer)
	ws.ExpectMessage("auth_status", 2*time.Second)

	resp := ts.Do(t, http.MethodPost, "/wallet/connect", map[string]string{"address": signer.Address()}, token)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("wallet connect returned %d", resp.StatusCode)
	}
	return &WalletTab{ID: id, Token: token, Wallet: signer, WS: ws}
}

// Do sends an API request with an optional JSON body and tab token.
func (ts *TestServer) Do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()

	req := CreateAuthenticatedRequest(t, method, ts.APIURL(path), body, token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// CreateAuthenticatedRequest creates an HTTP request with auth token
func CreateAuthenticatedRequest(t *testing.T, method, url string, body interface{}, token string) *http.Request {
	t.Helper()

	var bodyReader *bytes.Buffer
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	} else {
		bodyReader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

// UploadModel posts a model file for a token as the upload dialog does.
func (ts *TestServer) UploadModel(t *testing.T, token, uid, fileName string, data []byte, fields map[string]string) *http.Response {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field %s: %v", k, err)
		}
	}
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	part.Write(data)
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, ts.APIURL("/tokens/"+uid+"/models"), &body)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	return resp
}
