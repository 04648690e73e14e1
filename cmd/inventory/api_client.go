package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/megayours/pfp-inventory/internal/api/handlers"
	"github.com/megayours/pfp-inventory/internal/auth"
	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/service"
	"github.com/megayours/pfp-inventory/internal/upload"
)

// APIClient handles HTTP communication with the gateway
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAPIClient creates a new API client. Chain connects wait on the wallet, so the
// timeout is generous.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v1",
		token:   token,
		httpClient: &http.Client{
			Timeout: 3 * time.Minute,
		},
	}
}

// APIError is a non-2xx answer of the gateway.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

func (c *APIClient) OpenTab() (*handlers.OpenTabResponse, error) {
	var out handlers.OpenTabResponse
	if err := c.do(http.MethodPost, "/tabs", nil, &out); err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &out, nil
}

func (c *APIClient) Me() (*handlers.TabResponse, error) {
	var out handlers.TabResponse
	if err := c.do(http.MethodGet, "/tabs/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) CloseTab() error {
	return c.do(http.MethodDelete, "/tabs/me", nil, nil)
}

func (c *APIClient) ConnectWallet(address string) (*service.AuthSnapshot, error) {
	var out service.AuthSnapshot
	if err := c.do(http.MethodPost, "/wallet/connect", handlers.ConnectWalletRequest{Address: address}, &out); err != nil {
		return nil, fmt.Errorf("connect wallet: %w", err)
	}
	return &out, nil
}

// ChainAction posts connect, register or disconnect for one chain.
func (c *APIClient) ChainAction(chain domain.ChainName, action string) (*auth.State, error) {
	var out auth.State
	if err := c.do(http.MethodPost, "/auth/"+string(chain)+"/"+action, nil, &out); err != nil {
		return nil, fmt.Errorf("%s %s: %w", action, chain, err)
	}
	return &out, nil
}

func (c *APIClient) Logout() (*service.AuthSnapshot, error) {
	var out service.AuthSnapshot
	if err := c.do(http.MethodPost, "/auth/logout", nil, &out); err != nil {
		return nil, fmt.Errorf("logout: %w", err)
	}
	return &out, nil
}

func (c *APIClient) Tokens() ([]handlers.TokenResponse, error) {
	var out []handlers.TokenResponse
	if err := c.do(http.MethodGet, "/tokens", nil, &out); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return out, nil
}

// Equipped returns nil when no token is equipped.
func (c *APIClient) Equipped() (*handlers.TokenResponse, error) {
	var out *handlers.TokenResponse
	if err := c.do(http.MethodGet, "/tokens/equipped", nil, &out); err != nil {
		return nil, fmt.Errorf("equipped token: %w", err)
	}
	return out, nil
}

func (c *APIClient) Items(kind, slot string) ([]domain.Item, error) {
	path := "/items/" + kind
	if slot != "" {
		path += "?slot=" + slot
	}
	var out []domain.Item
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return out, nil
}

// UploadModel sends a model file for a token as multipart form data.
func (c *APIClient) UploadModel(uid, path, modelDomain, mode string) (*upload.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("domain", modelDomain)
	if mode != "" {
		mw.WriteField("mode", mode)
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/tokens/"+uid+"/models", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	var out upload.Result
	if err := c.send(req, &out); err != nil {
		return nil, fmt.Errorf("upload model: %w", err)
	}
	return &out, nil
}

func (c *APIClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *APIClient) do(method, path string, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.send(req, out)
}

func (c *APIClient) send(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
