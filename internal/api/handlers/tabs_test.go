package handlers_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megayours/pfp-inventory/internal/api/handlers"
	"github.com/megayours/pfp-inventory/internal/domain"
	"github.com/megayours/pfp-inventory/internal/testutil"
)

func TestTabHandler_Open(t *testing.T) {
	ts := testutil.NewTestServer(t)

	resp, err := http.Post(ts.APIURL("/tabs"), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	testutil.AssertStatusCode(t, resp, http.StatusOK)
	var opened handlers.OpenTabResponse
	testutil.AssertJSONResponse(t, resp, &opened)
	assert.NotEmpty(t, opened.TabID)
	assert.NotEmpty(t, opened.Token)
	assert.True(t, opened.ExpiresAt.After(time.Now()))

	me := ts.Do(t, http.MethodGet, "/tabs/me", nil, opened.Token)
	defer me.Body.Close()
	testutil.AssertStatusCode(t, me, http.StatusOK)

	var tab handlers.TabResponse
	testutil.AssertJSONResponse(t, me, &tab)
	assert.Equal(t, opened.TabID, tab.TabID)
	assert.Empty(t, tab.Auth.Wallet)
	assert.Equal(t, domain.AuthStatusDisconnected, tab.Auth.Primary.Status)
	assert.Equal(t, domain.AuthStatusDisconnected, tab.Auth.Hub.Status)
	testutil.AssertSessionInvariant(t, tab.Auth.Primary)
	testutil.AssertSessionInvariant(t, tab.Auth.Hub)
	assert.Equal(t, domain.UploadProgress{}, tab.Upload)
}

func TestTabAuth_RejectsMissingOrBadTokens(t *testing.T) {
	ts := testutil.NewTestServer(t)
	_, token := ts.OpenTab(t)

	tests := []struct {
		name           string
		method         string
		path           string
		token          string
		expectedStatus int
	}{
		{name: "no token on tabs/me", method: http.MethodGet, path: "/tabs/me", expectedStatus: http.StatusUnauthorized},
		{name: "garbage token", method: http.MethodGet, path: "/tabs/me", token: "not-a-jwt", expectedStatus: http.StatusUnauthorized},
		{name: "tampered token", method: http.MethodGet, path: "/auth", token: token + "x", expectedStatus: http.StatusUnauthorized},
		{name: "no token on tokens", method: http.MethodGet, path: "/tokens", expectedStatus: http.StatusUnauthorized},
		{name: "no token on wallet connect", method: http.MethodPost, path: "/wallet/connect", expectedStatus: http.StatusUnauthorized},
		{name: "valid token", method: http.MethodGet, path: "/tabs/me", token: token, expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.Do(t, tt.method, tt.path, nil, tt.token)
			defer resp.Body.Close()
			testutil.AssertStatusCode(t, resp, tt.expectedStatus)
		})
	}
}

func TestTabHandler_Close(t *testing.T) {
	ts := testutil.NewTestServer(t)
	tabID, token := ts.OpenTab(t)

	resp := ts.Do(t, http.MethodDelete, "/tabs/me", nil, token)
	resp.Body.Close()
	testutil.AssertStatusCode(t, resp, http.StatusNoContent)

	_, ok := ts.Services.Tabs.Lookup(tabID)
	assert.False(t, ok, "closed tab should be forgotten")

	var rows int64
	require.NoError(t, ts.DB.DB.Model(&domain.Tab{}).Where("id = ?", tabID).Count(&rows).Error)
	assert.Zero(t, rows)

	// The token is still well formed but names a tab that is gone.
	again := ts.Do(t, http.MethodGet, "/tabs/me", nil, token)
	defer again.Body.Close()
	testutil.AssertStatusCode(t, again, http.StatusUnauthorized)
}

func TestWebSocket_PushesAuthStatus(t *testing.T) {
	ts := testutil.NewTestServer(t)
	wt := ts.OpenWalletTab(t)

	// Wallet connect pushes loading, then the resolved state.
	var snap struct {
		Wallet  string `json:"wallet"`
		Primary struct {
			Status  domain.AuthStatus `json:"status"`
			Loading bool              `json:"loading"`
		} `json:"primary"`
	}
	wt.WS.ExpectMatching("auth_status", func(payload json.RawMessage) bool {
		return json.Unmarshal(payload, &snap) == nil && snap.Wallet != "" && !snap.Primary.Loading
	}, 2*time.Second)
	assert.Equal(t, wt.Wallet.Address(), snap.Wallet)
	assert.Equal(t, domain.AuthStatusDisconnected, snap.Primary.Status)
}

func TestWebSocket_RejectsBadToken(t *testing.T) {
	ts := testutil.NewTestServer(t)

	resp, err := http.Get(ts.BaseURL() + "/api/v1/ws?token=bogus")
	require.NoError(t, err)
	defer resp.Body.Close()
	testutil.AssertStatusCode(t, resp, http.StatusUnauthorized)
}
