// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianPulse/pkg/extensions"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockAuthProvider struct {
	authInfo *extensions.AuthInfo
	err      error
}

func (m *mockAuthProvider) Validate(_ context.Context, _ string) (*extensions.AuthInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.authInfo, nil
}

func serve(router *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer abc123", "abc123"},
		{"missing", "", ""},
		{"no bearer prefix", "abc123", ""},
		{"basic auth", "Basic abc123", ""},
		{"empty bearer", "Bearer ", ""},
		{"only bearer", "Bearer", ""},
		{"lowercase", "bearer abc123", "abc123"},
		{"mixed case", "BeArEr abc123", "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}

// =============================================================================
// AuthMiddleware Tests
// =============================================================================

func TestAuthMiddleware_Success(t *testing.T) {
	provider := &mockAuthProvider{authInfo: &extensions.AuthInfo{
		UserID:  "user-123",
		AgentID: "ops_agent_7",
		Roles:   []string{"operator"},
	}}

	router := gin.New()
	router.Use(AuthMiddleware(provider))
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"agent_id": AgentID(c)})
	})

	w := serve(router, "GET", "/test", map[string]string{"Authorization": "Bearer valid-token"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"agent_id":"ops_agent_7"}`, w.Body.String())
}

func TestAuthMiddleware_Failures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		body string
	}{
		{"unauthorized", extensions.ErrUnauthorized, `{"error":"unauthorized"}`},
		{"wrapped unauthorized", errors.Join(errors.New("bad"), extensions.ErrUnauthorized), `{"error":"unauthorized"}`},
		{"provider error", errors.New("network error"), `{"error":"authentication failed"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(AuthMiddleware(&mockAuthProvider{err: tt.err}))
			router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := serve(router, "GET", "/test", map[string]string{"Authorization": "Bearer x"})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, tt.body, w.Body.String())
		})
	}
}

func TestAuthMiddleware_NopProvider(t *testing.T) {
	router := gin.New()
	router.Use(AuthMiddleware(&extensions.NopAuthProvider{}))
	router.GET("/test", func(c *gin.Context) {
		authInfo := GetAuthInfo(c)
		require.NotNil(t, authInfo)
		assert.Equal(t, "local-user", authInfo.UserID)
		assert.Equal(t, extensions.DefaultAPIAgentID, AgentID(c))
		c.Status(http.StatusOK)
	})

	w := serve(router, "GET", "/test", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_TokenProvider(t *testing.T) {
	provider, err := extensions.NewTokenAuthProvider([]byte("s3cret"))
	require.NoError(t, err)
	defer provider.Destroy()

	router := gin.New()
	router.Use(AuthMiddleware(provider))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusUnauthorized, serve(router, "GET", "/test", nil).Code)
	assert.Equal(t, http.StatusUnauthorized,
		serve(router, "GET", "/test", map[string]string{"Authorization": "Bearer nope"}).Code)
	assert.Equal(t, http.StatusOK,
		serve(router, "GET", "/test", map[string]string{"Authorization": "Bearer s3cret"}).Code)
}

// =============================================================================
// Context Helper Tests
// =============================================================================

func TestSetAndGetAuthInfo(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	expected := &extensions.AuthInfo{UserID: "test-user", Roles: []string{"viewer"}}
	SetAuthInfo(c, expected)

	actual := GetAuthInfo(c)
	require.NotNil(t, actual)
	assert.Equal(t, expected, actual)
	assert.Equal(t, extensions.DefaultAPIAgentID, AgentID(c))
}

func TestGetAuthInfo_NotSetOrWrongType(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetAuthInfo(c))

	c.Set(authInfoKey, "not an AuthInfo")
	assert.Nil(t, GetAuthInfo(c))
}

// =============================================================================
// CORS Tests
// =============================================================================

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, Origins{"http://a.example", "https://b.example"},
		ParseOrigins(" http://a.example/, ,https://b.example "))
	assert.Nil(t, ParseOrigins(""))
}

func TestOrigins_Allowed(t *testing.T) {
	o := Origins{"http://ui.local:3000"}
	assert.True(t, o.Allowed(""))
	assert.True(t, o.Allowed("http://ui.local:3000"))
	assert.True(t, o.Allowed("http://ui.local:3000/"))
	assert.False(t, o.Allowed("http://evil.example"))
	assert.True(t, Origins{"*"}.Allowed("http://evil.example"))
	assert.True(t, Origins(nil).Allowed("http://any.example"))
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(CORS(Origins{"http://ui.local"}))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(router, "GET", "/x", map[string]string{"Origin": "http://ui.local"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://ui.local", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(router, "GET", "/x", map[string]string{"Origin": "http://evil.example"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(router, "OPTIONS", "/x", map[string]string{"Origin": "http://ui.local"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")

	w = serve(router, "OPTIONS", "/x", map[string]string{"Origin": "http://evil.example"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
