package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tyrowin/lobbychat/internal/domain"
)

func requestWithOrigin(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestOriginPolicy(t *testing.T) {
	policy := NewOriginPolicy([]string{" http://localhost:8080 ", "HTTPS://Chat.Example.com", "bogus", ""})

	cases := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:8080", true},
		{"http://LOCALHOST:8080", true},
		{"https://chat.example.com", true},
		{"http://chat.example.com", false},
		{"http://localhost:9090", false},
		{"bogus", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, policy.Allowed(requestWithOrigin(tc.origin)), "origin %q", tc.origin)
	}
}

func TestOriginPolicy_Wildcard(t *testing.T) {
	policy := NewOriginPolicy([]string{"*"})

	assert.True(t, policy.CheckOrigin(requestWithOrigin("https://anything.example")))
	assert.False(t, policy.CheckOrigin(requestWithOrigin("")), "missing origin is refused even with *")
	assert.False(t, policy.CheckOrigin(requestWithOrigin("::not a url")))
}

func TestOriginPolicy_Empty(t *testing.T) {
	policy := NewOriginPolicy(nil)
	assert.False(t, policy.Allowed(requestWithOrigin("http://localhost:8080")))
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer   abc  ", "abc", true},
		{"Bearer ", "", false},
		{"Bearer", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		token, ok := bearerToken(tc.header)
		assert.Equal(t, tc.ok, ok, "header %q", tc.header)
		assert.Equal(t, tc.token, token, "header %q", tc.header)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("wrap: %w", domain.ErrInvalid), http.StatusBadRequest, CodeBadRequest},
		{domain.ErrConflict, http.StatusConflict, CodeConflict},
		{domain.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{domain.ErrUnauthorized, http.StatusUnauthorized, CodeUnauthorized},
		{domain.ErrTimeout, http.StatusGatewayTimeout, CodeTimeout},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		assert.Equal(t, tc.status, status, "%v", tc.err)
		assert.Equal(t, tc.code, code, "%v", tc.err)
	}
}
