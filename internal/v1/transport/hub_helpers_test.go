package transport

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devansh6012/code-collab/internal/v1/auth"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGinContext(t *testing.T, target string, header http.Header) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, vals := range header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	c.Request = req
	return c
}

// acceptOnly returns a validator that accepts exactly one token string.
func acceptOnly(valid string) *MockTokenValidator {
	return &MockTokenValidator{
		ValidateTokenFunc: func(tokenString string) (*auth.CustomClaims, error) {
			if tokenString != valid {
				return nil, errors.New("invalid token")
			}
			claims := &auth.CustomClaims{Name: "Test User"}
			claims.Subject = "test-user"
			return claims, nil
		},
	}
}

func TestExtractToken_FromSubprotocolHeader(t *testing.T) {
	h := NewHub(acceptOnly("good-token"), NewMockDocumentStore(), &MockEphemeralStore{}, nil, HubOptions{})
	c := newGinContext(t, "/ws/collab", http.Header{
		"Sec-Websocket-Protocol": []string{"access_token, good-token"},
	})

	result, err := h.extractToken(c)
	require.NoError(t, err)
	assert.Equal(t, "good-token", result.Token)
	assert.True(t, result.FromHeader)
	assert.True(t, result.HasAccessTokenProtocol)
}

func TestExtractToken_InvalidHeaderTokenFallsBackToQuery(t *testing.T) {
	h := NewHub(acceptOnly("good-token"), NewMockDocumentStore(), &MockEphemeralStore{}, nil, HubOptions{})
	c := newGinContext(t, "/ws/collab?token=query-token", http.Header{
		"Sec-Websocket-Protocol": []string{"access_token, junk"},
	})

	result, err := h.extractToken(c)
	require.NoError(t, err)
	assert.Equal(t, "query-token", result.Token)
	assert.False(t, result.FromHeader)
}

func TestExtractToken_QueryParameterOnly(t *testing.T) {
	h := NewHub(acceptOnly("good-token"), NewMockDocumentStore(), &MockEphemeralStore{}, nil, HubOptions{})
	c := newGinContext(t, "/ws/collab?token=query-token", nil)

	result, err := h.extractToken(c)
	require.NoError(t, err)
	assert.Equal(t, "query-token", result.Token)
	assert.False(t, result.FromHeader)
}

func TestExtractToken_MissingToken(t *testing.T) {
	h := NewHub(acceptOnly("good-token"), NewMockDocumentStore(), &MockEphemeralStore{}, nil, HubOptions{})
	c := newGinContext(t, "/ws/collab", nil)

	_, err := h.extractToken(c)
	assert.Error(t, err)
}

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"http://localhost:3000", "https://app.example.com"}

	tests := []struct {
		name    string
		origin  string
		wantErr bool
	}{
		{"no origin header allows non-browser clients", "", false},
		{"allowed origin", "http://localhost:3000", false},
		{"second allowed origin", "https://app.example.com", false},
		{"different host rejected", "http://evil.example.com", true},
		{"different port rejected", "http://localhost:9999", true},
		{"scheme mismatch rejected", "http://app.example.com", true},
		{"unparseable origin rejected", "http://[::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/collab", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			err := validateOrigin(req, allowed)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAuthenticateUser(t *testing.T) {
	h := NewHub(acceptOnly("good-token"), NewMockDocumentStore(), &MockEphemeralStore{}, nil, HubOptions{})

	claims, err := h.authenticateUser("good-token")
	require.NoError(t, err)
	assert.Equal(t, "test-user", claims.Subject)

	_, err = h.authenticateUser("junk")
	assert.Error(t, err)
}
