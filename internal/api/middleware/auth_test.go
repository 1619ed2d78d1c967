package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthRequiredSetsTenantContext(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var tenant string
	var isolated, admin bool
	r := gin.New()
	r.GET("/", AuthRequired("s3cret"), func(c *gin.Context) {
		tenant = TenantID(c)
		isolated = Isolated(c)
		admin = c.GetBool(keyAdmin)
		c.Status(http.StatusOK)
	})

	sign := func(method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := sign(jwt.SigningMethodHS256, []byte("s3cret"), Claims{
		Isolated:         true,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "acme"},
	})
	expired := sign(jwt.SigningMethodHS256, []byte("s3cret"), Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "acme", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	})
	otherAlg := sign(jwt.SigningMethodHS512, []byte("s3cret"), Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "acme"},
	})

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong algorithm", "Bearer " + otherAlg, http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
		})
	}

	assert.Equal(t, "acme", tenant)
	assert.True(t, isolated)
	assert.False(t, admin)
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
