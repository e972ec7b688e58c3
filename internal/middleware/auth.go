package middleware

import (
	"net/http"
	"strings"

	"flavorfleet/config"
	"flavorfleet/internal/auth"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID = "user_id"
	ctxEmail  = "email"
	ctxRole   = "role"
)

// tokenSource extracts the raw token, or returns a client-facing reason it is missing.
type tokenSource func(c *gin.Context) (token, problem string)

func bearerToken(c *gin.Context) (string, string) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", "invalid authorization format"
	}
	return token, ""
}

// queryToken prefers the token query parameter and falls back to the bearer header.
func queryToken(c *gin.Context) (string, string) {
	if token := c.Query("token"); token != "" {
		return token, ""
	}
	if c.GetHeader("Authorization") != "" {
		return bearerToken(c)
	}
	return "", "token required"
}

func authenticate(cfg *config.JWTConfig, source tokenSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, problem := source(c)
		if problem != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": problem})
			return
		}
		claims, err := auth.ParseAccessToken(cfg, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxEmail, claims.Email)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// AuthRequired authenticates with an "Authorization: Bearer" access token.
func AuthRequired(cfg *config.JWTConfig) gin.HandlerFunc {
	return authenticate(cfg, bearerToken)
}

// StreamAuthRequired authenticates with the token query parameter, since EventSource and
// browser WebSocket clients cannot set headers.
func StreamAuthRequired(cfg *config.JWTConfig) gin.HandlerFunc {
	return authenticate(cfg, queryToken)
}

// GetUserID returns the authenticated user ID, or 0 outside an authenticated route.
func GetUserID(c *gin.Context) uint {
	id, _ := c.Get(ctxUserID)
	v, _ := id.(uint)
	return v
}

// GetRole returns the authenticated user's role.
func GetRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}
