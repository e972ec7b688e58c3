package middleware

import (
	"net/http"

	"flavorfleet/internal/domain"

	"github.com/gin-gonic/gin"
)

// AdminRequired lets only ADMIN accounts through. Use after AuthRequired.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != domain.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}
