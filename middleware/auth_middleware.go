package middleware

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"mabletask/tracker/utils"
)

const (
	SiteIDKey     = "site_id"
	SiteDomainKey = "site_domain"
)

// AuthRequired accepts a site JWT from the jwt_token cookie or a bearer
// header. A request carrying the service API key instead must name its site
// in X-Site-ID.
func AuthRequired(jwtSecret []byte, apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-API-KEY"); apiKey != "" && key != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				log.Println("AuthRequired: invalid API key")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API key"})
				return
			}
			siteID, err := strconv.Atoi(c.GetHeader("X-Site-ID"))
			if err != nil || siteID <= 0 {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "X-Site-ID header required with API key"})
				return
			}
			c.Set(SiteIDKey, siteID)
			c.Next()
			return
		}

		tokenString, err := c.Cookie("jwt_token")
		if err != nil || tokenString == "" {
			tokenString = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
			if tokenString == "" {
				log.Println("AuthRequired: No JWT token found in cookie or header")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
				return
			}
		}
		claims, err := utils.ValidateJWT(tokenString, jwtSecret)
		if err != nil {
			log.Printf("AuthRequired: Invalid JWT token: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set(SiteIDKey, claims.SiteID)
		c.Set(SiteDomainKey, claims.Domain)
		c.Next()
	}
}
