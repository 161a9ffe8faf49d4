package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"mabletask/tracker/models"
	"mabletask/tracker/store"
	"mabletask/tracker/utils"
)

// SiteRepository is the site persistence the auth handlers need.
type SiteRepository interface {
	CreateSite(ctx context.Context, domain string, hashedSecret []byte) (*models.Site, error)
	GetSiteByDomain(ctx context.Context, domain string) (*models.Site, error)
}

type AuthHandlers struct {
	Sites     SiteRepository
	JWTSecret []byte
	Now       func() time.Time
}

func NewAuthHandlers(sites SiteRepository, jwtSecret []byte) *AuthHandlers {
	return &AuthHandlers{Sites: sites, JWTSecret: jwtSecret, Now: time.Now}
}

// Register adds a storefront domain with the secret its operator logs in with.
func (h *AuthHandlers) Register(c *gin.Context) {
	var req models.RegisterSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Secret), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("ERROR: Failed to hash secret for %s: %v", req.Domain, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process secret"})
		return
	}

	site, err := h.Sites.CreateSite(c.Request.Context(), req.Domain, hashed)
	if err != nil {
		if errors.Is(err, store.ErrSiteExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "Site with this domain already exists"})
			return
		}
		log.Printf("ERROR: Failed to create site %s: %v", req.Domain, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register site"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "Site registered successfully", "site_id": site.ID, "domain": site.Domain})
}

// Login checks a site's secret and issues the token its tracker ships with.
// The token is returned in the body and also set as a cookie for the
// dashboard.
func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	site, err := h.Sites.GetSiteByDomain(c.Request.Context(), req.Domain)
	if err != nil {
		if !errors.Is(err, store.ErrSiteNotFound) {
			log.Printf("ERROR: Site lookup failed for %s: %v", req.Domain, err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword(site.HashedSecret, []byte(req.Secret)); err != nil {
		log.Printf("Login failed for %s: secret mismatch", req.Domain)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := utils.GenerateJWT(site, h.JWTSecret, h.Now())
	if err != nil {
		log.Printf("ERROR: Failed to generate JWT for site %d: %v", site.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate authentication token"})
		return
	}

	c.SetCookie("jwt_token", token, int(24*time.Hour/time.Second), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful",
		"site_id": site.ID,
		"token":   token,
	})
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	c.SetCookie("jwt_token", "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}
