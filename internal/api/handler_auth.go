package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"farm-dashboard-backend/internal/auth"
	"farm-dashboard-backend/internal/mw"
)

// IdentityRelayHeader carries the shared secret of the identity provider relay.
const IdentityRelayHeader = "X-Identity-Relay-Secret"

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) setSessionCookie(c *gin.Context, signIn *auth.SignIn) {
	maxAge := int(h.cfg.Auth.SessionTTL.Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(mw.SessionCookie, signIn.Token, maxAge, "/", "", c.Request.TLS != nil, true)
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}
	signIn, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.setSessionCookie(c, signIn)
	c.JSON(http.StatusOK, signIn)
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name"`
	Password string `json:"password" binding:"required"`
	Token    string `json:"token" binding:"required"`
}

// Register handles POST /api/auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email, password and token are required")
		return
	}
	signIn, err := h.auth.Register(c.Request.Context(), auth.RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Token:    req.Token,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.setSessionCookie(c, signIn)
	c.JSON(http.StatusCreated, signIn)
}

type externalRequest struct {
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name"`
	Provider string `json:"provider" binding:"required"`
}

// External handles POST /api/auth/external: the identity provider relay
// vouches for an email it has authenticated.
func (h *Handler) External(c *gin.Context) {
	secret := h.cfg.Auth.IdentityRelaySecret
	presented := c.GetHeader(IdentityRelayHeader)
	if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid relay credentials"})
		return
	}

	var req externalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and provider are required")
		return
	}
	signIn, err := h.auth.SignInExternal(c.Request.Context(), req.Email, req.Name, req.Provider)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, signIn)
}

// Me handles GET /api/auth/me.
func (h *Handler) Me(c *gin.Context) {
	s := session(c)
	user, err := h.store.FindUser(c.Request.Context(), s.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie(mw.SessionCookie, "", -1, "/", "", c.Request.TLS != nil, true)
	c.Status(http.StatusNoContent)
}

// VerifyInvite handles GET /api/invites/verify?email=&token=.
func (h *Handler) VerifyInvite(c *gin.Context) {
	email, token := c.Query("email"), c.Query("token")
	if email == "" || token == "" {
		badRequest(c, "email and token are required")
		return
	}
	inv, err := h.invites.Verify(c.Request.Context(), email, token)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "email": inv.Email, "role": inv.Role, "expiresAt": inv.ExpiresAt})
}
