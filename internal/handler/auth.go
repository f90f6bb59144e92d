package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"client-portal/internal/auth"
	"client-portal/internal/middleware"
	"client-portal/internal/model"
	"github.com/gin-gonic/gin"
)

const (
	defaultLandingPath = "/dashboard"
	signInPath         = "/login"
)

type AuthHandler struct {
	Service      *auth.Service
	CookieSecure bool
	Logger       *slog.Logger
}

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type otpBody struct {
	Email string `json:"email"`
}

func userJSON(u model.User) gin.H {
	return gin.H{
		"id":        u.ID,
		"email":     u.Email,
		"createdAt": u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, issued auth.Issued) {
	maxAge := int(time.Until(issued.Session.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, issued.Token, maxAge, "/", "", h.CookieSecure, true)
}

func (h *AuthHandler) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", h.CookieSecure, true)
}

func sessionJSON(u model.User, issued auth.Issued) gin.H {
	return gin.H{
		"accessToken": issued.Token,
		"expiresAt":   issued.Session.ExpiresAt.UTC().Format(time.RFC3339),
		"user":        userJSON(u),
	}
}

func (h *AuthHandler) SignUp(c *gin.Context) {
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	user, issued, err := h.Service.SignUp(c.Request.Context(), body.Email, body.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrEmailTaken):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		fail(c, h.Logger, "user", err)
		return
	}

	h.setSessionCookie(c, issued)
	c.JSON(http.StatusCreated, sessionJSON(user, issued))
}

func (h *AuthHandler) SignIn(c *gin.Context) {
	var body credentialsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	user, issued, err := h.Service.SignIn(c.Request.Context(), body.Email, body.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		fail(c, h.Logger, "user", err)
		return
	}

	h.setSessionCookie(c, issued)
	c.JSON(http.StatusOK, sessionJSON(user, issued))
}

func (h *AuthHandler) RequestCode(c *gin.Context) {
	var body otpBody
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.Service.RequestCode(c.Request.Context(), body.Email); err != nil {
		fail(c, h.Logger, "user", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Callback exchanges an authorization code for a session and redirects to
// the requested page, or back to sign-in with the error in the query.
func (h *AuthHandler) Callback(c *gin.Context) {
	_, issued, err := h.Service.Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		msg := auth.ErrInvalidCode.Error()
		if !errors.Is(err, auth.ErrInvalidCode) {
			h.Logger.ErrorContext(c.Request.Context(), "code exchange failed", "error", err)
			msg = msgTryAgain
		}
		c.Redirect(http.StatusSeeOther, signInPath+"?error="+url.QueryEscape(msg))
		return
	}

	h.setSessionCookie(c, issued)
	c.Redirect(http.StatusSeeOther, safeNext(c.Query("next")))
}

// safeNext allows only same-origin absolute paths.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return defaultLandingPath
	}
	for i := 0; i < len(next); i++ {
		if b := next[i]; b <= ' ' || b == 0x7f {
			return defaultLandingPath
		}
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return defaultLandingPath
	}
	return next
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	sess, ok := middleware.SessionFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidToken.Error()})
		return
	}

	issued, err := h.Service.Refresh(c.Request.Context(), sess)
	if err != nil {
		fail(c, h.Logger, "session", err)
		return
	}
	user, err := h.Service.User(c.Request.Context(), issued.Session)
	if err != nil {
		fail(c, h.Logger, "user", err)
		return
	}

	h.setSessionCookie(c, issued)
	c.JSON(http.StatusOK, sessionJSON(user, issued))
}

func (h *AuthHandler) SignOut(c *gin.Context) {
	sess, ok := middleware.SessionFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidToken.Error()})
		return
	}

	if err := h.Service.SignOut(c.Request.Context(), sess); err != nil {
		fail(c, h.Logger, "session", err)
		return
	}
	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AuthHandler) CurrentUser(c *gin.Context) {
	sess, ok := middleware.SessionFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidToken.Error()})
		return
	}

	user, err := h.Service.User(c.Request.Context(), sess)
	if err != nil {
		fail(c, h.Logger, "user", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userJSON(user)})
}
