package httpapi

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/linkwell/linkwell/internal/apperr"
	"github.com/linkwell/linkwell/internal/auth"
	"github.com/linkwell/linkwell/store/user"
)

const minPasswordLength = 8

var errInvalidCredentials = apperr.New(apperr.KindAuthentication, "", "invalid credentials")

type identityHandler struct {
	users user.Store
	auth  *auth.Authenticator
	log   *zap.Logger
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (r *registerRequest) validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.Name == "" {
		return badRequest("name is required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return badRequest("email is invalid")
	}
	if utf8.RuneCountInString(r.Password) < minPasswordLength {
		return badRequest("password must be at least 8 characters")
	}
	switch r.Role {
	case "":
		r.Role = user.RoleMember
	case user.RoleMember, user.RoleAdmin:
	default:
		return badRequest("role must be member or admin")
	}
	return nil
}

func (h *identityHandler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, h.log, badRequest("invalid request body"))
		return
	}
	if err := req.validate(); err != nil {
		abortWithError(c, h.log, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}

	u := &user.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         req.Role,
	}
	if err := h.users.Create(c.Request.Context(), u); err != nil {
		abortWithError(c, h.log, err)
		return
	}

	h.log.Info("user registered", zap.String("user_id", u.ID))
	c.JSON(http.StatusCreated, gin.H{"id": u.ID})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *identityHandler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, h.log, badRequest("invalid request body"))
		return
	}
	if req.Email == "" || req.Password == "" {
		abortWithError(c, h.log, badRequest("email and password are required"))
		return
	}

	u, err := h.users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			err = errInvalidCredentials
		}
		abortWithError(c, h.log, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		abortWithError(c, h.log, errInvalidCredentials)
		return
	}

	token, err := h.auth.GenerateToken(u.ID, u.Name, u.Role)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(h.auth.Validity().Seconds()),
		"user":       u,
	})
}
