package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
)

type signupRequest struct {
	UserName string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type sessionResponse struct {
	User models.Profile `json:"user"`
	models.TokenPair
}

func (s *Server) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}

	u, pair, err := s.Users.Signup(c.Request.Context(), req.UserName, req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusCreated, "account created", sessionResponse{User: u.Profile(), TokenPair: *pair})
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}

	u, pair, err := s.Users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "logged in", sessionResponse{User: u.Profile(), TokenPair: *pair})
}

func (s *Server) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}

	pair, err := s.Users.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "token refreshed", pair)
}

func (s *Server) logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	if err := s.Users.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "logged out", nil)
}

func (s *Server) forgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	if err := s.Users.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "if the email is registered, a reset link has been sent", nil)
}

func (s *Server) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	if err := s.Users.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "password has been reset", nil)
}
