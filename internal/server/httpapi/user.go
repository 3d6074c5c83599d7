package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type updateUserNameRequest struct {
	UserName string `json:"username" binding:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

type setPasscodeRequest struct {
	Passcode string `json:"passcode" binding:"required"`
}

// deleteAccountRequest carries the password, or the account email for
// accounts that have no password.
type deleteAccountRequest struct {
	Password string `json:"password" binding:"required_without=Email"`
	Email    string `json:"email"`
}

func (s *Server) profile(c *gin.Context) {
	s.ok(c, http.StatusOK, "profile", caller(c).Profile())
}

func (s *Server) updateUserName(c *gin.Context) {
	var req updateUserNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	u, err := s.Users.UpdateUserName(c.Request.Context(), caller(c).ID, req.UserName)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "username updated", u.Profile())
}

func (s *Server) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	if err := s.Users.ChangePassword(c.Request.Context(), caller(c), req.CurrentPassword, req.NewPassword); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "password changed", nil)
}

func (s *Server) setPasscode(c *gin.Context) {
	var req setPasscodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	if err := s.Users.SetPasscode(c.Request.Context(), caller(c).ID, req.Passcode); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "passcode saved", nil)
}

func (s *Server) deleteAccount(c *gin.Context) {
	var req deleteAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	confirmation := req.Password
	if confirmation == "" {
		confirmation = req.Email
	}
	if err := s.Users.DeleteAccount(c.Request.Context(), caller(c), confirmation); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "account deleted", nil)
}
