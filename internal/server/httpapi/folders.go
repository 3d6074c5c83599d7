package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
)

type createFolderRequest struct {
	Name         string `json:"name" binding:"required"`
	ParentFolder string `json:"parentFolder"`
}

func (s *Server) createFolder(c *gin.Context) {
	var req createFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	f, err := s.Folders.Create(c.Request.Context(), caller(c).ID, req.Name, req.ParentFolder)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusCreated, "folder created", f)
}

func (s *Server) listFolders(c *gin.Context) {
	list, err := s.Folders.List(c.Request.Context(), caller(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if list == nil {
		list = []*models.Folder{}
	}
	s.ok(c, http.StatusOK, "folders", list)
}

func (s *Server) getFolder(c *gin.Context) {
	f, err := s.Folders.Get(c.Request.Context(), caller(c).ID, c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "folder", f)
}

func (s *Server) renameFolder(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, badRequest(err))
		return
	}
	f, err := s.Folders.Rename(c.Request.Context(), caller(c).ID, c.Param("id"), req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "folder renamed", f)
}

func (s *Server) deleteFolder(c *gin.Context) {
	if err := s.Folders.Delete(c.Request.Context(), caller(c).ID, c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "folder deleted", nil)
}
