package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) dashboardStats(c *gin.Context) {
	stats, err := s.Dashboard.Stats(c.Request.Context(), caller(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "storage stats", stats)
}

func (s *Server) dashboardRecents(c *gin.Context) {
	s.respondList(c)(s.Dashboard.Recents(c.Request.Context(), caller(c).ID))
}

func (s *Server) dashboardReconcile(c *gin.Context) {
	r, err := s.Dashboard.Reconcile(c.Request.Context(), caller(c).ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "storage reconciled", r)
}

func (s *Server) staticPage(c *gin.Context) {
	page, err := s.Static.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, page.Title, page)
}
