package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) routes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.api.Health(c.Request.Context()))
	})

	s.router.POST("/ingest", s.handleIngest)
	s.router.POST("/query", s.handleQuery)
}
