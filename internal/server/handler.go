package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Bluemott/contentsync/internal/logger"
	"github.com/Bluemott/contentsync/internal/models"
	"github.com/Bluemott/contentsync/internal/query"
)

func (s *Server) handleIngest(c *gin.Context) {
	var batch models.RawBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed batch document: " + err.Error()})
		return
	}

	// Batches are not cancellable mid-flight: a client disconnect must
	// not abandon a half-applied import, so the batch runs on a
	// detached context with its own deadline.
	ctx := logger.ContextWithLogger(context.Background(), s.log)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.IngestTimeout)
	defer cancel()

	res, err := s.api.Ingest(ctx, &batch)
	if err != nil {
		if models.IsStoreUnavailable(err) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleQuery(c *gin.Context) {
	var req query.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"data":   nil,
			"errors": []query.Error{{Message: "malformed request: " + err.Error()}},
		})
		return
	}

	ctx := logger.ContextWithLogger(c.Request.Context(), s.log)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	resp, err := s.api.Query(ctx, &req)
	if err != nil {
		// Only total store unavailability escapes the envelope.
		c.JSON(http.StatusServiceUnavailable, query.Response{
			Errors: []query.Error{{Message: err.Error()}},
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}
