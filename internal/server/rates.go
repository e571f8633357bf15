package server

import (
	"net/http"

	ratedomain "github.com/EF-corp/AgroBotTg/internal/rate/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListRates(c *gin.Context) {
	rates, err := s.rateSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rates})
}

func (s *Server) CreateRate(c *gin.Context) {
	var req ratedomain.CreateRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rate, err := s.rateSvc.Add(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": rate})
}

func (s *Server) UpdateRate(c *gin.Context) {
	name, ok := pathName(c, "name")
	if !ok {
		return
	}

	var req ratedomain.UpdateRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rate, err := s.rateSvc.Update(c.Request.Context(), name, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rate})
}

func (s *Server) DeleteRate(c *gin.Context) {
	name, ok := pathName(c, "name")
	if !ok {
		return
	}

	if err := s.rateSvc.Delete(c.Request.Context(), name); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
