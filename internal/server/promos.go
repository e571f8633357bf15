package server

import (
	"net/http"

	promodomain "github.com/EF-corp/AgroBotTg/internal/promo/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) ListPromos(c *gin.Context) {
	promos, err := s.promoSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": promos})
}

func (s *Server) CreatePromo(c *gin.Context) {
	var req promodomain.CreatePromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	promo, err := s.promoSvc.Add(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": promo})
}

func (s *Server) DeletePromo(c *gin.Context) {
	code, ok := pathName(c, "code")
	if !ok {
		return
	}

	if err := s.promoSvc.Delete(c.Request.Context(), code); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
