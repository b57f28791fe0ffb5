package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListFavorites(c *gin.Context) {
	favorites, err := s.favoriteSvc.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": favorites})
}

func (s *Server) AddFavorite(c *gin.Context) {
	subscriptionID, ok := pathID(c, "subscriptionId")
	if !ok {
		return
	}

	favorite, err := s.favoriteSvc.Add(c.Request.Context(), currentUserID(c), subscriptionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": favorite})
}

func (s *Server) RemoveFavorite(c *gin.Context) {
	subscriptionID, ok := pathID(c, "subscriptionId")
	if !ok {
		return
	}

	if err := s.favoriteSvc.Remove(c.Request.Context(), currentUserID(c), subscriptionID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
