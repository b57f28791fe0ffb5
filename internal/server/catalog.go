package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/subhub/internal/catalog/domain"
	"github.com/smallbiznis/subhub/internal/pricing"
)

type createSubscriptionRequest struct {
	Name            string `json:"name"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	CashbackPercent int    `json:"cashback_percent"`
	PopularRate     int    `json:"popular_rate"`
}

type createTariffRequest struct {
	Period          string `json:"period"`
	BasePrice       int64  `json:"base_price"`
	DiscountPercent int    `json:"discount_percent"`
}

type updateTariffRequest struct {
	Period          *string `json:"period"`
	BasePrice       *int64  `json:"base_price"`
	DiscountPercent *int    `json:"discount_percent"`
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	subscriptions, err := s.catalogSvc.ListSubscriptions(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscriptions})
}

func (s *Server) GetSubscriptionByID(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	subscription, err := s.catalogSvc.GetSubscription(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscription})
}

func (s *Server) ListTariffs(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	tariffs, err := s.catalogSvc.ListTariffs(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tariffs})
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	subscription, err := s.catalogSvc.CreateSubscription(c.Request.Context(), catalogdomain.CreateSubscriptionRequest{
		Name:            strings.TrimSpace(req.Name),
		Title:           strings.TrimSpace(req.Title),
		Description:     strings.TrimSpace(req.Description),
		CashbackPercent: req.CashbackPercent,
		PopularRate:     req.PopularRate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": subscription})
}

func (s *Server) CreateTariff(c *gin.Context) {
	subscriptionID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req createTariffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	period, err := pricing.ParsePeriod(strings.TrimSpace(req.Period))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	tariff, err := s.catalogSvc.CreateTariff(c.Request.Context(), catalogdomain.CreateTariffRequest{
		SubscriptionID:  subscriptionID,
		Period:          period,
		BasePrice:       req.BasePrice,
		DiscountPercent: req.DiscountPercent,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": tariff})
}

func (s *Server) UpdateTariff(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req updateTariffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	update := catalogdomain.UpdateTariffRequest{
		ID:              id,
		BasePrice:       req.BasePrice,
		DiscountPercent: req.DiscountPercent,
	}
	if req.Period != nil {
		period, err := pricing.ParsePeriod(strings.TrimSpace(*req.Period))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		update.Period = &period
	}

	tariff, err := s.catalogSvc.UpdateTariff(c.Request.Context(), update)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tariff})
}
