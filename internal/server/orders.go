package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/subhub/internal/order/domain"
)

type contactRequest struct {
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	Email       string `json:"email"`
}

type createOrderRequest struct {
	SubscriptionID string         `json:"subscription_id"`
	TariffID       string         `json:"tariff_id"`
	Contact        contactRequest `json:"contact"`
}

type changeTariffRequest struct {
	TariffID string `json:"tariff_id"`
}

// orderView adds the derived state to the stored row.
type orderView struct {
	orderdomain.Order
	State orderdomain.State `json:"state"`
}

func newOrderView(order orderdomain.Order) orderView {
	return orderView{Order: order, State: order.State()}
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	subscriptionID, err := parseOptionalSnowflakeID(req.SubscriptionID)
	if err != nil || subscriptionID == nil {
		AbortWithError(c, newValidationError("subscription_id", "invalid_subscription_id", "invalid subscription_id"))
		return
	}
	tariffID, err := parseOptionalSnowflakeID(req.TariffID)
	if err != nil || tariffID == nil {
		AbortWithError(c, newValidationError("tariff_id", "invalid_tariff_id", "invalid tariff_id"))
		return
	}

	order, err := s.orderSvc.Create(c.Request.Context(), orderdomain.CreateOrderRequest{
		UserID:         currentUserID(c),
		SubscriptionID: *subscriptionID,
		TariffID:       *tariffID,
		Contact: orderdomain.ContactInfo{
			Name:        strings.TrimSpace(req.Contact.Name),
			PhoneNumber: strings.TrimSpace(req.Contact.PhoneNumber),
			Email:       strings.TrimSpace(req.Contact.Email),
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": newOrderView(order)})
}

func (s *Server) ListOrders(c *gin.Context) {
	orders, err := s.orderSvc.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	views := make([]orderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, newOrderView(order))
	}
	c.JSON(http.StatusOK, gin.H{"data": views})
}

func (s *Server) GetOrderByID(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := s.orderSvc.Get(c.Request.Context(), currentUserID(c), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newOrderView(order)})
}

func (s *Server) CancelOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := s.orderSvc.Cancel(c.Request.Context(), currentUserID(c), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newOrderView(order)})
}

func (s *Server) ResumeOrder(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	order, err := s.orderSvc.Resume(c.Request.Context(), currentUserID(c), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newOrderView(order)})
}

func (s *Server) ChangeOrderTariff(c *gin.Context) {
	orderID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req changeTariffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	tariffID, err := parseOptionalSnowflakeID(req.TariffID)
	if err != nil || tariffID == nil {
		AbortWithError(c, newValidationError("tariff_id", "invalid_tariff_id", "invalid tariff_id"))
		return
	}

	order, err := s.orderSvc.ChangeTariff(c.Request.Context(), orderdomain.ChangeTariffRequest{
		UserID:   currentUserID(c),
		OrderID:  orderID,
		TariffID: *tariffID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": newOrderView(order)})
}
