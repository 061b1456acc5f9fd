package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tillpoint/internal/authorization"
	orderdomain "github.com/smallbiznis/tillpoint/internal/order/domain"
	"github.com/smallbiznis/tillpoint/pkg/db/pagination"
)

type listOrdersQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	Status    string `form:"status"`
	StartDate string `form:"startDate"`
	EndDate   string `form:"endDate"`
}

type cancelOrderRequest struct {
	Reason *string `json:"reason,omitempty"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req orderdomain.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.orderSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("order_id", resp.ID)
	respondMessage(c, http.StatusCreated, "Order created successfully", resp)
}

func (s *Server) GetOrder(c *gin.Context) {
	resp, err := s.orderSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.ensureOwnOrder(c, resp); err != nil {
		AbortWithError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (s *Server) ListOrders(c *gin.Context) {
	s.listOrders(c, "")
}

// ListCustomerOrders serves a customer's history. Customers may only read
// their own.
func (s *Server) ListCustomerOrders(c *gin.Context) {
	customerID := strings.TrimSpace(c.Param("customerId"))
	actorID, role := actorFromGin(c)
	if role == authorization.RoleCustomer && actorID != customerID {
		AbortWithError(c, ErrForbidden)
		return
	}
	s.listOrders(c, customerID)
}

func (s *Server) listOrders(c *gin.Context, customerID string) {
	var query listOrdersQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	from, to, err := parseRange(query.StartDate, query.EndDate, "startDate", "endDate", s.cfg.Location())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.orderSvc.List(c.Request.Context(), orderdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		Status:      strings.TrimSpace(query.Status),
		CustomerID:  customerID,
		CreatedFrom: from,
		CreatedTo:   to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      resp.Orders,
		"count":     len(resp.Orders),
		"page_info": resp.PageInfo,
	})
}

// ListOrdersByRange requires both bounds, unlike ListOrders.
func (s *Server) ListOrdersByRange(c *gin.Context) {
	if strings.TrimSpace(c.Query("startDate")) == "" || strings.TrimSpace(c.Query("endDate")) == "" {
		AbortWithError(c, newValidationError("startDate", "required", "startDate and endDate are required"))
		return
	}
	s.listOrders(c, "")
}

func (s *Server) TodayOrders(c *gin.Context) {
	orders, err := s.orderSvc.Today(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, http.StatusOK, orders, len(orders))
}

func (s *Server) OrderStats(c *gin.Context) {
	from, to, err := parseRange(c.Query("startDate"), c.Query("endDate"), "startDate", "endDate", s.cfg.Location())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.orderSvc.Stats(c.Request.Context(), orderdomain.StatsRequest{From: from, To: to})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, resp)
}

func (s *Server) UpdateOrderStatus(c *gin.Context) {
	var req orderdomain.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	c.Set("order_id", c.Param("id"))
	resp, err := s.orderSvc.Transition(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondMessage(c, http.StatusOK, "Order status updated successfully", resp)
}

func (s *Server) ApplyOrderDiscount(c *gin.Context) {
	var req orderdomain.DiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	c.Set("order_id", c.Param("id"))
	resp, err := s.orderSvc.ApplyDiscount(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondMessage(c, http.StatusOK, "Discount applied successfully", resp)
}

func (s *Server) CancelOrder(c *gin.Context) {
	var req cancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	c.Set("order_id", c.Param("id"))
	ctx := c.Request.Context()
	if _, role := actorFromGin(c); role == authorization.RoleCustomer {
		order, err := s.orderSvc.Get(ctx, c.Param("id"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if err := s.ensureOwnOrder(c, order); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	resp, err := s.orderSvc.Cancel(ctx, c.Param("id"), req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondMessage(c, http.StatusOK, "Order cancelled successfully", resp)
}

// ensureOwnOrder stops customers from reaching orders placed by others.
func (s *Server) ensureOwnOrder(c *gin.Context, order *orderdomain.Response) error {
	actorID, role := actorFromGin(c)
	if role != authorization.RoleCustomer {
		return nil
	}
	if order.CustomerID == nil || *order.CustomerID != actorID {
		return ErrForbidden
	}
	return nil
}
