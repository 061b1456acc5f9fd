package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tillpoint/internal/authorization"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	"github.com/smallbiznis/tillpoint/pkg/db/pagination"
)

type listPaymentsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	Status    string `form:"status"`
	Method    string `form:"method"`
	StartDate string `form:"startDate"`
	EndDate   string `form:"endDate"`
}

// ProcessPayment settles an order. A declined card answers 400 with the
// failed payment in data and success=false.
func (s *Server) ProcessPayment(c *gin.Context) {
	var req paymentdomain.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" && req.IdempotencyKey == nil {
		req.IdempotencyKey = &key
	}

	c.Set("order_id", req.OrderID)
	if err := s.ensureOrderAccess(c, req.OrderID); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.paymentSvc.Settle(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	c.JSON(status, envelope{Success: result.Success, Message: result.Message, Data: result})
}

func (s *Server) RefundPayment(c *gin.Context) {
	var req paymentdomain.RefundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.paymentSvc.Refund(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	respondMessage(c, http.StatusOK, "Payment refunded successfully", resp)
}

func (s *Server) GetPayment(c *gin.Context) {
	resp, err := s.paymentSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.ensureOrderAccess(c, resp.OrderID); err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, resp)
}

func (s *Server) PaymentsByOrder(c *gin.Context) {
	orderID := c.Param("orderId")
	if err := s.ensureOrderAccess(c, orderID); err != nil {
		AbortWithError(c, err)
		return
	}

	payments, err := s.paymentSvc.ListByOrder(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, http.StatusOK, payments, len(payments))
}

func (s *Server) ListPayments(c *gin.Context) {
	var query listPaymentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	from, to, err := parseRange(query.StartDate, query.EndDate, "startDate", "endDate", s.cfg.Location())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.paymentSvc.List(c.Request.Context(), paymentdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		Status: strings.TrimSpace(query.Status),
		Method: strings.TrimSpace(query.Method),
		From:   from,
		To:     to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      resp.Payments,
		"count":     len(resp.Payments),
		"page_info": resp.PageInfo,
	})
}

// PaymentReceipt renders the receipt as PDF, or as JSON with ?format=json.
func (s *Server) PaymentReceipt(c *gin.Context) {
	ctx := c.Request.Context()
	receipt, err := s.paymentSvc.Receipt(ctx, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.ensureOrderAccess(c, receipt.Payment.OrderID); err != nil {
		AbortWithError(c, err)
		return
	}

	if strings.EqualFold(strings.TrimSpace(c.Query("format")), "json") || s.pdfProvider == nil {
		respond(c, http.StatusOK, receipt)
		return
	}

	doc, err := s.pdfProvider.RenderReceipt(ctx, receipt)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	filename := "receipt.pdf"
	if receipt.Payment.ReceiptNumber != nil {
		filename = *receipt.Payment.ReceiptNumber + ".pdf"
	}
	c.Header("Content-Disposition", `inline; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", doc)
}

// ensureOrderAccess limits customers to their own orders.
func (s *Server) ensureOrderAccess(c *gin.Context, orderID string) error {
	if _, role := actorFromGin(c); role != authorization.RoleCustomer {
		return nil
	}
	order, err := s.orderSvc.Get(c.Request.Context(), orderID)
	if err != nil {
		return err
	}
	return s.ensureOwnOrder(c, order)
}
