package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	reportdomain "github.com/smallbiznis/tillpoint/internal/report/domain"
)

func (s *Server) parseReportRange(c *gin.Context) (reportdomain.RangeRequest, error) {
	start, end, err := parseRange(c.Query("startDate"), c.Query("endDate"), "startDate", "endDate", s.cfg.Location())
	if err != nil {
		return reportdomain.RangeRequest{}, err
	}
	var compare bool
	if raw := strings.TrimSpace(c.Query("compare")); raw != "" {
		compare, err = strconv.ParseBool(raw)
		if err != nil {
			return reportdomain.RangeRequest{}, newValidationError("compare", "invalid_compare", "invalid compare")
		}
	}
	return reportdomain.RangeRequest{Start: start, End: end, Compare: compare}, nil
}

func (s *Server) RevenueReport(c *gin.Context) {
	req, err := s.parseReportRange(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.reportSvc.Revenue(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, resp)
}

func (s *Server) DailyRevenueReport(c *gin.Context) {
	req, err := s.parseReportRange(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.reportSvc.Daily(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondList(c, http.StatusOK, resp, len(resp.Days))
}

func (s *Server) PaymentStats(c *gin.Context) {
	req, err := s.parseReportRange(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.reportSvc.PaymentStats(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respond(c, http.StatusOK, resp)
}
