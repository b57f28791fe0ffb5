package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/subhub/internal/ledger/domain"
	"github.com/smallbiznis/subhub/pkg/db/pagination"
)

type listTransactionsQuery struct {
	pagination.Pagination
	Type   string `form:"type"`
	Status string `form:"status"`
	From   string `form:"from"`
	To     string `form:"to"`
}

func (s *Server) ListTransactions(c *gin.Context) {
	var query listTransactionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	filter := ledgerdomain.HistoryFilter{}
	switch txnType := ledgerdomain.TransactionType(strings.ToUpper(strings.TrimSpace(query.Type))); txnType {
	case "":
	case ledgerdomain.TransactionTypeDebit, ledgerdomain.TransactionTypeCashback:
		filter.Type = txnType
	default:
		AbortWithError(c, newValidationError("type", "invalid_type", "invalid type"))
		return
	}
	switch status := ledgerdomain.TransactionStatus(strings.ToUpper(strings.TrimSpace(query.Status))); status {
	case "":
	case ledgerdomain.StatusPending, ledgerdomain.StatusPaid, ledgerdomain.StatusCredited:
		filter.Status = status
	default:
		AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
		return
	}

	from, err := parseOptionalTime(query.From, false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(query.To, true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}
	filter.From = from
	filter.To = to

	resp, err := s.ledgerSvc.ListHistory(c.Request.Context(), ledgerdomain.ListHistoryRequest{
		UserID: currentUserID(c),
		Filter: filter,
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}

func (s *Server) GetSummary(c *gin.Context) {
	summary, err := s.ledgerSvc.Summary(c.Request.Context(), currentUserID(c), s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}
