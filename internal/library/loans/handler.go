package loans

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"LMS-backend/internal/platform/apierr"
	"LMS-backend/internal/platform/query"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, protected gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.GET("/loans", h.ListLoans)
	r.GET("/loans/overdue", h.ListOverdue)
	r.GET("/loans/user/:user_id", h.ListByUser)
	r.GET("/loans/user/:user_id/active-count", h.ActiveCount)
	r.GET("/loans/book/:book_id", h.ListByBook)
	r.GET("/loans/:id", h.GetLoan)

	protected.POST("/loans", h.CreateLoan)
	protected.PUT("/loans/:id/return", h.ReturnBook)
	protected.PUT("/loans/update-overdue", h.UpdateOverdue)
}

// GET /loans?status=ACTIVE&offset=&limit=&sort=due_date,asc
func (h *Handler) ListLoans(c *gin.Context) {
	req := query.PageRequest{
		Offset: parseIntDefault(c.Query("offset"), 0),
		Limit:  parseIntDefault(c.Query("limit"), 0),
		Sort:   query.ParseSort(c.QueryArray("sort")),
	}

	res, err := h.svc.GetLoans(c.Request.Context(), c.Query("status"), req)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListOverdue(c *gin.Context) {
	res, err := h.svc.GetOverdueLoans(c.Request.Context())
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListByUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid user_id"))
		return
	}

	res, err := h.svc.GetLoansByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ActiveCount(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid user_id"))
		return
	}

	n, err := h.svc.ActiveLoanCount(c.Request.Context(), userID)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *Handler) ListByBook(c *gin.Context) {
	bookID, err := strconv.ParseInt(c.Param("book_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid book_id"))
		return
	}

	res, err := h.svc.GetLoansByBook(c.Request.Context(), bookID)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /loans/:id accepts either the numeric id or the loan ULID.
func (h *Handler) GetLoan(c *gin.Context) {
	res, err := h.svc.GetLoan(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CreateLoan(c *gin.Context) {
	var req CreateLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}

	res, err := h.svc.CreateLoan(c.Request.Context(), req)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}

	c.Header("Location", "/loans/"+strconv.FormatInt(res.ID, 10))
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) ReturnBook(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid id"))
		return
	}

	res, err := h.svc.ReturnBook(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) UpdateOverdue(c *gin.Context) {
	n, err := h.svc.UpdateOverdueLoans(c.Request.Context())
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}
