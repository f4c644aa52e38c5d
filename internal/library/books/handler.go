package books

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

	r.GET("/books", h.ListBooks)
	r.GET("/books/count", h.TotalCount)
	r.GET("/books/count/author/:author", h.CountByAuthor)
	r.GET("/books/search/preview", h.SearchPreview)
	r.GET("/books/latest", h.LatestBooks)
	r.GET("/books/infinite", h.InfiniteScroll)
	r.GET("/books/isbn/:isbn", h.GetBookByISBN)
	r.GET("/books/author/:author/exists", h.AuthorExists)
	r.GET("/books/:id", h.GetBook)
	r.GET("/books/:id/exists", h.BookExists)

	// 書き込み系は認証必須
	protected.POST("/books", h.CreateBook)
	protected.PUT("/books/:id", h.UpdateBook)
	protected.DELETE("/books/:id", h.DeleteBook)
}

// GET /books?keyword=&author=&offset=&limit=&sort=name,asc&sort=created_at,desc
func (h *Handler) ListBooks(c *gin.Context) {
	req := parsePageRequest(c)

	res, err := h.svc.GetBooks(c.Request.Context(), c.Query("keyword"), c.Query("author"), req)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetBook(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid id"))
		return
	}

	res, err := h.svc.GetBook(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetBookByISBN(c *gin.Context) {
	res, err := h.svc.GetBookByISBN(c.Request.Context(), c.Param("isbn"))
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) TotalCount(c *gin.Context) {
	n, err := h.svc.TotalActiveCount(c.Request.Context())
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *Handler) BookExists(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid id"))
		return
	}

	ok, err := h.svc.BookExists(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": ok})
}

func (h *Handler) AuthorExists(c *gin.Context) {
	ok, err := h.svc.AuthorExists(c.Request.Context(), c.Param("author"))
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"exists": ok})
}

func (h *Handler) CountByAuthor(c *gin.Context) {
	n, err := h.svc.CountByAuthor(c.Request.Context(), c.Param("author"))
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// GET /books/search/preview?keyword=&limit=
func (h *Handler) SearchPreview(c *gin.Context) {
	limit := parseIntDefault(c.Query("limit"), 5)

	res, err := h.svc.SearchPreview(c.Request.Context(), c.Query("keyword"), limit)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) LatestBooks(c *gin.Context) {
	limit := parseIntDefault(c.Query("limit"), 10)

	res, err := h.svc.LatestBooks(c.Request.Context(), limit)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /books/infinite?last_id=&size=
func (h *Handler) InfiniteScroll(c *gin.Context) {
	var lastID *int64
	if v := c.Query("last_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			lastID = &id
		}
	}
	size := parseIntDefault(c.Query("size"), 20)

	res, err := h.svc.BooksForInfiniteScroll(c.Request.Context(), lastID, size)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CreateBook(c *gin.Context) {
	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}

	res, err := h.svc.CreateBook(c.Request.Context(), req)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}

	c.Header("Location", "/books/"+strconv.FormatInt(res.ID, 10))
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) UpdateBook(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid id"))
		return
	}

	var req UpdateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}

	res, err := h.svc.UpdateBook(c.Request.Context(), id, req)
	if err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteBook(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, apierr.Body(apierr.CodeInvalidArgument, "invalid id"))
		return
	}

	if err := h.svc.DeleteBook(c.Request.Context(), id); err != nil {
		c.JSON(apierr.ToHTTPStatus(err), apierr.FromErr(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- helpers ----------

// offset/limit/sort クエリパラメータを読む。users/loans も同じ形式。
func parsePageRequest(c *gin.Context) query.PageRequest {
	return query.PageRequest{
		Offset: parseIntDefault(c.Query("offset"), 0),
		Limit:  parseIntDefault(c.Query("limit"), 0),
		Sort:   query.ParseSort(c.QueryArray("sort")),
	}
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
