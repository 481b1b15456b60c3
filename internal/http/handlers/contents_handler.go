// Content HTTP handlers.
//
// This file exposes read endpoints:
//   - GET /contents                 (list, filtered, paginated, ETag support)
//   - GET /contents/{id}            (one item; fresh=true recomputes its score)
//   - GET /contents/{id}/locks      (an item's locks, paginated, ETag support)
//
// Scores are served from the cached aggregate. A stale score schedules a
// background decay pass; callers that need the current value pass fresh=true.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-lockd-backend/internal/domain"
	"github.com/tbourn/go-lockd-backend/internal/repo"
	"github.com/tbourn/go-lockd-backend/internal/services"
)

//
// DTOs
//

// ListContentsResponse wraps a page of contents and pagination information.
type ListContentsResponse struct {
	Contents   []domain.Content `json:"contents"`
	Pagination Pagination       `json:"pagination"`
}

// ListLocksResponse wraps a page of locks and pagination information.
type ListLocksResponse struct {
	Locks      []domain.Lock `json:"locks"`
	Pagination Pagination    `json:"pagination"`
}

var errBadMatch = errors.New("match must be all or any")

// filterFromQuery builds a ContentFilter from status, q and followed_by,
// combined by match (all|any, default all). Values are validated by the
// service.
func filterFromQuery(c *gin.Context) (domain.ContentFilter, error) {
	var parts []domain.ContentFilter
	if s := strings.TrimSpace(c.Query("status")); s != "" {
		parts = append(parts, domain.StatusIs(strings.ToLower(s)))
	}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		parts = append(parts, domain.TitleContains(q))
	}
	if f := strings.TrimSpace(c.Query("followed_by")); f != "" {
		parts = append(parts, domain.FollowedBy(f))
	}

	match := strings.ToLower(c.DefaultQuery("match", "all"))
	if match != "all" && match != "any" {
		return domain.ContentFilter{}, errBadMatch
	}
	if len(parts) == 0 {
		return domain.ContentFilter{}, nil
	}
	if match == "any" {
		return domain.Any(parts...), nil
	}
	return domain.All(parts...), nil
}

// contentDB returns the database behind the concrete content service, or nil
// when the service is a fake. ETags are skipped without it.
func (h *Handlers) contentDB() *gorm.DB {
	if svc, ok := h.contents.(*services.ContentService); ok {
		return svc.DB
	}
	return nil
}

// weakETag formats a weak validator from a scope key, a row count and the
// newest UpdatedAt. It writes the ETag header and reports whether the
// request's If-None-Match already matches.
func weakETag(c *gin.Context, scope string, count int64, maxTS *time.Time) bool {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%d:%d"`, scope, count, ts)
	c.Header("ETag", etag)
	return c.GetHeader("If-None-Match") == etag
}

// ListContents godoc
// @ID          listContents
// @Summary     List contents (paginated)
// @Description Returns contents ordered by score. Filters combine with match=all (default) or match=any.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Contents
// @Produce     json
//
// @Param       status         query   string  false "Lifecycle status"  Enums(published, hidden, archived)
// @Param       q              query   string  false "Title substring (case-insensitive)"
// @Param       followed_by    query   string  false "Only owners this user follows"
// @Param       match          query   string  false "Combine filters"  Enums(all, any) default(all)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListContentsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /contents [get]
func (h *Handlers) ListContents(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	f, err := filterFromQuery(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	// ETag pre-check (best effort). An invalid filter fails here and is
	// reported by the service below.
	if db := h.contentDB(); db != nil {
		if count, maxTS, err := repo.ContentsStats(ctx, db, f); err == nil {
			scope := "contents:" + strconv.FormatUint(xxhash.Sum64String(c.Request.URL.RawQuery), 16)
			if weakETag(c, scope, count, maxTS) {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.contents.List(ctx, f, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListContentsResponse{
		Contents:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// GetContent godoc
// @ID          getContent
// @Summary     Get a content item
// @Description Returns one content item. With fresh=true, locks are decayed to the current
// @Description block height and the score is recomputed before responding.
// @Tags        Contents
// @Produce     json
//
// @Param       id     path   string  true  "Content ID"
// @Param       fresh  query  bool    false "Recompute the score at the chain tip"
//
// @Success     200  {object} domain.Content
// @Failure     404  {object} handlers.ErrorResponse "Content not found"
// @Failure     503  {object} handlers.ErrorResponse "Block data source unavailable"
// @Router      /contents/{id} [get]
func (h *Handlers) GetContent(c *gin.Context) {
	fresh, _ := strconv.ParseBool(c.Query("fresh"))

	item, err := h.contents.Get(c.Request.Context(), c.Param("id"), fresh)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, item)
}

// ListContentLocks godoc
// @ID          listContentLocks
// @Summary     List a content item's locks (paginated)
// @Description Returns the item's locks, newest first. Supports weak ETag via If-None-Match.
// @Tags        Contents
// @Produce     json
//
// @Param       id             path    string  true  "Content ID"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListLocksResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     404  {object} handlers.ErrorResponse "Content not found"
// @Router      /contents/{id}/locks [get]
func (h *Handlers) ListContentLocks(c *gin.Context) {
	ctx := c.Request.Context()
	contentID := c.Param("id")
	page, pageSize := clampPagination(c)

	if db := h.contentDB(); db != nil {
		if count, maxTS, err := repo.LocksStats(ctx, db, contentID); err == nil && count > 0 {
			scope := fmt.Sprintf("locks:%s:%d:%d", contentID, page, pageSize)
			if weakETag(c, scope, count, maxTS) {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.contents.Locks(ctx, contentID, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListLocksResponse{
		Locks:      items,
		Pagination: newPagination(page, pageSize, total),
	})
}
