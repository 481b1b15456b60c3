// Operator HTTP handlers, mounted under /admin behind the admin token.
//
//   - POST /admin/decay         (run a decay pass now)
//   - GET  /admin/score-drift   (contents whose cached score disagrees with their locks)
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-lockd-backend/internal/ledger"
)

// ScoreDriftResponse lists drifted contents.
type ScoreDriftResponse struct {
	Drift []ledger.Drift `json:"drift"`
}

// RunDecay godoc
// @ID          runDecay
// @Summary     Run a decay pass
// @Description Applies decay at the given height, or at the current chain height when omitted.
// @Tags        Admin
// @Produce     json
//
// @Param       X-Admin-Token  header  string  false "Operator token"
// @Param       height         query   int     false "Block height"  minimum(1)
//
// @Success     200  {object} ledger.PassResult
// @Failure     400  {object} handlers.ErrorResponse "Bad height"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     503  {object} handlers.ErrorResponse "Block data source unavailable"
// @Router      /admin/decay [post]
func (h *Handlers) RunDecay(c *gin.Context) {
	var height int64
	if raw := c.Query("height"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "height must be an integer")
			return
		}
		height = v
	}

	res, err := h.admin.RunDecayPass(c.Request.Context(), height)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// ScoreDrift godoc
// @ID          scoreDrift
// @Summary     Report score drift
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Token  header  string  false "Operator token"
// @Success     200  {object} handlers.ScoreDriftResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Router      /admin/score-drift [get]
func (h *Handlers) ScoreDrift(c *gin.Context) {
	drift, err := h.admin.ScoreDrift(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	if drift == nil {
		drift = []ledger.Drift{}
	}
	ok(c, http.StatusOK, ScoreDriftResponse{Drift: drift})
}
