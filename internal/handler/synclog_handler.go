package handler

import (
	"errors"
	"net/http"
	"time"

	"carflow/internal/middleware"
	"carflow/internal/model"
	"carflow/internal/service"
	"carflow/pkg/pagination"
	"carflow/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type SyncLogHandler struct {
	syncLogService service.SyncLogService
	retryService   service.RetryService
}

func NewSyncLogHandler(syncLogService service.SyncLogService, retryService service.RetryService) *SyncLogHandler {
	return &SyncLogHandler{
		syncLogService: syncLogService,
		retryService:   retryService,
	}
}

func (h *SyncLogHandler) RegisterRoutes(router *gin.RouterGroup) {
	logs := router.Group("/api/sync-logs", middleware.RequireRole(model.RoleAdmin, model.RoleAccountant))
	{
		logs.GET("", h.ListSyncLogs)
		logs.GET("/export", h.ExportSyncLogs)
		logs.POST("/retry", h.RetryBulk)
		logs.POST("/:id/retry", h.Retry)
	}
}

// ListSyncLogs returns a filterable page of the sync ledger
// @Summary      List sync logs
// @Description  Filter by entity type, status and free text over message/local id/remote id
// @Tags         sync-logs
// @Security     BearerAuth
// @Produce      json
// @Param        entity_type  query     string  false  "customer, item, contract, order, invoice, payment"
// @Param        status       query     string  false  "success, failed, warning"
// @Param        q            query     string  false  "Free-text search"
// @Param        page         query     int     false  "Page number (default 1)"
// @Param        limit        query     int     false  "Items per page (default 20)"
// @Success      200          {object}  response.Response{data=object}
// @Failure      500          {object}  response.Response
// @Router       /api/sync-logs [get]
func (h *SyncLogHandler) ListSyncLogs(c *gin.Context) {
	params := pagination.Parse(c)

	entries, total, err := h.syncLogService.List(c.Request.Context(), service.SyncLogFilter{
		EntityType: c.Query("entity_type"),
		Status:     c.Query("status"),
		Search:     c.Query("q"),
		Page:       params.Page,
		Limit:      params.Limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, entries, params.Page, params.Limit, total))
}

// ExportSyncLogs exports matching ledger rows as CSV
// @Summary      Export sync logs
// @Description  Flattened CSV of the matching ledger rows for audit purposes
// @Tags         sync-logs
// @Security     BearerAuth
// @Produce      text/csv
// @Param        entity_type  query  string  false  "Entity type filter"
// @Param        status       query  string  false  "Status filter"
// @Param        q            query  string  false  "Free-text search"
// @Success      200
// @Failure      500  {object}  response.Response
// @Router       /api/sync-logs/export [get]
func (h *SyncLogHandler) ExportSyncLogs(c *gin.Context) {
	data, err := h.syncLogService.ExportCSV(c.Request.Context(), service.SyncLogFilter{
		EntityType: c.Query("entity_type"),
		Status:     c.Query("status"),
		Search:     c.Query("q"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	filename := "sync-logs-" + time.Now().Format("20060102-150405") + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv", data)
}

// Retry re-submits one failed ledger row
// @Summary      Retry sync log entry
// @Description  Re-invokes the original operation; only failed rows are retryable
// @Tags         sync-logs
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Sync Log ID"
// @Success      200  {object}  response.Response{data=service.SyncResult}
// @Failure      400  {object}  response.Response
// @Failure      502  {object}  response.Response
// @Router       /api/sync-logs/{id}/retry [post]
func (h *SyncLogHandler) Retry(c *gin.Context) {
	result, err := h.retryService.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := syncErrorStatus(err)
		if errors.Is(err, service.ErrNotRetryable) {
			status = http.StatusBadRequest
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// RetryBulkRequest carries the ledger row ids to retry
type RetryBulkRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

// RetryBulk re-submits a set of failed rows
// @Summary      Bulk retry sync log entries
// @Description  Independent single retries; one outcome per row, partial failure expected
// @Tags         sync-logs
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      RetryBulkRequest  true  "Bulk Retry Payload"
// @Success      200      {object}  response.Response{data=[]service.RetryOutcome}
// @Failure      400      {object}  response.Response
// @Router       /api/sync-logs/retry [post]
func (h *SyncLogHandler) RetryBulk(c *gin.Context) {
	var req RetryBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	outcomes := h.retryService.RetryBulk(c.Request.Context(), req.IDs)
	c.JSON(http.StatusOK, response.Success(http.StatusOK, outcomes))
}
