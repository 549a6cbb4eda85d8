package handler

import (
	"errors"
	"net/http"

	"carflow/internal/middleware"
	"carflow/internal/model"
	"carflow/internal/service"
	"carflow/pkg/pagination"
	"carflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type ContractHandler struct {
	contractService service.ContractService
	syncService     service.SyncService
}

func NewContractHandler(contractService service.ContractService, syncService service.SyncService) *ContractHandler {
	return &ContractHandler{
		contractService: contractService,
		syncService:     syncService,
	}
}

func (h *ContractHandler) RegisterRoutes(router *gin.RouterGroup) {
	contracts := router.Group("/api/contracts", middleware.RequireRole(model.RoleAdmin, model.RoleAccountant, model.RoleSales))
	{
		contracts.POST("", h.CreateContract)
		contracts.GET("", h.ListContracts)
		contracts.GET("/:id", h.GetContract)
	}

	sync := router.Group("/api/contracts", middleware.RequireRole(model.RoleAdmin, model.RoleAccountant))
	{
		sync.POST("/:id/send-order", h.SendOrder)
		sync.POST("/:id/invoice", h.InvoiceContract)
		sync.POST("/:id/payment", h.ApplyPayment)
		sync.POST("/:id/cancel", h.CancelAccounting)
	}
}

// syncErrorStatus maps the sync error taxonomy onto HTTP codes. Pre-flight
// rejections and precondition violations are client errors; everything else
// reached the provider and comes back as a gateway failure carrying the
// ledger row's message.
func syncErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrSyncInFlight):
		return http.StatusConflict
	case service.IsConfigError(err),
		errors.Is(err, service.ErrOrderAlreadySent),
		errors.Is(err, service.ErrNoOrderYet),
		errors.Is(err, service.ErrInvoiceAlreadySent):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// CreateContract creates a new sales contract
// @Summary      Create contract
// @Description  Creates a sales contract with priced line items
// @Tags         contracts
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateContractRequest  true  "Create Contract Payload"
// @Success      201      {object}  response.Response{data=model.Contract}
// @Failure      400      {object}  response.Response
// @Router       /api/contracts [post]
func (h *ContractHandler) CreateContract(c *gin.Context) {
	var req service.CreateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	contract, err := h.contractService.CreateContract(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, contract))
}

// ListContracts returns a paginated contract list
// @Summary      List contracts
// @Tags         contracts
// @Security     BearerAuth
// @Produce      json
// @Param        status  query     string  false  "Filter by accounting status"
// @Param        q       query     string  false  "Search contract number or customer name"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Items per page (default 20)"
// @Success      200     {object}  response.Response{data=object}
// @Failure      500     {object}  response.Response
// @Router       /api/contracts [get]
func (h *ContractHandler) ListContracts(c *gin.Context) {
	params := pagination.Parse(c)

	contracts, total, err := h.contractService.ListContracts(c.Request.Context(), service.ContractFilter{
		AccountingStatus: c.Query("status"),
		Search:           c.Query("q"),
		Page:             params.Page,
		Limit:            params.Limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Paginated(http.StatusOK, contracts, params.Page, params.Limit, total))
}

// GetContract returns one contract with items
// @Summary      Get contract
// @Tags         contracts
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Contract ID"
// @Success      200  {object}  response.Response{data=model.Contract}
// @Failure      404  {object}  response.Response
// @Router       /api/contracts/{id} [get]
func (h *ContractHandler) GetContract(c *gin.Context) {
	contract, err := h.contractService.GetContract(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, contract))
}

// SendOrder pushes the contract to the provider as a sales order
// @Summary      Send accounting order
// @Description  Creates a provider order from the contract line items using the category mappings
// @Tags         contracts
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Contract ID"
// @Success      200  {object}  response.Response{data=service.SyncResult}
// @Failure      400  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Failure      502  {object}  response.Response
// @Router       /api/contracts/{id}/send-order [post]
func (h *ContractHandler) SendOrder(c *gin.Context) {
	result, err := h.syncService.SendOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := syncErrorStatus(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// InvoiceContract turns the provider order into an invoice
// @Summary      Invoice contract
// @Description  Creates a provider invoice for the contract's existing order
// @Tags         contracts
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Contract ID"
// @Success      200  {object}  response.Response{data=service.SyncResult}
// @Failure      400  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Failure      502  {object}  response.Response
// @Router       /api/contracts/{id}/invoice [post]
func (h *ContractHandler) InvoiceContract(c *gin.Context) {
	result, err := h.syncService.InvoiceContract(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := syncErrorStatus(err)
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ApplyPayment records a provider payment event
// @Summary      Apply payment update
// @Description  Applies a webhook/poll payment event to the accounting status state machine
// @Tags         contracts
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                         true  "Contract ID"
// @Param        payload  body      service.PaymentUpdateRequest   true  "Payment Payload"
// @Success      200      {object}  response.Response{data=service.SyncResult}
// @Failure      400      {object}  response.Response
// @Router       /api/contracts/{id}/payment [post]
func (h *ContractHandler) ApplyPayment(c *gin.Context) {
	var req service.PaymentUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.syncService.ApplyPaymentUpdate(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// CancelAccounting cancels the contract's accounting flow
// @Summary      Cancel accounting
// @Description  Moves a non-terminal contract to cancelled by explicit operator action
// @Tags         contracts
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Contract ID"
// @Success      200  {object}  response.Response{data=service.SyncResult}
// @Failure      400  {object}  response.Response
// @Router       /api/contracts/{id}/cancel [post]
func (h *ContractHandler) CancelAccounting(c *gin.Context) {
	result, err := h.syncService.CancelAccounting(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}
