package handler

import (
	"net/http"

	"carflow/internal/middleware"
	"carflow/internal/model"
	"carflow/internal/service"
	"carflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type AccountingHandler struct {
	connectionService service.ConnectionService
	mappingService    service.MappingService
}

func NewAccountingHandler(connectionService service.ConnectionService, mappingService service.MappingService) *AccountingHandler {
	return &AccountingHandler{
		connectionService: connectionService,
		mappingService:    mappingService,
	}
}

func (h *AccountingHandler) RegisterRoutes(router *gin.RouterGroup) {
	accounting := router.Group("/api/accounting", middleware.RequireRole(model.RoleAdmin, model.RoleAccountant))
	{
		accounting.GET("/settings", h.GetSettings)
		accounting.PUT("/settings", h.UpdateSettings)
		accounting.POST("/connect", h.InitiateConnect)
		accounting.POST("/connect/complete", h.CompleteConnect)
		accounting.POST("/disconnect", h.Disconnect)
		accounting.GET("/connection/test", h.TestConnection)

		accounting.GET("/vat-codes", h.ListVatCodes)
		accounting.GET("/accounts", h.ListAccounts)
		accounting.POST("/catalogs/refresh", h.RefreshCatalogs)

		accounting.GET("/mappings", h.ListMappings)
		accounting.PUT("/mappings", h.ReplaceMappings)
		accounting.GET("/mappings/validate", h.ValidateMappings)
	}
}

// GetSettings returns the accounting provider settings
// @Summary      Get accounting settings
// @Description  Returns the provider connection state and invoice defaults
// @Tags         accounting
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=model.AccountingSettings}
// @Failure      500  {object}  response.Response
// @Router       /api/accounting/settings [get]
func (h *AccountingHandler) GetSettings(c *gin.Context) {
	settings, err := h.connectionService.GetSettings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, settings))
}

// UpdateSettings edits the invoice defaults
// @Summary      Update accounting defaults
// @Description  Updates payment terms, project/department codes and invoice delivery channel
// @Tags         accounting
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.UpdateSettingsRequest  true  "Settings Payload"
// @Success      200      {object}  response.Response{data=model.AccountingSettings}
// @Failure      400      {object}  response.Response
// @Router       /api/accounting/settings [put]
func (h *AccountingHandler) UpdateSettings(c *gin.Context) {
	var req service.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	settings, err := h.connectionService.UpdateSettings(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, settings))
}

// InitiateConnect starts the provider authorization handshake
// @Summary      Initiate provider connect
// @Description  Returns the provider authorization URL; settings are not mutated until the handshake completes
// @Tags         accounting
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.InitiateConnectResponse}
// @Failure      500  {object}  response.Response
// @Router       /api/accounting/connect [post]
func (h *AccountingHandler) InitiateConnect(c *gin.Context) {
	result, err := h.connectionService.InitiateConnect(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// CompleteConnect finishes the handshake with the provider callback code
// @Summary      Complete provider connect
// @Description  Exchanges the callback code and persists the connected state
// @Tags         accounting
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CompleteConnectRequest  true  "Callback Payload"
// @Success      200      {object}  response.Response{data=model.AccountingSettings}
// @Failure      400      {object}  response.Response
// @Router       /api/accounting/connect/complete [post]
func (h *AccountingHandler) CompleteConnect(c *gin.Context) {
	var req service.CompleteConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	settings, err := h.connectionService.CompleteConnect(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, settings))
}

// Disconnect revokes the provider session
// @Summary      Disconnect provider
// @Description  Revokes the session and flips is_connected off; mappings and ledger history stay
// @Tags         accounting
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response
// @Failure      500  {object}  response.Response
// @Router       /api/accounting/disconnect [post]
func (h *AccountingHandler) Disconnect(c *gin.Context) {
	if err := h.connectionService.Disconnect(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"disconnected": true}))
}

// TestConnection probes the provider connection
// @Summary      Test provider connection
// @Description  Lightweight liveness probe; failures are diagnostics, not sync attempts
// @Tags         accounting
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.TestConnectionResponse}
// @Router       /api/accounting/connection/test [get]
func (h *AccountingHandler) TestConnection(c *gin.Context) {
	result := h.connectionService.TestConnection(c.Request.Context())
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ListVatCodes returns the cached provider VAT code catalog
// @Summary      List cached VAT codes
// @Tags         accounting
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]model.VatCode}
// @Failure      500  {object}  response.Response
// @Router       /api/accounting/vat-codes [get]
func (h *AccountingHandler) ListVatCodes(c *gin.Context) {
	codes, err := h.mappingService.ListVatCodes(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, codes))
}

// ListAccounts returns the cached provider chart of accounts
// @Summary      List cached ledger accounts
// @Tags         accounting
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]model.LedgerAccount}
// @Failure      500  {object}  response.Response
// @Router       /api/accounting/accounts [get]
func (h *AccountingHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.mappingService.ListAccounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, accounts))
}

// RefreshCatalogs refetches the provider catalogs
// @Summary      Refresh remote catalogs
// @Description  Fetches VAT codes and accounts from the provider and replaces the caches wholesale
// @Tags         accounting
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response
// @Failure      400  {object}  response.Response
// @Router       /api/accounting/catalogs/refresh [post]
func (h *AccountingHandler) RefreshCatalogs(c *gin.Context) {
	if err := h.mappingService.RefreshCatalogs(c.Request.Context()); err != nil {
		status := http.StatusBadGateway
		if service.IsConfigError(err) {
			status = http.StatusBadRequest
		}
		c.JSON(status, response.Error(status, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"refreshed": true}))
}

// ListMappings returns VAT and account mappings for every category
// @Summary      List category mappings
// @Description  Returns one row per category in the configured set, empty rows included
// @Tags         accounting
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.MappingsResponse}
// @Failure      500  {object}  response.Response
// @Router       /api/accounting/mappings [get]
func (h *AccountingHandler) ListMappings(c *gin.Context) {
	mappings, err := h.mappingService.ListMappings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, mappings))
}

// ReplaceMappings saves the full mapping arrays
// @Summary      Replace category mappings
// @Description  Replaces stored VAT and account mappings wholesale per save
// @Tags         accounting
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.ReplaceMappingsRequest  true  "Mappings Payload"
// @Success      200      {object}  response.Response{data=service.MappingsResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/accounting/mappings [put]
func (h *AccountingHandler) ReplaceMappings(c *gin.Context) {
	var req service.ReplaceMappingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	mappings, err := h.mappingService.ReplaceMappings(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, mappings))
}

// ValidateMappings runs the pre-flight mapping check
// @Summary      Validate category mappings
// @Description  Reports whether every category has a VAT code and income account mapped
// @Tags         accounting
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.ValidationResult}
// @Failure      500  {object}  response.Response
// @Router       /api/accounting/mappings/validate [get]
func (h *AccountingHandler) ValidateMappings(c *gin.Context) {
	result, err := h.mappingService.ValidateMappings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, err.Error()))
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}
