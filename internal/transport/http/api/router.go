// Package apihttp exposes the execution group and risk endpoints.
package apihttp

import (
	"net/http"
	"strconv"
	"strings"

	"fandesk/internal/execution"
	"fandesk/internal/logger"
	"fandesk/internal/model"
	"fandesk/internal/registry"
	"fandesk/internal/rms"
	"fandesk/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Router mounts the group, order and risk endpoints. Caller identity comes
// from the X-User-ID header; an upstream gateway is expected to have
// authenticated it.
type Router struct {
	Registry     *registry.Service
	Orchestrator *execution.Orchestrator
	Risk         *rms.Engine
	Store        *store.Store
}

func NewRouter(reg *registry.Service, orch *execution.Orchestrator, risk *rms.Engine, st *store.Store) *Router {
	return &Router{Registry: reg, Orchestrator: orch, Risk: risk, Store: st}
}

// Register mounts the routes on the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	groups := group.Group("/execution-groups")
	groups.POST("", r.handleCreateGroup)
	groups.GET("", r.handleListGroups)
	groups.PATCH("/:id", r.handleUpdateGroup)
	groups.DELETE("/:id", r.handleDeleteGroup)
	groups.POST("/:id/accounts", r.handleAddAccount)
	groups.PATCH("/:id/accounts/:mappingID", r.handleUpdateAccount)
	groups.DELETE("/:id/accounts/:mappingID", r.handleRemoveAccount)
	groups.GET("/:id/allocation-preview", r.handlePreviewAllocation)
	groups.POST("/:id/orders", r.handlePlaceGroupOrder)
	groups.GET("/:id/runs", r.handleListRuns)
	groups.GET("/:id/runs/:runID/events", r.handleListRunEvents)
	groups.GET("/:id/runs/:runID/orders", r.handleListRunOrders)

	risk := group.Group("/risk")
	risk.GET("/config", r.handleGetRiskConfig)
	risk.PATCH("/config", r.handleUpdateRiskConfig)
	risk.GET("/status", r.handleRiskStatus)
	risk.GET("/logs", r.handleRiskLogs)
	risk.POST("/square-off", r.handleSquareOff)
	risk.POST("/enforce", r.handleEnforce)
}

// currentUser parses the X-User-ID header. Returns uuid.Nil after writing
// the response when the header is missing or malformed.
func (r *Router) currentUser(c *gin.Context) uuid.UUID {
	raw := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing X-User-ID header"})
		return uuid.Nil
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid X-User-ID header"})
		return uuid.Nil
	}
	return userID
}

func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func (r *Router) handleCreateGroup(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	var req registry.GroupCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
		return
	}
	if req.Mode == "" {
		req.Mode = model.ExecutionModeSync
	}
	group, err := r.Registry.CreateGroup(c.Request.Context(), userID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.Infof("[api] group created ip=%s user=%s group=%s", c.ClientIP(), userID, group.ID)
	c.JSON(http.StatusCreated, group)
}

func (r *Router) handleListGroups(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	groups, err := r.Registry.ListGroups(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (r *Router) handleUpdateGroup(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	groupID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req registry.GroupUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	group, err := r.Registry.UpdateGroup(c.Request.Context(), userID, groupID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (r *Router) handleDeleteGroup(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	groupID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := r.Registry.DeleteGroup(c.Request.Context(), userID, groupID); err != nil {
		writeError(c, err)
		return
	}
	logger.Infof("[api] group deleted ip=%s user=%s group=%s", c.ClientIP(), userID, groupID)
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (r *Router) handleAddAccount(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	groupID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req registry.AccountCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Policy == "" {
		req.Policy = model.AllocationProportional
	}
	mapping, err := r.Registry.AddAccount(c.Request.Context(), userID, groupID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, mapping)
}

func (r *Router) handleUpdateAccount(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	groupID, ok := parseID(c, "id")
	if !ok {
		return
	}
	mappingID, ok := parseID(c, "mappingID")
	if !ok {
		return
	}
	var req registry.AccountUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mapping, err := r.Registry.UpdateAccount(c.Request.Context(), userID, groupID, mappingID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mapping)
}

func (r *Router) handleRemoveAccount(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	groupID, ok := parseID(c, "id")
	if !ok {
		return
	}
	mappingID, ok := parseID(c, "mappingID")
	if !ok {
		return
	}
	if err := r.Registry.RemoveAccount(c.Request.Context(), userID, groupID, mappingID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (r *Router) handlePreviewAllocation(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	groupID, ok := parseID(c, "id")
	if !ok {
		return
	}
	lots, _ := strconv.Atoi(c.DefaultQuery("lots", "0"))
	allocations, err := r.Registry.PreviewAllocation(c.Request.Context(), userID, groupID, lots)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total_lots": lots, "allocations": allocations})
}

func (r *Router) handlePlaceGroupOrder(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	groupID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req execution.GroupOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.LotSize <= 0 {
		req.LotSize = 1
	}
	if req.OrderType == "" {
		req.OrderType = model.OrderTypeMarket
	}
	result, err := r.Orchestrator.PlaceGroupOrder(c.Request.Context(), userID, groupID, req)
	if err != nil {
		logger.Warnf("[api] group order failed ip=%s user=%s group=%s err=%v", c.ClientIP(), userID, groupID, err)
		writeError(c, err)
		return
	}
	logger.Infof("[api] group order placed ip=%s user=%s group=%s run=%s orders=%d",
		c.ClientIP(), userID, groupID, result.RunID, len(result.Orders))
	c.JSON(http.StatusCreated, result)
}

func (r *Router) handleListRuns(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	groupID, ok := parseID(c, "id")
	if !ok {
		return
	}
	runs, err := r.Registry.GroupRuns(c.Request.Context(), userID, groupID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (r *Router) handleListRunEvents(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	groupID, ok := parseID(c, "id")
	if !ok {
		return
	}
	runID, ok := parseID(c, "runID")
	if !ok {
		return
	}
	events, err := r.Registry.RunEvents(c.Request.Context(), userID, groupID, runID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (r *Router) handleListRunOrders(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	groupID, ok := parseID(c, "id")
	if !ok {
		return
	}
	runID, ok := parseID(c, "runID")
	if !ok {
		return
	}
	orders, err := r.Registry.RunOrders(c.Request.Context(), userID, groupID, runID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (r *Router) handleGetRiskConfig(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	cfg, err := r.Risk.GetConfig(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (r *Router) handleUpdateRiskConfig(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	var patch rms.ConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := r.Risk.UpdateConfig(c.Request.Context(), userID, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.Infof("[api] risk config updated ip=%s user=%s", c.ClientIP(), userID)
	c.JSON(http.StatusOK, cfg)
}

func (r *Router) handleRiskStatus(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	status, err := r.Risk.GetStatus(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (r *Router) handleRiskLogs(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := r.Store.ListLogs(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}

type squareOffRequest struct {
	Reason string `json:"reason"`
}

func (r *Router) handleSquareOff(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	var req squareOffRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	result, err := r.Risk.TriggerSquareOff(c.Request.Context(), userID, strings.TrimSpace(req.Reason), false)
	if err != nil {
		writeError(c, err)
		return
	}
	logger.Infof("[api] square-off requested ip=%s user=%s positions=%d", c.ClientIP(), userID, len(result.Positions))
	c.JSON(http.StatusOK, result)
}

func (r *Router) handleEnforce(c *gin.Context) {
	userID := r.currentUser(c)
	if userID == uuid.Nil {
		return
	}
	executed, err := r.Risk.AutoEnforce(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executed": executed})
}
