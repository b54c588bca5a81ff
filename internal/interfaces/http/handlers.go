package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ashour158/People-sub002/internal/application/service"
	"github.com/Ashour158/People-sub002/internal/application/workflow"
	"github.com/Ashour158/People-sub002/internal/domain/entity"
	"github.com/Ashour158/People-sub002/internal/domain/event"
	domainwf "github.com/Ashour158/People-sub002/internal/domain/workflow"
	"github.com/Ashour158/People-sub002/pkg/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// maxDocumentBytes bounds definition uploads
	maxDocumentBytes = 1 << 20
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details []string    `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Checks    interface{} `json:"checks,omitempty"`
}

// ListRequest represents paging query parameters
type ListRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// ListInstancesRequest represents query parameters for listing instances
type ListInstancesRequest struct {
	ListRequest
	Status     string `form:"status"`
	EntityType string `form:"entity_type"`
	EntityID   string `form:"entity_id"`
}

// DecisionRequest is the body of POST /api/tasks/:id/decision
type DecisionRequest struct {
	ApproverID string `json:"approver_id" binding:"required"`
	Decision   string `json:"decision" binding:"required"`
	Comment    string `json:"comment"`
}

// CancelRequest is the optional body of POST /api/instances/:id/cancel
type CancelRequest struct {
	Reason string `json:"reason"`
}

// DefinitionRequest carries a definition document and an optional sample
// context for the approver dry-run. YAML uploads send the bare document.
type DefinitionRequest struct {
	Definition json.RawMessage        `json:"definition"`
	Sample     map[string]interface{} `json:"sample,omitempty"`
}

// DefinitionResponse is returned after validating or creating a definition
type DefinitionResponse struct {
	Definition *domainwf.Definition      `json:"definition,omitempty"`
	Validation *service.ValidationResult `json:"validation"`
}

// StateResponse reports the instance state after a command
type StateResponse struct {
	ID     string         `json:"id"`
	Status domainwf.State `json:"status"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.deps.Health != nil {
		ok, checks := h.deps.Health(c.Request.Context())
		response.Checks = checks
		if !ok {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// ListInstances handles GET /api/instances
func (h *Handlers) ListInstances(c *gin.Context) {
	var req ListInstancesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters")
		return
	}

	filter := entity.InstanceFilter{
		Status:     domainwf.State(req.Status),
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		h.badRequest(c, "invalid status")
		return
	}
	filter.Limit, filter.Offset = utils.Page(req.Limit, req.Offset, defaultPageSize, maxPageSize)

	h.listInstances(c, filter)
}

// ListErrorInstances handles GET /api/error-instances
func (h *Handlers) ListErrorInstances(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters")
		return
	}

	filter := entity.InstanceFilter{Status: domainwf.StateError}
	filter.Limit, filter.Offset = utils.Page(req.Limit, req.Offset, defaultPageSize, maxPageSize)

	h.listInstances(c, filter)
}

func (h *Handlers) listInstances(c *gin.Context, filter entity.InstanceFilter) {
	instances, err := h.deps.Engine.ListInstances(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "Failed to list instances", err)
		return
	}
	if instances == nil {
		instances = []*entity.Instance{}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    instances,
	})
}

// StartWorkflow handles POST /api/instances
func (h *Handlers) StartWorkflow(c *gin.Context) {
	var req workflow.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	if req.DefinitionID == "" && req.DefinitionName == "" {
		h.badRequest(c, "definition_id or definition_name is required")
		return
	}
	for field, value := range map[string]string{"entity_type": req.EntityType, "entity_id": req.EntityID} {
		if err := utils.ValidateIdentifier(field, value); err != nil {
			h.badRequest(c, err.Error())
			return
		}
	}
	if req.TriggerKey != "" {
		if err := utils.ValidateIdentifier("trigger_key", req.TriggerKey); err != nil {
			h.badRequest(c, err.Error())
			return
		}
	}

	inst, err := h.deps.Engine.StartWorkflow(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Failed to start workflow", err)
		return
	}

	h.logger.Info("Workflow started", "instance_id", inst.ID, "definition", inst.DefinitionName, "status", inst.Status)

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    inst,
	})
}

// GetInstanceState handles GET /api/instances/:id
func (h *Handlers) GetInstanceState(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	state, err := h.deps.Engine.GetInstanceState(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get instance", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    state,
	})
}

// CancelInstance handles POST /api/instances/:id/cancel
func (h *Handlers) CancelInstance(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, "invalid request body")
			return
		}
	}

	state, err := h.deps.Engine.CancelInstance(c.Request.Context(), id, utils.SanitizeString(req.Reason))
	if err != nil {
		h.fail(c, "Failed to cancel instance", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    StateResponse{ID: id, Status: state},
	})
}

// DecideTask handles POST /api/tasks/:id/decision
func (h *Handlers) DecideTask(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	if err := utils.ValidateIdentifier("approver_id", req.ApproverID); err != nil {
		h.badRequest(c, err.Error())
		return
	}

	decision := entity.Decision(strings.ToLower(req.Decision))
	state, err := h.deps.Engine.DecideTask(c.Request.Context(), id, req.ApproverID, decision, utils.SanitizeString(req.Comment))
	if err != nil {
		h.fail(c, "Failed to decide task", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"task_id": id, "instance_status": state},
	})
}

// EscalateTask handles POST /api/tasks/:id/escalate
func (h *Handlers) EscalateTask(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	escalated, err := h.deps.Engine.EscalateTask(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to escalate task", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"task_id": id, "escalated": escalated},
	})
}

// ListDefinitions handles GET /api/definitions
func (h *Handlers) ListDefinitions(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters")
		return
	}
	limit, offset := utils.Page(req.Limit, req.Offset, defaultPageSize, maxPageSize)

	defs, err := h.deps.Definitions.List(c.Request.Context(), limit, offset)
	if err != nil {
		h.fail(c, "Failed to list definitions", err)
		return
	}
	if defs == nil {
		defs = []*domainwf.Definition{}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    defs,
	})
}

// GetDefinition handles GET /api/definitions/:id
func (h *Handlers) GetDefinition(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	def, err := h.deps.Definitions.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get definition", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    def,
	})
}

// ValidateDefinition handles POST /api/definitions/validate
func (h *Handlers) ValidateDefinition(c *gin.Context) {
	def, sample, ok := h.readDefinition(c)
	if !ok {
		return
	}

	result, err := h.deps.Definitions.Validate(c.Request.Context(), def, sample)
	if err != nil {
		h.fail(c, "Definition rejected", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    DefinitionResponse{Validation: result},
	})
}

// CreateDefinition handles POST /api/definitions
func (h *Handlers) CreateDefinition(c *gin.Context) {
	def, sample, ok := h.readDefinition(c)
	if !ok {
		return
	}

	created, result, err := h.deps.Definitions.Create(c.Request.Context(), def, sample)
	if err != nil {
		h.fail(c, "Failed to create definition", err)
		return
	}

	h.logger.Info("Definition created", "id", created.ID, "name", created.Name, "version", created.Version)

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    DefinitionResponse{Definition: created, Validation: result},
	})
}

// GetEvent handles GET /api/events/:id
func (h *Handlers) GetEvent(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	rec, err := h.deps.Outbox.GetEvent(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get event", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    rec,
	})
}

// ListDeadLetters handles GET /api/dead-letters
func (h *Handlers) ListDeadLetters(c *gin.Context) {
	var req ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters")
		return
	}
	limit, offset := utils.Page(req.Limit, req.Offset, defaultPageSize, maxPageSize)

	records, err := h.deps.Outbox.ListByStatus(c.Request.Context(), event.StatusFailed, limit, offset)
	if err != nil {
		h.fail(c, "Failed to list dead letters", err)
		return
	}
	if records == nil {
		records = []*event.Record{}
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    records,
	})
}

// RequeueDeadLetter handles POST /api/dead-letters/:id/requeue
func (h *Handlers) RequeueDeadLetter(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.deps.Outbox.Requeue(c.Request.Context(), id); err != nil {
		h.fail(c, "Failed to requeue event", err)
		return
	}

	h.logger.Info("Dead letter requeued", "event_id", id)

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"event_id": id, "dispatch_status": event.StatusPending},
	})
}

// readDefinition decodes a definition upload. A YAML content type carries
// the bare document; anything else is a DefinitionRequest.
func (h *Handlers) readDefinition(c *gin.Context) (*domainwf.Definition, map[string]interface{}, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDocumentBytes+1))
	if err != nil || len(body) > maxDocumentBytes {
		h.badRequest(c, "definition document is unreadable or too large")
		return nil, nil, false
	}

	doc := body
	var sample map[string]interface{}
	if !strings.Contains(c.ContentType(), "yaml") {
		var req DefinitionRequest
		if err := json.Unmarshal(body, &req); err != nil || len(req.Definition) == 0 {
			h.badRequest(c, "body must be {\"definition\": {...}, \"sample\": {...}}")
			return nil, nil, false
		}
		doc, sample = req.Definition, req.Sample
	}

	def, err := domainwf.ParseDefinition(doc)
	if err != nil {
		h.badRequest(c, err.Error())
		return nil, nil, false
	}
	return def, sample, true
}

func (h *Handlers) pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if err := utils.ValidateIdentifier("id", id); err != nil {
		h.badRequest(c, err.Error())
		return "", false
	}
	return id, true
}

func (h *Handlers) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   msg,
	})
}

// fail maps an application error onto a status code
func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status, resp := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "path", c.Request.URL.Path, "error", err)
		resp.Error = strings.ToLower(msg[:1]) + msg[1:]
	}
	c.JSON(status, resp)
}

func errorResponse(err error) (int, Response) {
	resp := Response{Success: false, Error: err.Error()}

	var (
		validation *domainwf.ValidationError
		cyclic     *domainwf.CyclicWorkflowError
		noEdge     *domainwf.NoMatchingEdgeError
	)

	switch {
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound, resp
	case errors.Is(err, workflow.ErrApproverMismatch):
		return http.StatusForbidden, resp
	case errors.Is(err, workflow.ErrInvalidDecision):
		return http.StatusBadRequest, resp
	case errors.Is(err, workflow.ErrTaskNotPending),
		errors.Is(err, workflow.ErrDefinitionInactive),
		errors.Is(err, service.ErrNotDeadLettered):
		return http.StatusConflict, resp
	case errors.As(err, &validation):
		resp.Error = "workflow definition is invalid"
		resp.Details = validation.Problems
		return http.StatusUnprocessableEntity, resp
	case errors.As(err, &cyclic), errors.As(err, &noEdge):
		return http.StatusUnprocessableEntity, resp
	}
	return http.StatusInternalServerError, resp
}
