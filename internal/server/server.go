// Package server exposes the engine's HTTP boundary: scenario execution,
// per-account scripts, and fire-and-forget batch scripts.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hainguyen99-cdm/farcastertool/internal/runner"
	"github.com/hainguyen99-cdm/farcastertool/internal/store"
	"github.com/hainguyen99-cdm/farcastertool/internal/validation"
	"github.com/hainguyen99-cdm/farcastertool/pkg/schema"
)

// Server wires the HTTP handlers to the runner and stores.
type Server struct {
	runner    *runner.Runner
	accounts  store.AccountStore
	scenarios store.ScenarioStore
	logs      store.LogStore
	validator *validation.Validator
	log       *slog.Logger
	engine    *gin.Engine
}

// New builds the server and registers all routes.
func New(r *runner.Runner, accounts store.AccountStore, scenarios store.ScenarioStore, logs store.LogStore, validator *validation.Validator, log *slog.Logger) *Server {
	s := &Server{
		runner:    r,
		accounts:  accounts,
		scenarios: scenarios,
		logs:      logs,
		validator: validator,
		log:       log,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.POST("/scenarios", s.createScenario)
	engine.GET("/scenarios", s.listScenarios)
	engine.POST("/scenarios/:id/execute", s.executeScenario)
	engine.POST("/accounts/:id/script", s.runAccountScript)
	engine.POST("/scripts/execute", s.executeScriptBatch)
	engine.GET("/logs", s.listLogs)

	s.engine = engine
	return s
}

// Router returns the underlying gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.engine }

// Run serves HTTP on the given address until the listener fails.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

type scriptRequest struct {
	Actions []schema.Action `json:"actions" binding:"required"`
	Shuffle bool            `json:"shuffle"`
	Loop    int             `json:"loop"`
}

type executeScenarioRequest struct {
	AccountIDs []string `json:"accountIds" binding:"required"`
}

type executeBatchRequest struct {
	AccountIDs []string        `json:"accountIds" binding:"required"`
	Actions    []schema.Action `json:"actions" binding:"required"`
	Shuffle    bool            `json:"shuffle"`
	Loop       int             `json:"loop"`
}

func (s *Server) createScenario(c *gin.Context) {
	var sc schema.Scenario
	if err := c.ShouldBindJSON(&sc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scenario payload: " + err.Error()})
		return
	}
	if sc.Loop < 1 {
		sc.Loop = 1
	}
	if err := s.validator.ValidateScenario(&sc); err != nil {
		s.renderError(c, err)
		return
	}
	if err := s.scenarios.CreateScenario(c.Request.Context(), &sc); err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sc)
}

func (s *Server) listScenarios(c *gin.Context) {
	scenarios, err := s.scenarios.ListScenarios(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	if scenarios == nil {
		scenarios = []*schema.Scenario{}
	}
	c.JSON(http.StatusOK, gin.H{"scenarios": scenarios})
}

// executeScenario runs a persisted scenario against the requested accounts
// and reports per-account loop counts.
func (s *Server) executeScenario(c *gin.Context) {
	var req executeScenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accountIds is required"})
		return
	}
	if len(req.AccountIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accountIds must be non-empty"})
		return
	}

	results, err := s.runner.RunScenario(c.Request.Context(), c.Param("id"), req.AccountIDs)
	if err != nil {
		s.renderError(c, err)
		return
	}

	summaries := make([]gin.H, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		summaries = append(summaries, gin.H{"accountId": r.AccountID, "loopsRun": r.LoopsExecuted})
	}
	c.JSON(http.StatusOK, gin.H{"executed": true, "results": summaries})
}

// runAccountScript executes an ad-hoc action list against one account and
// returns the full per-action outcome list.
func (s *Server) runAccountScript(c *gin.Context) {
	var req scriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "actions is required"})
		return
	}
	if err := s.validator.ValidateActions(req.Actions); err != nil {
		s.renderError(c, err)
		return
	}

	account, err := s.accounts.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}

	result, runErr := s.runner.RunScript(c.Request.Context(), account, req.Actions, req.Shuffle, req.Loop)
	resp := gin.H{
		"accountId":       account.ID,
		"actionsExecuted": result.ActionsExecuted,
		"loopsExecuted":   result.LoopsExecuted,
		"results":         result.PerAction,
	}
	if runErr != nil {
		resp["error"] = runErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// executeScriptBatch validates and kicks off a background batch run, then
// returns immediately.
func (s *Server) executeScriptBatch(c *gin.Context) {
	var req executeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accountIds and actions are required"})
		return
	}
	if err := s.validator.ValidateActions(req.Actions); err != nil {
		s.renderError(c, err)
		return
	}

	accounts, err := s.accounts.ListAccounts(c.Request.Context(), req.AccountIDs)
	if err != nil {
		s.renderError(c, err)
		return
	}

	// Detached from the request context: the run outlives the response.
	go func() {
		s.runner.RunScriptBatch(context.Background(), accounts, req.Actions, req.Shuffle, req.Loop)
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "started", "accounts": req.AccountIDs})
}

func (s *Server) listLogs(c *gin.Context) {
	filter := store.LogFilter{
		AccountID:     c.Query("accountId"),
		CorrelationID: c.Query("correlationId"),
	}
	if status := c.Query("status"); status != "" {
		filter.Status = schema.LogStatus(status)
	}

	entries, err := s.logs.ListLogs(c.Request.Context(), filter)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if entries == nil {
		entries = []*schema.LogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}

// renderError maps engine error codes onto HTTP statuses.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var ee *schema.EngineError
	if errors.As(err, &ee) {
		switch ee.Code {
		case schema.ErrCodeValidation, schema.ErrCodeUnknownAction:
			status = http.StatusBadRequest
		case schema.ErrCodeNotFound:
			status = http.StatusNotFound
		case schema.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		case schema.ErrCodeReadiness:
			status = http.StatusUnprocessableEntity
		case schema.ErrCodeCircuitOpen:
			status = http.StatusServiceUnavailable
		}
	}
	if status >= 500 {
		s.log.ErrorContext(c.Request.Context(), "request failed", slog.String("error", err.Error()))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
