package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/vinayprograms/agentrun/internal/audit"
	"github.com/vinayprograms/agentrun/internal/executor"
	"github.com/vinayprograms/agentrun/internal/faults"
	"github.com/vinayprograms/agentrun/internal/workspace"
)

// WorkspaceSummary describes a registered workspace.
type WorkspaceSummary struct {
	Name      string   `json:"name"`
	Version   string   `json:"version,omitempty"`
	FirstStep string   `json:"first_step"`
	Steps     []string `json:"steps"`
	Functions []string `json:"functions"`
	Source    string   `json:"source,omitempty"`
}

// StartRunRequest is the body of POST /workspaces/:name/runs.
type StartRunRequest struct {
	Inputs map[string]string `json:"inputs"`
}

// RunView is a run snapshot plus the workspace it belongs to.
type RunView struct {
	*executor.Result
	Workspace string `json:"workspace"`
}

func summarize(e *entry) WorkspaceSummary {
	return WorkspaceSummary{
		Name:      e.ws.Name,
		Version:   e.ws.Version,
		FirstStep: e.ws.FirstStep(),
		Steps:     e.ws.Chain(),
		Functions: append([]string{}, e.ws.FuncOrder...),
		Source:    e.source,
	}
}

func (s *Server) createWorkspace(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}
	ws, err := workspace.ParseJSON(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if _, exists := s.lookup(ws.Name); exists {
		return echo.NewHTTPError(http.StatusConflict, "workspace "+ws.Name+" already exists")
	}
	if err := s.Register(ws, ""); err != nil {
		if faults.IsConfiguration(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}
	e, _ := s.lookup(ws.Name)
	return c.JSON(http.StatusCreated, summarize(e))
}

func (s *Server) listWorkspaces(c echo.Context) error {
	out := make([]WorkspaceSummary, 0)
	for _, name := range s.names() {
		if e, ok := s.lookup(name); ok {
			out = append(out, summarize(e))
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getWorkspace(c echo.Context) error {
	e, ok := s.lookup(c.Param("name"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "workspace not found")
	}
	return c.JSON(http.StatusOK, summarize(e))
}

func (s *Server) deleteWorkspace(c echo.Context) error {
	if !s.Unregister(c.Param("name")) {
		return echo.NewHTTPError(http.StatusNotFound, "workspace not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) startRun(c echo.Context) error {
	e, ok := s.lookup(c.Param("name"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "workspace not found")
	}
	var req StartRunRequest
	if c.Request().ContentLength != 0 {
		if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	run := executor.NewRun(req.Inputs)
	s.launch(e, run)
	return c.JSON(http.StatusAccepted, map[string]string{
		"run_id": run.ID,
		"status": string(executor.StatusQueued),
	})
}

func (s *Server) listRuns(c echo.Context) error {
	name := c.Param("name")
	s.mu.RLock()
	var views []RunView
	for _, id := range s.runOrder {
		t := s.runs[id]
		if t.workspace == name {
			views = append(views, RunView{Result: t.run.Snapshot(), Workspace: name})
		}
	}
	s.mu.RUnlock()
	if views == nil {
		views = []RunView{}
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].StartedAt.After(views[j].StartedAt)
	})
	return c.JSON(http.StatusOK, views)
}

func (s *Server) getRun(c echo.Context) error {
	t, ok := s.trackedRun(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, RunView{Result: t.run.Snapshot(), Workspace: t.workspace})
}

func (s *Server) getRunAudit(c echo.Context) error {
	tree, err := audit.LoadTree(c.Request().Context(), s.opts.Store, c.Param("id"))
	if errors.Is(err, audit.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tree)
}

func (s *Server) cancelRun(c echo.Context) error {
	t, ok := s.trackedRun(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if t.run.Status().Terminal() {
		return echo.NewHTTPError(http.StatusConflict, "run already "+string(t.run.Status()))
	}
	t.cancel()
	s.logger.Info("run_cancel_requested", map[string]interface{}{"run_id": t.run.ID})
	return c.JSON(http.StatusAccepted, map[string]string{
		"run_id": t.run.ID,
		"status": string(t.run.Status()),
	})
}
