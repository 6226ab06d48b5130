// Package api exposes the workflow execution core over HTTP. Routing and
// validation stay thin here; every decision belongs to the engine, and the
// typed error taxonomy maps onto status codes in exactly one place.
package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/stepflow-io/stepflow"
	"github.com/stepflow-io/stepflow/engine"
)

// API wires the engine into a fiber application
type API struct {
	engine *engine.Engine
	logger zerolog.Logger
}

// New creates the HTTP layer over the given engine
func New(eng *engine.Engine, logger zerolog.Logger) *API {
	return &API{engine: eng, logger: logger}
}

// Register mounts all routes on the application
func (a *API) Register(app *fiber.App) {
	app.Use(a.requestLogger)

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "service": "stepflow"})
	})

	workflows := app.Group("/workflows")
	workflows.Post("/", a.handleCreateDefinition)
	workflows.Get("/", a.handleListDefinitions)
	workflows.Post("/dependencies", a.handleAddDependency)
	workflows.Delete("/dependencies/:id", a.handleDeleteDependency)
	workflows.Patch("/steps/:stepId", a.handleUpdateStep)
	workflows.Delete("/steps/:stepId", a.handleDeleteStep)
	workflows.Get("/:defId", a.handleGetDefinition)
	workflows.Patch("/:defId", a.handleUpdateDefinition)
	workflows.Delete("/:defId", a.handleDeleteDefinition)
	workflows.Post("/:defId/steps", a.handleAddStep)

	instances := app.Group("/instances")
	instances.Post("/", a.handleStartInstance)
	instances.Get("/", a.handleListInstances)
	instances.Get("/:id", a.handleGetInstance)
	instances.Delete("/:id", a.handleCancelInstance)
	instances.Get("/:id/progress", a.handleGetProgress)
	instances.Patch("/:id/steps/:stepId/status", a.handleRequestTransition)
	instances.Post("/:id/steps/:stepId/advance", a.handleAdvance)
	instances.Post("/:id/steps/:stepId/complete", a.handleComplete)
}

// requestLogger emits one structured line per request
func (a *API) requestLogger(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	a.logger.Info().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("duration", time.Since(start)).
		Msg("Request handled")
	return err
}

// respondError maps the core error taxonomy onto HTTP status codes. The
// envelope always carries the stable code plus structured details.
func (a *API) respondError(c fiber.Ctx, err error) error {
	e := stepflow.AsError(err)
	status := fiber.StatusInternalServerError
	switch e.Code {
	case stepflow.ErrCodeBadRequest:
		status = fiber.StatusBadRequest
	case stepflow.ErrCodeNotFound:
		status = fiber.StatusNotFound
	case stepflow.ErrCodeInvalidTransition, stepflow.ErrCodeDepNotReady:
		status = fiber.StatusConflict
	}
	if e.Code == stepflow.ErrCodeInternalError {
		a.logger.Error().Err(e).Str("path", c.Path()).Msg("Internal error")
	}
	return c.Status(status).JSON(fiber.Map{"error": e})
}

// Definition handlers

func (a *API) handleCreateDefinition(c fiber.Ctx) error {
	var in engine.CreateDefinitionInput
	if err := c.Bind().JSON(&in); err != nil {
		return a.respondError(c, stepflow.NewBadRequest("invalid request body"))
	}
	def, err := a.engine.CreateDefinition(c.Context(), in)
	if err != nil {
		return a.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(def)
}

func (a *API) handleListDefinitions(c fiber.Ctx) error {
	defs, err := a.engine.ListDefinitions(c.Context(), c.Query("status"))
	if err != nil {
		return a.respondError(c, err)
	}
	return c.JSON(fiber.Map{"items": defs})
}

func (a *API) handleGetDefinition(c fiber.Ctx) error {
	detail, err := a.engine.GetDefinition(c.Context(), c.Params("defId"))
	if err != nil {
		return a.respondError(c, err)
	}
	return c.JSON(detail)
}

func (a *API) handleUpdateDefinition(c fiber.Ctx) error {
	var in engine.UpdateDefinitionInput
	if err := c.Bind().JSON(&in); err != nil {
		return a.respondError(c, stepflow.NewBadRequest("invalid request body"))
	}
	def, err := a.engine.UpdateDefinition(c.Context(), c.Params("defId"), in)
	if err != nil {
		return a.respondError(c, err)
	}
	return c.JSON(def)
}

func (a *API) handleDeleteDefinition(c fiber.Ctx) error {
	if err := a.engine.DeleteDefinition(c.Context(), c.Params("defId")); err != nil {
		return a.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (a *API) handleAddStep(c fiber.Ctx) error {
	var in engine.StepInput
	if err := c.Bind().JSON(&in); err != nil {
		return a.respondError(c, stepflow.NewBadRequest("invalid request body"))
	}
	step, err := a.engine.AddStep(c.Context(), c.Params("defId"), in)
	if err != nil {
		return a.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(step)
}

func (a *API) handleUpdateStep(c fiber.Ctx) error {
	var in engine.UpdateStepInput
	if err := c.Bind().JSON(&in); err != nil {
		return a.respondError(c, stepflow.NewBadRequest("invalid request body"))
	}
	step, err := a.engine.UpdateStep(c.Context(), c.Params("stepId"), in)
	if err != nil {
		return a.respondError(c, err)
	}
	return c.JSON(step)
}

func (a *API) handleDeleteStep(c fiber.Ctx) error {
	if err := a.engine.DeleteStep(c.Context(), c.Params("stepId")); err != nil {
		return a.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (a *API) handleAddDependency(c fiber.Ctx) error {
	var in engine.DependencyInput
	if err := c.Bind().JSON(&in); err != nil {
		return a.respondError(c, stepflow.NewBadRequest("invalid request body"))
	}
	dep, err := a.engine.AddDependency(c.Context(), in)
	if err != nil {
		return a.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dep)
}

func (a *API) handleDeleteDependency(c fiber.Ctx) error {
	if err := a.engine.DeleteDependency(c.Context(), c.Params("id")); err != nil {
		return a.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Instance handlers

type startInstanceRequest struct {
	DefinitionID string `json:"definitionId"`
}

func (a *API) handleStartInstance(c fiber.Ctx) error {
	var req startInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return a.respondError(c, stepflow.NewBadRequest("invalid request body"))
	}
	inst, err := a.engine.StartInstance(c.Context(), req.DefinitionID)
	if err != nil {
		return a.respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(inst)
}

func (a *API) handleListInstances(c fiber.Ctx) error {
	q := engine.ListInstancesQuery{
		DefinitionID: c.Query("definitionId"),
		Status:       c.Query("status"),
		Cursor:       c.Query("cursor"),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return a.respondError(c, stepflow.NewBadRequest("malformed limit %q", raw))
		}
		q.Limit = limit
	}
	page, err := a.engine.ListInstances(c.Context(), q)
	if err != nil {
		return a.respondError(c, err)
	}
	return c.JSON(page)
}

func (a *API) handleGetInstance(c fiber.Ctx) error {
	detail, err := a.engine.GetInstance(c.Context(), c.Params("id"))
	if err != nil {
		return a.respondError(c, err)
	}
	return c.JSON(detail)
}

func (a *API) handleCancelInstance(c fiber.Ctx) error {
	inst, err := a.engine.CancelInstance(c.Context(), c.Params("id"))
	if err != nil {
		return a.respondError(c, err)
	}
	return c.JSON(inst)
}

func (a *API) handleGetProgress(c fiber.Ctx) error {
	progress, err := a.engine.GetProgress(c.Context(), c.Params("id"))
	if err != nil {
		return a.respondError(c, err)
	}
	return c.JSON(progress)
}

type transitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (a *API) handleRequestTransition(c fiber.Ctx) error {
	var req transitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return a.respondError(c, stepflow.NewBadRequest("invalid request body"))
	}
	result, err := a.engine.RequestTransition(c.Context(), c.Params("id"), c.Params("stepId"), req.Status)
	if err != nil {
		return a.respondError(c, err)
	}
	return c.JSON(result)
}

func (a *API) handleAdvance(c fiber.Ctx) error {
	result, err := a.engine.Advance(c.Context(), c.Params("id"), c.Params("stepId"))
	if err != nil {
		return a.respondError(c, err)
	}
	return c.JSON(result)
}

func (a *API) handleComplete(c fiber.Ctx) error {
	result, err := a.engine.Complete(c.Context(), c.Params("id"), c.Params("stepId"))
	if err != nil {
		return a.respondError(c, err)
	}
	return c.JSON(result)
}
