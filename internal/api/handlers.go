package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"daily-triage/internal/model"
	"daily-triage/internal/service"
)

const (
	userKey          = "user"
	cronSecretHeader = "X-Cron-Secret"
)

type tasksResponse struct {
	Tasks []model.Task `json:"tasks"`
}

// Register wires up all API routes on the provided Echo instance.
// An empty cronSecret disables the fleet reset endpoint.
func Register(e *echo.Echo, planner service.Planner, auth Authenticator, cronSecret string, log logrus.FieldLogger) {
	e.JSONSerializer = sonicSerializer{}
	e.GET("/healthz", healthz())

	g := e.Group("/api", requireUser(auth))
	g.GET("/tasks/inbox", listTasks(planner.Inbox, log))
	g.GET("/tasks/today", listTasks(planner.Today, log))
	g.GET("/tasks/trash", listTasks(planner.Trash, log))
	g.GET("/tasks/archive", getArchive(planner, log))
	g.GET("/tasks/:id", getTask(planner, log))
	g.POST("/tasks", createTask(planner, log))
	g.PATCH("/tasks/:id", updateTask(planner, log))
	g.DELETE("/tasks/:id", deleteTask(planner, log))
	g.POST("/tasks/:id/subtasks/:subtaskId/toggle", toggleSubtask(planner, log))
	g.POST("/tasks/:id/:event", transition(planner, log))
	g.POST("/reset", performReset(planner, log))

	e.POST("/api/admin/reset-all", resetAll(planner, cronSecret, log))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func requireUser(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return unauthorized(c, err)
			}
			c.Set(userKey, userID)
			return next(c)
		}
	}
}

func userID(c echo.Context) string {
	id, _ := c.Get(userKey).(string)
	return id
}

func decodeBody(c echo.Context, v interface{}) error {
	if err := c.Echo().JSONSerializer.Deserialize(c, v); err != nil {
		return &model.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func listTasks(load func(ctx context.Context, userID string) ([]model.Task, error), log logrus.FieldLogger) echo.HandlerFunc {
	return func(c echo.Context) error {
		tasks, err := load(c.Request().Context(), userID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		if tasks == nil {
			tasks = []model.Task{}
		}
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
	}
}

func getArchive(planner service.Planner, log logrus.FieldLogger) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 0
		if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return writeError(c, log, &model.ValidationError{Field: "limit", Reason: "must be an integer"})
			}
			if n == 0 {
				return writeError(c, log, &model.ValidationError{Field: "limit", Reason: "must be between 1 and 100"})
			}
			limit = n
		}
		page, err := planner.Archive(c.Request().Context(), userID(c), limit, c.QueryParam("cursor"))
		if err != nil {
			return writeError(c, log, err)
		}
		if page.Tasks == nil {
			page.Tasks = []model.Task{}
		}
		return c.JSON(http.StatusOK, page)
	}
}

func getTask(planner service.Planner, log logrus.FieldLogger) echo.HandlerFunc {
	return func(c echo.Context) error {
		task, err := planner.GetTask(c.Request().Context(), userID(c), c.Param("id"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func createTask(planner service.Planner, log logrus.FieldLogger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var input service.TaskInput
		if err := decodeBody(c, &input); err != nil {
			return writeError(c, log, err)
		}
		task, err := planner.CreateTask(c.Request().Context(), userID(c), input)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func updateTask(planner service.Planner, log logrus.FieldLogger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var patch service.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return writeError(c, log, err)
		}
		task, err := planner.UpdateTask(c.Request().Context(), userID(c), c.Param("id"), patch)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(planner service.Planner, log logrus.FieldLogger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := planner.Transition(c.Request().Context(), userID(c), c.Param("id"), model.EventDelete); err != nil {
			return writeError(c, log, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// transition serves POST /api/tasks/:id/:event for every event except delete.
func transition(planner service.Planner, log logrus.FieldLogger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ev, ok := model.ParseEvent(c.Param("event"))
		if !ok || ev == model.EventDelete {
			return writeError(c, log, &model.ValidationError{Field: "event", Reason: "unknown event " + strconv.Quote(c.Param("event"))})
		}
		task, err := planner.Transition(c.Request().Context(), userID(c), c.Param("id"), ev)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func toggleSubtask(planner service.Planner, log logrus.FieldLogger) echo.HandlerFunc {
	return func(c echo.Context) error {
		sub, err := planner.ToggleSubtask(c.Request().Context(), userID(c), c.Param("id"), c.Param("subtaskId"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, sub)
	}
}

func performReset(planner service.Planner, log logrus.FieldLogger) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := planner.PerformDailyReset(c.Request().Context(), userID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

// resetAll is the cron entry point. Per-user failures are reported in the
// counts; only a failure to enumerate users is an error.
func resetAll(planner service.Planner, cronSecret string, log logrus.FieldLogger) echo.HandlerFunc {
	return func(c echo.Context) error {
		given := c.Request().Header.Get(cronSecretHeader)
		if cronSecret == "" || subtle.ConstantTimeCompare([]byte(given), []byte(cronSecret)) != 1 {
			return unauthorized(c, errors.New("invalid cron secret"))
		}
		report, err := planner.ResetAllUsers(c.Request().Context())
		if err != nil {
			return writeError(c, log, err)
		}
		if report.Err != nil {
			log.WithError(report.Err).Warn("fleet reset finished with failures")
		}
		return c.JSON(http.StatusOK, report)
	}
}
