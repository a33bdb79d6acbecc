package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// statusClientClosedRequest reports a generation cut short by the client.
const statusClientClosedRequest = 499

type Server struct {
	store   *GenerationStore
	service *GenerationService
}

func NewServer(store *GenerationStore, service *GenerationService) *Server {
	if store == nil {
		store = NewGenerationStore()
	}
	return &Server{
		store:   store,
		service: service,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/generations", s.handleCreateGeneration)
	e.GET("/v1/generations/:id", s.handleGetGeneration)
	e.DELETE("/v1/generations/:id", s.handleDeleteGeneration)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"generations": s.store.Len(),
	})
}

func (s *Server) handleCreateGeneration(c *echo.Context) error {
	if s.service == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "generation service not configured")
	}
	req, err := decodeJSON[GenerationRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	var writer *SSEStreamWriter
	var streamWriter StreamWriter
	if req.Stream != nil && *req.Stream {
		w, err := NewSSEStreamWriter(c)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
		writer = w
		streamWriter = w
	}

	gen, err := s.service.Create(c.Request().Context(), &req, streamWriter)
	if gen != nil && gen.Status != statusFailed {
		s.store.Save(*gen)
	}
	if err != nil {
		if writer != nil && writer.Started() {
			return nil
		}
		if isClientError(err) {
			return writeBadRequest(c, err.Error())
		}
		if errors.Is(err, c.Request().Context().Err()) && gen != nil {
			return c.JSON(statusClientClosedRequest, gen)
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	if writer != nil {
		return nil
	}
	return c.JSON(http.StatusOK, gen)
}

func (s *Server) handleGetGeneration(c *echo.Context) error {
	gen, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "generation not found")
	}
	return c.JSON(http.StatusOK, gen)
}

func (s *Server) handleDeleteGeneration(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "generation not found")
	}
	return c.JSON(http.StatusOK, DeleteGenerationResp{
		ID:      id,
		Object:  "generation.deleted",
		Deleted: true,
	})
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": APIError{
			Message: msg,
			Type:    errType,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
