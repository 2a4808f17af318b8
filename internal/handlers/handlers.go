package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"clubsite/internal/status"
	"clubsite/internal/store"
	"clubsite/models"

	"github.com/go-playground/validator/v10"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

var validate = validator.New()

// bind decodes the request body into dst and runs its validate tags.
func bind(e *core.RequestEvent, dst any) error {
	if err := e.BindBody(dst); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if err := validate.StructCtx(e.Request.Context(), dst); err != nil {
		var fields validator.ValidationErrors
		if !errors.As(err, &fields) {
			return apis.NewBadRequestError("Invalid request", err)
		}
		msgs := make([]string, len(fields))
		for i, f := range fields {
			msgs[i] = fmt.Sprintf("invalid '%s' with value '%v'", f.Field(), f.Value())
		}
		return apis.NewBadRequestError(strings.Join(msgs, ", "), nil)
	}
	return nil
}

func actor(e *core.RequestEvent) *models.Actor {
	return store.ActorFromRecord(e.Auth)
}

// apiError maps workflow errors onto API responses. Unclassified errors are
// logged and returned without detail.
func apiError(op string, err error) error {
	switch {
	case errors.Is(err, status.ErrUnauthorized):
		return apis.NewUnauthorizedError("Unauthorized", nil)
	case errors.Is(err, status.ErrForbidden):
		return apis.NewForbiddenError("Access denied", nil)
	case errors.Is(err, status.ErrNotFound):
		return apis.NewNotFoundError("Not found", nil)
	case errors.Is(err, status.ErrInsufficientAvailability),
		errors.Is(err, status.ErrOutOfStock),
		errors.Is(err, status.ErrInvalidTransition):
		return apis.NewApiError(http.StatusConflict, err.Error(), nil)
	case status.IsValidation(err):
		return apis.NewBadRequestError(err.Error(), nil)
	case errors.Is(err, status.ErrGateway), errors.Is(err, status.ErrCircuitOpen):
		slog.Error(op, "error", err)
		return apis.NewApiError(http.StatusBadGateway, "Payment provider unavailable", nil)
	}
	slog.Error(op, "error", err)
	return apis.NewInternalServerError("internal error", nil)
}
