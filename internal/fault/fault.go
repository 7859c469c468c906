// Package fault is the last stop for errors nobody else handled: it logs
// them under an incident ID and tells the caller whether to shut down.
package fault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// UserError is an error raised on purpose by application code. Setting
// CloseApplication asks the process to stop after the error is handled.
type UserError struct {
	Message          string
	CloseApplication bool
	Err              error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// Incident describes one handled error.
type Incident struct {
	ID    string
	Where string
	Err   error
}

// Notifier forwards incidents to somewhere outside the process log.
type Notifier interface {
	Notify(ctx context.Context, incident Incident) error
}

type Handler struct {
	logger   *slog.Logger
	notifier Notifier
}

// NewHandler creates a Handler. notifier may be nil.
func NewHandler(logger *slog.Logger, notifier Notifier) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{logger: logger, notifier: notifier}
}

// Handle logs err and passes it to the notifier. It reports true only when
// err is a *UserError that asks to close the application.
func (h *Handler) Handle(ctx context.Context, err error, where string) bool {
	if err == nil {
		return false
	}
	h.Report(ctx, err, where)

	var userErr *UserError
	return errors.As(err, &userErr) && userErr.CloseApplication
}

// Report records err as a new incident and returns it, so the incident ID
// can be shown to a client.
func (h *Handler) Report(ctx context.Context, err error, where string) Incident {
	incident := Incident{ID: uuid.NewString(), Where: where, Err: err}

	h.logger.ErrorContext(ctx, "unhandled error",
		slog.String("incident_id", incident.ID),
		slog.String("where", where),
		slog.String("error", err.Error()),
	)

	if h.notifier != nil {
		if nerr := h.notifier.Notify(ctx, incident); nerr != nil {
			h.logger.WarnContext(ctx, "failed to notify incident",
				slog.String("incident_id", incident.ID),
				slog.String("error", nerr.Error()),
			)
		}
	}
	return incident
}
