package fulfillment

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"domainpay/internal/platform/middleware"
	"domainpay/internal/transport/http/respond"
	pkgerrors "domainpay/pkg/errors"
)

// Provisioner is the slice of the fulfillment service the handler needs.
type Provisioner interface {
	Provision(ctx context.Context, orderID int64, actor, source string) error
}

// Handler exposes the operator retry endpoint. It runs behind JWT auth; the
// authenticated subject becomes the audit actor.
type Handler struct {
	service Provisioner
	logger  *slog.Logger
}

func NewHandler(service Provisioner, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{id}/provision", h.Provision)
	return r
}

// Provision retries fulfillment for a paid order. The call is synchronous:
// the operator sees the registry outcome in the response.
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respond.Error(w, pkgerrors.New(pkgerrors.CodeBadRequest, "order id must be numeric"))
		return
	}

	actor := middleware.GetOperator(r.Context())
	if err := h.service.Provision(r.Context(), id, actor, "manual"); err != nil {
		h.logger.WarnContext(r.Context(), "manual provisioning failed",
			"order_id", id, "actor", actor, "error", err)
		respond.Error(w, err)
		return
	}

	respond.JSON(w, http.StatusOK, map[string]any{
		"order_id": id,
		"status":   "completed",
	})
}
