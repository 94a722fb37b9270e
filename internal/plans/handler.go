// Package plans serves the read-only plan catalog and provides the client
// other services use to snapshot a plan at order time.
package plans

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joao-fontenele/insureflow/internal/apperr"
	"github.com/joao-fontenele/insureflow/internal/domain"
	"github.com/joao-fontenele/insureflow/internal/httpapi"
)

type Catalog interface {
	List(ctx context.Context, category string, includeInactive bool) ([]domain.PlanSnapshot, error)
	Get(ctx context.Context, id string) (*domain.PlanSnapshot, error)
}

type Handler struct {
	catalog Catalog
	logger  *slog.Logger
}

func NewHandler(catalog Catalog, logger *slog.Logger) *Handler {
	return &Handler{
		catalog: catalog,
		logger:  logger,
	}
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")

	includeInactive := false
	if v := r.URL.Query().Get("include_inactive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			httpapi.WriteError(w, h.logger, apperr.Validation("include_inactive must be a boolean"), "failed to list plans")
			return
		}
		includeInactive = b
	}

	plans, err := h.catalog.List(r.Context(), category, includeInactive)
	if err != nil {
		httpapi.WriteError(w, h.logger, apperr.Persistence("list plans", err), "failed to list plans")
		return
	}

	h.logger.Info("plans listed", "count", len(plans), "category", category)
	httpapi.WriteJSON(w, h.logger, http.StatusOK, plans)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	plan, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		httpapi.WriteError(w, h.logger, apperr.Persistence("get plan", err), "failed to get plan", "plan_id", id)
		return
	}

	if plan == nil {
		httpapi.WriteError(w, h.logger, apperr.NotFound("plan %s not found", id), "failed to get plan", "plan_id", id)
		return
	}

	h.logger.Info("plan retrieved", "plan_id", plan.ID)
	httpapi.WriteJSON(w, h.logger, http.StatusOK, plan)
}
