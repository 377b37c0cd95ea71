package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/blog-accounts/internal/auth"
	"github.com/prn-tf/blog-accounts/internal/domain"
	"github.com/prn-tf/blog-accounts/internal/repository"
	"github.com/prn-tf/blog-accounts/internal/service"
	"github.com/prn-tf/blog-accounts/internal/validation"
)

// dateLayout is the format of the fromDate and toDate query parameters.
const dateLayout = "2006-01-02"

// AuditHandler serves the audit event endpoints.
type AuditHandler struct {
	audits *service.AuditService
	logger zerolog.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(audits *service.AuditService, logger zerolog.Logger) *AuditHandler {
	return &AuditHandler{
		audits: audits,
		logger: logger.With().Str("handler", "audit").Logger(),
	}
}

// RegisterRoutes registers audit routes on r.
func (h *AuditHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuthority(domain.RoleAdmin))
		r.Get("/audits", h.handleList)
		r.Get("/audits/{id}", h.handleGet)
	})
}

// handleList returns a page of events. With fromDate and toDate it returns
// the events of those days, toDate included.
func (h *AuditHandler) handleList(w http.ResponseWriter, r *http.Request) {
	page := parsePage(r)
	q := r.URL.Query()

	var (
		result *repository.ListResult[domain.AuditEvent]
		err    error
	)
	if q.Has("fromDate") || q.Has("toDate") {
		from, ferr := time.ParseInLocation(dateLayout, q.Get("fromDate"), time.UTC)
		to, terr := time.ParseInLocation(dateLayout, q.Get("toDate"), time.UTC)
		if ferr != nil || terr != nil {
			writeError(w, r, h.logger, &validation.Error{Fields: []validation.FieldError{
				{Field: "fromDate", Message: "Pattern"},
				{Field: "toDate", Message: "Pattern"},
			}})
			return
		}
		result, err = h.audits.ListBetween(r.Context(), from, to.AddDate(0, 0, 1), page.listOptions())
	} else {
		result, err = h.audits.List(r.Context(), page.listOptions())
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	items := result.Items
	if items == nil {
		items = []*domain.AuditEvent{}
	}
	writePaginationHeaders(w, r, page, result.Total)
	writeJSON(w, http.StatusOK, items)
}

func (h *AuditHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, h.logger, domain.ErrAuditEventNotFound)
		return
	}

	event, found, err := h.audits.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !found {
		writeError(w, r, h.logger, domain.ErrAuditEventNotFound)
		return
	}
	writeJSON(w, http.StatusOK, event)
}
