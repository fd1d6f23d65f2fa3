// Package httpapi exposes the receivables service as a JSON API.
package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/velo-automation/velo/internal/collection"
	"github.com/velo-automation/velo/internal/platform/httpx"
	"github.com/velo-automation/velo/internal/receivables"
	"github.com/velo-automation/velo/internal/shared"
	"github.com/velo-automation/velo/internal/tenant"
)

// TenantHeader names the tenant of a request.
const TenantHeader = "X-Tenant-ID"

// Handler serves the receivables endpoints.
type Handler struct {
	logger        *slog.Logger
	service       *receivables.Service
	validate      *validator.Validate
	defaultTenant string
	eventLimit    int
}

// NewHandler builds a Handler. eventLimit caps partner events per minute and
// tenant; zero disables the cap.
func NewHandler(logger *slog.Logger, service *receivables.Service, defaultTenant string, eventLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTenant == "" {
		defaultTenant = tenant.Default
	}
	return &Handler{
		logger:        logger.With(slog.String("component", "receivables.http")),
		service:       service,
		validate:      validator.New(),
		defaultTenant: defaultTenant,
		eventLimit:    eventLimit,
	}
}

// MountRoutes registers the API under r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.tenantMiddleware)

	r.Get("/invoices", h.listInvoices)
	r.Post("/invoices", h.createInvoice)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Put("/invoices/{id}", h.updateInvoice)
	r.Post("/invoices/{id}/send", h.sendInvoice)
	r.Post("/invoices/{id}/paid", h.markPaid)
	r.Post("/invoices/{id}/collection", h.submitToCollection)

	r.Get("/reminders", h.listReminders)
	r.Get("/collection-cases", h.listCases)
	r.Group(func(gr chi.Router) {
		if h.eventLimit > 0 {
			gr.Use(httprate.Limit(h.eventLimit, time.Minute,
				httprate.WithKeyFuncs(eventRateKey),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "")
				}),
			))
		}
		gr.Post("/collection-cases/events", h.caseEvent)
	})

	r.Post("/dunning/run", h.runDunning)
	r.Get("/dashboard", h.dashboard)
}

func (h *Handler) tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(TenantHeader)
		if id == "" {
			id = h.defaultTenant
		}
		if err := h.validate.Var(id, "max=64,printascii,excludesall=:/ "); err != nil {
			httpx.RespondError(w, fmt.Errorf("tenant %q: %w", id, shared.ErrValidation))
			return
		}
		next.ServeHTTP(w, r.WithContext(tenant.WithID(r.Context(), id)))
	})
}

func eventRateKey(r *http.Request) (string, error) {
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "tenant:" + tenant.IDOrDefault(r.Context()) + ":ip:" + ip, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), op, slog.String("tenant", tenant.IDOrDefault(r.Context())), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	if err := h.validate.Struct(target); err != nil {
		return validationError(err)
	}
	return nil
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.service.ListInvoices(r.Context())
	if err != nil {
		h.fail(w, r, "list invoices", err)
		return
	}
	reminders, err := h.service.ListReminders(r.Context())
	if err != nil {
		h.fail(w, r, "list invoices", err)
		return
	}
	now := h.service.Now()
	out := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		if status := r.URL.Query().Get("status"); status != "" && inv.Label(now) != status && string(inv.Status) != status {
			continue
		}
		out = append(out, newInvoiceResponse(inv, reminders, now))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get invoice", err)
		return
	}
	reminders, err := h.service.ListReminders(r.Context())
	if err != nil {
		h.fail(w, r, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newInvoiceResponse(inv, reminders, h.service.Now()))
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "create invoice", err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, r, "create invoice", err)
		return
	}
	inv, err := h.service.CreateDraft(r.Context(), in)
	if err != nil {
		h.fail(w, r, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newInvoiceResponse(inv, nil, h.service.Now()))
}

func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "update invoice", err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, r, "update invoice", err)
		return
	}
	inv, err := h.service.UpdateDraft(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, "update invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newInvoiceResponse(inv, nil, h.service.Now()))
}

func (h *Handler) sendInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.SendInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "send invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newInvoiceResponse(inv, nil, h.service.Now()))
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.MarkPaid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "mark paid", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newInvoiceResponse(inv, nil, h.service.Now()))
}

func (h *Handler) submitToCollection(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.SubmitToCollection(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "submit to collection", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) listReminders(w http.ResponseWriter, r *http.Request) {
	reminders, err := h.service.ListReminders(r.Context())
	if err != nil {
		h.fail(w, r, "list reminders", err)
		return
	}
	httpx.JSON(w, http.StatusOK, reminders)
}

func (h *Handler) listCases(w http.ResponseWriter, r *http.Request) {
	cases, err := h.service.ListCases(r.Context())
	if err != nil {
		h.fail(w, r, "list collection cases", err)
		return
	}
	httpx.JSON(w, http.StatusOK, cases)
}

func (h *Handler) caseEvent(w http.ResponseWriter, r *http.Request) {
	var req caseEventRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, "collection case event", err)
		return
	}
	var at time.Time
	if req.At != "" {
		parsed, err := time.Parse(time.RFC3339, req.At)
		if err != nil {
			h.fail(w, r, "collection case event", fmt.Errorf("at: %w", shared.ErrValidation))
			return
		}
		at = parsed.UTC()
	}
	c, err := h.service.ApplyCaseUpdate(r.Context(), receivables.CaseEvent{
		CaseID:         req.CaseID,
		ExternalCaseID: req.ExternalCaseID,
		Status:         collection.Status(req.Status),
		At:             at,
	})
	if err != nil {
		h.fail(w, r, "collection case event", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

type runResponse struct {
	Tenant    string `json:"tenant"`
	Issued    int    `json:"issued"`
	Escalated int    `json:"escalated"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) runDunning(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.RunDunning(r.Context())
	if err != nil && len(res.Issued) == 0 && len(res.Cases) == 0 {
		h.fail(w, r, "run dunning", err)
		return
	}
	out := runResponse{
		Tenant:    res.Tenant,
		Issued:    len(res.Issued),
		Escalated: len(res.Cases),
		Skipped:   res.Skipped,
	}
	if err != nil {
		h.logger.WarnContext(r.Context(), "dunning run finished with errors", slog.String("tenant", res.Tenant), slog.Any("error", err))
		out.Error = shared.UserSafeMessage(err)
		httpx.JSON(w, http.StatusMultiStatus, out)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := h.service.Dashboard(r.Context())
	if err != nil {
		h.fail(w, r, "dashboard", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}
