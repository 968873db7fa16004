package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/slotwise/slotwise/libs/httpx"
	"github.com/slotwise/slotwise/services/booking-service/internal/availability"
	"github.com/slotwise/slotwise/services/booking-service/internal/batch"
	"github.com/slotwise/slotwise/services/booking-service/internal/blocks"
	"github.com/slotwise/slotwise/services/booking-service/internal/cache"
)

// AvailabilityHandler serves the public read endpoints.
type AvailabilityHandler struct {
	checker *batch.Checker
	cache   *cache.CalendarCache
	logger  *slog.Logger
}

func NewAvailabilityHandler(checker *batch.Checker, calendarCache *cache.CalendarCache, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{checker: checker, cache: calendarCache, logger: logger}
}

type slotsQuery struct {
	OrganizationID string `validate:"required"`
	Date           string `validate:"required,datetime=2006-01-02"`
	ServiceID      string `validate:"required"`
	EmployeeID     string
}

func (h *AvailabilityHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	in := slotsQuery{
		OrganizationID: strings.TrimSpace(q.Get("org_id")),
		Date:           strings.TrimSpace(q.Get("date")),
		ServiceID:      strings.TrimSpace(q.Get("service_id")),
		EmployeeID:     strings.TrimSpace(q.Get("employee_id")),
	}
	if !check(w, r, &in) {
		return
	}

	res, err := h.checker.Run(r.Context(), in.OrganizationID, []batch.Query{{
		Date:     in.Date,
		Services: []batch.ServiceRef{{ServiceID: in.ServiceID, EmployeeID: in.EmployeeID}},
	}})
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	slots := res[0].Slots
	if slots == nil {
		slots = []availability.Slot{}
	}
	httpx.WriteJSON(w, http.StatusOK, slots)
}

type blocksRequest struct {
	OrganizationID string             `json:"org_id" validate:"required"`
	Date           string             `json:"date" validate:"required,datetime=2006-01-02"`
	Services       []batch.ServiceRef `json:"services" validate:"required,min=1,dive"`
}

func (h *AvailabilityHandler) Blocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var in blocksRequest
	if !decode(w, r, &in) {
		return
	}

	res, err := h.checker.Run(r.Context(), in.OrganizationID, []batch.Query{{
		Date:     in.Date,
		Services: in.Services,
		Blocks:   true,
	}})
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	found := res[0].Blocks
	if found == nil {
		found = []blocks.Block{}
	}
	httpx.WriteJSON(w, http.StatusOK, found)
}

type calendarQuery struct {
	OrganizationID string   `validate:"required"`
	From           string   `validate:"required,datetime=2006-01-02"`
	To             string   `validate:"required,datetime=2006-01-02"`
	ServiceIDs     []string `validate:"required,min=1,dive,required"`
	EmployeeID     string
}

// Calendar reports which days in [from,to] have anything bookable. service_id
// may repeat to ask for a chain; employee_id pins every service of it.
func (h *AvailabilityHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	in := calendarQuery{
		OrganizationID: strings.TrimSpace(q.Get("org_id")),
		From:           strings.TrimSpace(q.Get("from")),
		To:             strings.TrimSpace(q.Get("to")),
		ServiceIDs:     q["service_id"],
		EmployeeID:     strings.TrimSpace(q.Get("employee_id")),
	}
	if !check(w, r, &in) {
		return
	}
	refs := make([]batch.ServiceRef, 0, len(in.ServiceIDs))
	for _, id := range in.ServiceIDs {
		refs = append(refs, batch.ServiceRef{ServiceID: strings.TrimSpace(id), EmployeeID: in.EmployeeID})
	}

	ctx := r.Context()
	key := h.cache.Key(in.OrganizationID, in.From, in.To, refs)
	if days, ok, err := h.cache.Get(ctx, key); err != nil {
		h.logger.Warn("calendar cache read failed", "err", err)
	} else if ok {
		httpx.WriteJSON(w, http.StatusOK, days)
		return
	}

	days, err := h.checker.Calendar(ctx, in.OrganizationID, in.From, in.To, refs)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	if err := h.cache.Put(ctx, key, days); err != nil {
		h.logger.Warn("calendar cache write failed", "err", err)
	}
	httpx.WriteJSON(w, http.StatusOK, days)
}
