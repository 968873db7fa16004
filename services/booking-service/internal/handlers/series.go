package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slotwise/slotwise/libs/httpx"
	"github.com/slotwise/slotwise/services/booking-service/internal/model"
	"github.com/slotwise/slotwise/services/booking-service/internal/recurrence"
)

// SeriesHandler previews and creates recurring appointment series.
type SeriesHandler struct {
	creator *recurrence.Creator
	logger  *slog.Logger
}

func NewSeriesHandler(creator *recurrence.Creator, logger *slog.Logger) *SeriesHandler {
	return &SeriesHandler{creator: creator, logger: logger}
}

type seriesService struct {
	ServiceID string `json:"service_id" validate:"required"`
	// DurationMinutes overrides the catalog duration when set.
	DurationMinutes int `json:"duration_minutes" validate:"omitempty,min=1,max=1440"`
}

type seriesClient struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,max=40"`
}

type seriesRequest struct {
	OrganizationID string             `json:"org_id" validate:"required"`
	EmployeeID     string             `json:"employee_id" validate:"required"`
	Services       []seriesService    `json:"services" validate:"required,min=1,dive"`
	StartTime      string             `json:"start_time" validate:"required"`
	Recurrence     recurrence.Pattern `json:"recurrence"`
	Client         seriesClient       `json:"client"`
	SkipConflicts  bool               `json:"skip_conflicts"`
	SkipNoWork     bool               `json:"skip_no_work"`
}

type appointmentItem struct {
	AppointmentID    string `json:"appointment_id"`
	ServiceID        string `json:"service_id"`
	EmployeeID       string `json:"employee_id"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	Status           string `json:"status"`
	OccurrenceNumber int    `json:"occurrence_number"`
}

type createSeriesResponse struct {
	SeriesID          string                            `json:"series_id"`
	CancellationToken string                            `json:"cancellation_token"`
	Created           []appointmentItem                 `json:"created"`
	Skipped           []recurrence.OccurrenceValidation `json:"skipped"`
}

type rejectedSeriesResponse struct {
	Error       string                            `json:"error"`
	Occurrences []recurrence.OccurrenceValidation `json:"occurrences"`
}

func (h *SeriesHandler) Preview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	occs, err := h.creator.Validator.Preview(r.Context(), req)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, occs)
}

func (h *SeriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, ok := h.parse(w, r)
	if !ok {
		return
	}
	res, err := h.creator.Create(r.Context(), req)
	if errors.Is(err, recurrence.ErrSeriesRejected) {
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, rejectedSeriesResponse{Error: err.Error(), Occurrences: res.Attempted})
		return
	}
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	out := createSeriesResponse{
		SeriesID: res.SeriesID,
		Created:  make([]appointmentItem, 0, len(res.Created)),
		Skipped:  res.Skipped,
	}
	if out.Skipped == nil {
		out.Skipped = []recurrence.OccurrenceValidation{}
	}
	for _, a := range res.Created {
		out.CancellationToken = a.CancellationToken
		out.Created = append(out.Created, toItem(a))
	}
	httpx.WriteJSON(w, http.StatusCreated, out)
}

// parse decodes the body and fills missing service durations from the catalog.
func (h *SeriesHandler) parse(w http.ResponseWriter, r *http.Request) (recurrence.SeriesRequest, bool) {
	var in seriesRequest
	if !decode(w, r, &in) {
		return recurrence.SeriesRequest{}, false
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(in.StartTime))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid start_time")
		return recurrence.SeriesRequest{}, false
	}

	org, err := h.creator.Validator.Store.GetOrganization(r.Context(), in.OrganizationID)
	if err != nil {
		fail(w, r, h.logger, err)
		return recurrence.SeriesRequest{}, false
	}
	services := make([]recurrence.SeriesService, 0, len(in.Services))
	for _, s := range in.Services {
		duration := s.DurationMinutes
		if duration == 0 {
			svc, ok := org.Service(s.ServiceID)
			if !ok {
				httpx.WriteError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown service %q", s.ServiceID))
				return recurrence.SeriesRequest{}, false
			}
			duration = svc.DurationMinutes
		}
		services = append(services, recurrence.SeriesService{ServiceID: s.ServiceID, DurationMinutes: duration})
	}

	return recurrence.SeriesRequest{
		OrganizationID: in.OrganizationID,
		EmployeeID:     in.EmployeeID,
		Services:       services,
		Start:          start,
		Pattern:        in.Recurrence,
		Client:         recurrence.Client{Name: in.Client.Name, Email: in.Client.Email, Phone: in.Client.Phone},
		SkipConflicts:  in.SkipConflicts,
		SkipNoWork:     in.SkipNoWork,
	}, true
}

func toItem(a model.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID:    a.ID,
		ServiceID:        a.ServiceID,
		EmployeeID:       a.EmployeeID,
		StartTime:        a.StartTime.UTC().Format(time.RFC3339),
		EndTime:          a.EndTime.UTC().Format(time.RFC3339),
		Status:           a.Status,
		OccurrenceNumber: a.OccurrenceNumber,
	}
}
