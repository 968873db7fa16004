package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/slotwise/slotwise/libs/httpx"
	"github.com/slotwise/slotwise/services/booking-service/internal/availability"
	"github.com/slotwise/slotwise/services/booking-service/internal/batch"
	"github.com/slotwise/slotwise/services/booking-service/internal/blocks"
	"github.com/slotwise/slotwise/services/booking-service/internal/recurrence"
	"github.com/slotwise/slotwise/services/booking-service/internal/schedule"
	"github.com/slotwise/slotwise/services/booking-service/internal/storage"
)

var validate = newValidator()

// newValidator reports fields by their json names where they have one.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and runs its struct tags. It writes the
// 400 itself and reports whether the handler may continue.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid json body")
		return false
	}
	return check(w, r, dst)
}

func check(w http.ResponseWriter, r *http.Request, v any) bool {
	err := validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s: %s", fieldName(fe.Namespace()), fe.Tag()))
		}
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid request: "+strings.Join(fields, ", "))
		return false
	}
	httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
	return false
}

// fieldName drops the struct name from a validator namespace.
func fieldName(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// fail maps an engine or storage error to a status code.
func fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, batch.ErrInvalidQuery),
		errors.Is(err, batch.ErrRangeTooLarge),
		errors.Is(err, availability.ErrInvalidRequest),
		errors.Is(err, blocks.ErrInvalidRequest),
		errors.Is(err, recurrence.ErrInvalidPattern),
		errors.Is(err, recurrence.ErrInvalidRequest):
		httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
	case storage.IsNotFound(err):
		httpx.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, schedule.ErrInvalidSchedule):
		logger.Warn("schedule misconfigured", "err", err)
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.Error("request failed", "err", err, "path", r.URL.Path)
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
