package handlers

import "net/http"

// Register mounts the booking API on mux.
func Register(mux *http.ServeMux, availability *AvailabilityHandler, series *SeriesHandler) {
	mux.HandleFunc("/api/v1/public/slots", availability.Slots)
	mux.HandleFunc("/api/v1/public/blocks", availability.Blocks)
	mux.HandleFunc("/api/v1/public/calendar", availability.Calendar)
	mux.HandleFunc("/api/v1/series/preview", series.Preview)
	mux.HandleFunc("/api/v1/series", series.Create)
}
