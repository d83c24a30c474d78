// internal/handler/tracking_handler.go
package handler

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/coldpath/campaign-engine/internal/errors"
	"github.com/coldpath/campaign-engine/internal/repository"
)

// transparentGIF is a 1x1 transparent pixel, served on every open hit.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x04, 0x01, 0x00, 0x3b,
}

// TrackingHandler serves the engagement endpoints embedded in outgoing mail.
// These are hit by mail clients, proxies and scanners, so every handler
// answers the same way whether or not the tracking ID is known.
type TrackingHandler struct {
	TrackingRepo repository.TrackingRepositoryInterface
	Now          func() time.Time
}

func NewTrackingHandler(tracking repository.TrackingRepositoryInterface) *TrackingHandler {
	return &TrackingHandler{TrackingRepo: tracking, Now: time.Now}
}

// TrackOpen records an open and returns the pixel. Unknown or stale IDs get
// the pixel too; the response never reveals whether the ID resolved.
func (h *TrackingHandler) TrackOpen(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingID")

	if _, err := h.TrackingRepo.RecordOpen(trackingID, h.Now().UTC()); err != nil {
		log.Println("❌ Failed to record open:", err)
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(transparentGIF)
}

// TrackClick records a click and redirects to the original destination.
func (h *TrackingHandler) TrackClick(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingID")
	destination := r.URL.Query().Get("url")

	if _, err := h.TrackingRepo.RecordClick(trackingID, h.Now().UTC()); err != nil {
		log.Println("❌ Failed to record click:", err)
	}

	if destination == "" {
		destination = "/"
	}
	http.Redirect(w, r, destination, http.StatusFound)
}

// Unsubscribe flags the recipient and shows a confirmation page. The flag
// suppresses the address from future campaigns.
func (h *TrackingHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingID")

	changed, err := h.TrackingRepo.MarkUnsubscribed(trackingID, h.Now().UTC())
	if err != nil {
		log.Println("❌ Failed to record unsubscribe:", err)
	}
	if changed {
		log.Printf("✅ Recipient unsubscribed via %s", trackingID)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<html><body style="font-family:sans-serif;text-align:center;margin-top:80px">`+
		`<h2>You have been unsubscribed</h2>`+
		`<p>You will not receive further emails from this sender.</p>`+
		`</body></html>`)
}

// GetTrackingDetails returns the engagement record for one tracking ID.
func (h *TrackingHandler) GetTrackingDetails(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingID")

	record, err := h.TrackingRepo.GetByTrackingID(trackingID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if record == nil {
		http.Error(w, appErrors.NewTrackingNotFound(trackingID).Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}
