// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	appErrors "github.com/coldpath/campaign-engine/internal/errors"
	"github.com/coldpath/campaign-engine/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type CampaignController struct {
	CampaignService  *service.CampaignService
	AnalyticsService *service.AnalyticsService
	Reconciler       *service.BounceReconciler
	Validate         *validator.Validate
}

func NewCampaignController(campaigns *service.CampaignService,
	analytics *service.AnalyticsService, reconciler *service.BounceReconciler) *CampaignController {
	return &CampaignController{
		CampaignService:  campaigns,
		AnalyticsService: analytics,
		Reconciler:       reconciler,
		Validate:         validator.New(),
	}
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := c.Validate.Struct(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := c.CampaignService.CreateCampaign(body)
	if err != nil {
		var noValid *appErrors.ErrNoValidRecipients
		if errors.As(err, &noValid) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":              "no valid recipients",
				"invalid_recipients": noValid.Invalid,
				"unsubscribed":       noValid.Unsubscribed,
			})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log.Printf("🚀 Campaign %s created with %d recipients", result.CampaignID, result.TotalRecipients)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	campaigns, pagination, err := c.CampaignService.ListCampaigns(page, pageSize, status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	campaign, err := c.CampaignService.GetCampaign(id)
	if err != nil {
		writeCampaignError(w, err)
		return
	}

	snapshot, err := c.CampaignService.CampaignStatus(id)
	if err != nil {
		writeCampaignError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"campaign": campaign,
		"counts":   snapshot.Counts,
	})
}

func (c *CampaignController) StopCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := c.CampaignService.StopCampaign(id)
	if err != nil {
		writeCampaignError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"campaign_id": id,
		"status":      status,
	})
}

func (c *CampaignController) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snapshot, err := c.CampaignService.CampaignStatus(id)
	if err != nil {
		writeCampaignError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

func (c *CampaignController) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	since, err := parseTimeParam(r, "since")
	if err != nil {
		http.Error(w, "invalid since: must be RFC3339", http.StatusBadRequest)
		return
	}
	until, err := parseTimeParam(r, "until")
	if err != nil {
		http.Error(w, "invalid until: must be RFC3339", http.StatusBadRequest)
		return
	}

	analytics, err := c.AnalyticsService.Aggregate(id, since, until)
	if err != nil {
		writeCampaignError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(analytics)
}

func (c *CampaignController) CheckBounces(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := c.Reconciler.Reconcile(r.Context(), id)
	if err != nil {
		if report != nil {
			// Partial results still go back to the caller.
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(report)
			return
		}
		writeCampaignError(w, err)
		return
	}

	log.Printf("✅ Bounce check for campaign %s: %d scanned, %d bounced", id, report.Scanned, len(report.Bounced))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func writeCampaignError(w http.ResponseWriter, err error) {
	var notFound *appErrors.ErrCampaignNotFound
	if errors.As(err, &notFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
