package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gatehouse.org/internal/delivery"
)

type authorizeDeliveryRequest struct {
	ResidentID      string    `json:"resident_id"`
	UnitNumber      string    `json:"unit_number"`
	DeliveryCompany string    `json:"delivery_company"`
	TrackingNumber  string    `json:"tracking_number"`
	ExpectedDate    time.Time `json:"expected_date"`
	Notes           string    `json:"notes"`
}

type resolveDeliveryRequest struct {
	Outcome string `json:"outcome"`
}

// deliveryView adds the read-time derived fields.
type deliveryView struct {
	delivery.Delivery
	Overdue      bool `json:"overdue"`
	SortPriority int  `json:"sort_priority"`
}

type deliveryList struct {
	Items []deliveryView `json:"items"`
	AsOf  time.Time      `json:"as_of"`
}

func viewOf(d delivery.Delivery, now time.Time) deliveryView {
	return deliveryView{
		Delivery:     d,
		Overdue:      delivery.IsOverdue(d, now),
		SortPriority: delivery.Priority(d.Status),
	}
}

func (a *API) authorizeDelivery(w http.ResponseWriter, r *http.Request) {
	var req authorizeDeliveryRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}
	d, err := a.deps.Deliveries.Authorize(r.Context(), principal(r), delivery.AuthorizeRequest{
		ResidentID:     req.ResidentID,
		UnitNumber:     req.UnitNumber,
		Company:        req.DeliveryCompany,
		TrackingNumber: req.TrackingNumber,
		ExpectedDate:   req.ExpectedDate,
		Notes:          req.Notes,
	})
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/deliveries/"+d.ID)
	writeJSON(w, http.StatusCreated, viewOf(d, a.deps.Deliveries.Now()))
}

func (a *API) getDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := a.deps.Deliveries.Get(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(d, a.deps.Deliveries.Now()))
}

func (a *API) resolveDelivery(w http.ResponseWriter, r *http.Request) {
	var req resolveDeliveryRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}
	outcome := delivery.Status(strings.ToLower(strings.TrimSpace(req.Outcome)))
	d, err := a.deps.Deliveries.Resolve(r.Context(), principal(r), chi.URLParam(r, "id"), outcome)
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(d, a.deps.Deliveries.Now()))
}

func (a *API) cancelDelivery(w http.ResponseWriter, r *http.Request) {
	d, err := a.deps.Deliveries.Cancel(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(d, a.deps.Deliveries.Now()))
}

func (a *API) listDeliveries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	overdue, err := queryBool(r, "overdue")
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	items, err := a.deps.Deliveries.List(r.Context(), principal(r), delivery.ListFilter{
		Status:  delivery.Status(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status")))),
		Overdue: overdue,
		Limit:   limit,
	})
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	now := a.deps.Deliveries.Now()
	out := deliveryList{Items: make([]deliveryView, 0, len(items)), AsOf: now}
	for _, d := range items {
		out.Items = append(out.Items, viewOf(d, now))
	}
	writeJSON(w, http.StatusOK, out)
}
