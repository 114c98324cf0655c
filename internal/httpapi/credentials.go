package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gatehouse.org/internal/credential"
)

type issueCredentialRequest struct {
	OwnerID    string    `json:"owner_id"`
	GuestName  string    `json:"guest_name"`
	CodeType   string    `json:"code_type"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`
	MaxUsage   int       `json:"max_usage"`
	Purpose    string    `json:"purpose"`
}

type consumeRequest struct {
	Code string `json:"code"`
}

type consumeResponse struct {
	Outcome    credential.Outcome   `json:"outcome"`
	Accepted   bool                 `json:"accepted"`
	Remaining  int                  `json:"remaining"`
	Credential *presentedCredential `json:"credential,omitempty"`
}

// presentedCredential is what the gate sees after a presentation. The
// shallower Code field shadows the embedded one and is always left empty.
type presentedCredential struct {
	credential.Credential
	Code string `json:"code,omitempty"`
}

type credentialList struct {
	Items []credential.Credential `json:"items"`
	AsOf  time.Time               `json:"as_of"`
}

func (a *API) issueCredential(w http.ResponseWriter, r *http.Request) {
	var req issueCredentialRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}
	cred, err := a.deps.Credentials.Issue(r.Context(), principal(r), credential.IssueRequest{
		OwnerID:    req.OwnerID,
		GuestName:  req.GuestName,
		CodeType:   credential.CodeType(strings.ToUpper(strings.TrimSpace(req.CodeType))),
		ValidFrom:  req.ValidFrom,
		ValidUntil: req.ValidUntil,
		MaxUsage:   req.MaxUsage,
		Purpose:    req.Purpose,
	})
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/credentials/"+cred.ID)
	writeJSON(w, http.StatusCreated, cred)
}

func (a *API) consumeCredential(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if !a.decodeOrReject(w, r, &req) {
		return
	}
	cred, outcome, err := a.deps.Credentials.Consume(r.Context(), principal(r), credential.ConsumeRequest{Code: req.Code})
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	resp := consumeResponse{Outcome: outcome, Accepted: outcome.Accepted()}
	if cred.ID != "" {
		cred.Status = credential.ComputeStatus(cred, a.deps.Credentials.Now())
		resp.Remaining = cred.Remaining()
		resp.Credential = &presentedCredential{Credential: cred}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := a.deps.Credentials.Get(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

func (a *API) revokeCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := a.deps.Credentials.Revoke(r.Context(), principal(r), chi.URLParam(r, "id"))
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cred)
}

func (a *API) listCredentials(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	q := r.URL.Query()
	items, err := a.deps.Credentials.List(r.Context(), principal(r), credential.ListFilter{
		OwnerID: strings.TrimSpace(q.Get("owner_id")),
		Status:  credential.Status(strings.ToLower(strings.TrimSpace(q.Get("status")))),
		Limit:   limit,
	})
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	if items == nil {
		items = []credential.Credential{}
	}
	writeJSON(w, http.StatusOK, credentialList{Items: items, AsOf: a.deps.Credentials.Now()})
}
