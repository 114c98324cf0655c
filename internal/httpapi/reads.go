package httpapi

import (
	"net/http"
	"strings"
	"time"

	"gatehouse.org/internal/apperr"
	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/directory"
)

func (a *API) listAccessLog(w http.ResponseWriter, r *http.Request) {
	if a.deps.AccessLog == nil {
		writeError(w, r, http.StatusServiceUnavailable, "access log is not configured")
		return
	}
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	since, err := queryTime(q.Get("since"), "since")
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	until, err := queryTime(q.Get("until"), "until")
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	entries, err := a.deps.AccessLog.List(r.Context(), principal(r), audit.Filter{
		ActorID:      strings.TrimSpace(q.Get("actor_id")),
		CredentialID: strings.TrimSpace(q.Get("credential_id")),
		Result:       audit.Result(strings.ToLower(strings.TrimSpace(q.Get("result")))),
		Since:        since,
		Until:        until,
		Limit:        limit,
	})
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (a *API) listResidents(w http.ResponseWriter, r *http.Request) {
	if a.deps.Residents == nil {
		writeError(w, r, http.StatusServiceUnavailable, "resident directory is not configured")
		return
	}
	residents, err := directory.List(r.Context(), principal(r), a.deps.Residents)
	if err != nil {
		a.writeAppError(w, r, err)
		return
	}
	if residents == nil {
		residents = []directory.Resident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": residents})
}

func queryTime(raw, field string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.Validation(field, "must be an RFC 3339 timestamp")
	}
	return t.UTC(), nil
}
