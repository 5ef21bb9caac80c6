package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pgf-fleet/pgfgate/upstream"
)

const detailTicketUnavailable = "Ticket unavailable"

// Ticket handles GET /work-orders/{id}/ticket, streaming the work order's
// PDF ticket back as a download.
func (a *API) Ticket(w http.ResponseWriter, r *http.Request) {
	escaped := escapedParam(r, "id")
	id, err := url.PathUnescape(escaped)
	if err != nil || id == "" || id == "." || id == ".." {
		writeError(w, http.StatusBadRequest, "invalid work order id")
		return
	}

	resp, err := a.upstream.Do(r.Context(), upstream.Request{
		Op:     "ticket",
		Method: http.MethodGet,
		Path:   a.upstream.APIPath("work-orders", escaped, "ticket"),
		Bearer: accessToken(r),
		Header: forwardHeaders(r),
	})
	if err != nil {
		a.logger.Error("ticket upstream call failed", "work_order", id, "error", err)
		writeAuthError(w, upstreamFailure(err))
		return
	}

	if !resp.OK() {
		if !looksLikeHTML(resp.Body) && json.Valid(resp.Body) {
			writeRaw(w, resp.Status, "application/json", resp.Body)
			return
		}
		writeError(w, resp.Status, detailTicketUnavailable)
		return
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/pdf"
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ticketFilename(id)))
	writeRaw(w, resp.Status, ct, resp.Body)
}

// ticketFilename names the download after the first eight characters of
// the work order id.
func ticketFilename(id string) string {
	var b strings.Builder
	for _, c := range id {
		if b.Len() == 8 {
			break
		}
		if c == '-' || c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') {
			b.WriteRune(c)
		}
	}
	return "ticket-" + b.String() + ".pdf"
}
