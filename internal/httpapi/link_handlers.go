package httpapi

import (
	"net/http"
	"strings"
	"time"

	"sourcedesk.io/internal/auth"
	"sourcedesk.io/internal/magiclink"
)

type issueLinkRequest struct {
	ClientID      string   `json:"client_id"`
	Scopes        []string `json:"scopes"`
	ExpiresInDays *int     `json:"expires_in_days,omitempty"`
	MaxUses       *int     `json:"max_uses,omitempty"`
	QuotationID   *string  `json:"quotation_id,omitempty"`
}

type linkView struct {
	magiclink.Link
	Status        magiclink.Status `json:"status"`
	RemainingUses *int             `json:"remaining_uses,omitempty"`
}

// issueLinkResponse is the only response that ever carries the raw token.
type issueLinkResponse struct {
	linkView
	Token string `json:"token"`
	URL   string `json:"url"`
}

type listLinksResponse struct {
	Links []linkView `json:"links"`
}

func newLinkView(l magiclink.Link, now time.Time) linkView {
	return linkView{
		Link:          l,
		Status:        magiclink.StatusOf(l, now),
		RemainingUses: l.RemainingUses(),
	}
}

func (a *API) issueLink(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.ensurePermissions(w, r, auth.PermLinksIssue)
	if !ok {
		return
	}

	var req issueLinkRequest
	if err := a.decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	issued, err := a.links.Issue(r.Context(), magiclink.IssueRequest{
		TenantID:      principal.TenantID,
		OperatorID:    principal.UserID,
		SubjectID:     req.ClientID,
		Scopes:        req.Scopes,
		ExpiresInDays: req.ExpiresInDays,
		MaxUses:       req.MaxUses,
		ResourceRef:   req.QuotationID,
	})
	if err != nil {
		handleLinkError(w, r, err)
		return
	}

	fields := map[string]string{
		"client_id":  issued.Link.SubjectID,
		"scopes":     strings.Join(magiclink.ScopeStrings(issued.Link.Scopes), ","),
		"expires_at": issued.Link.ExpiresAt.Format(time.RFC3339),
	}
	if issued.Link.ResourceRef != nil {
		fields["quotation_id"] = *issued.Link.ResourceRef
	}
	a.audit(r.Context(), "magiclink.issued", "magic_link", issued.Link.ID, fields)

	w.Header().Set("Location", "/v1/links/"+issued.Link.ID)
	writeJSON(w, http.StatusCreated, issueLinkResponse{
		linkView: newLinkView(issued.Link, a.links.Now()),
		Token:    issued.RawToken,
		URL:      issued.URL,
	})
}

func (a *API) listLinks(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.ensurePermissions(w, r, auth.PermLinksRead)
	if !ok {
		return
	}
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if clientID == "" {
		writeError(w, r, http.StatusBadRequest, "client_id is required")
		return
	}

	links, err := a.links.List(r.Context(), principal.TenantID, clientID)
	if err != nil {
		handleLinkError(w, r, err)
		return
	}
	now := a.links.Now()
	resp := listLinksResponse{Links: make([]linkView, 0, len(links))}
	for _, l := range links {
		resp.Links = append(resp.Links, newLinkView(l, now))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getLink(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.ensurePermissions(w, r, auth.PermLinksRead)
	if !ok {
		return
	}
	link, err := a.links.Get(r.Context(), principal.TenantID, r.PathValue("id"))
	if err != nil {
		handleLinkError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newLinkView(link, a.links.Now()))
}

func (a *API) revokeLink(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.ensurePermissions(w, r, auth.PermLinksRevoke)
	if !ok {
		return
	}
	link, err := a.links.Revoke(r.Context(), principal.TenantID, r.PathValue("id"))
	if err != nil {
		handleLinkError(w, r, err)
		return
	}
	a.audit(r.Context(), "magiclink.revoked", "magic_link", link.ID, map[string]string{
		"client_id": link.SubjectID,
	})
	writeJSON(w, http.StatusOK, newLinkView(link, a.links.Now()))
}
