package listing

import (
	"context"
	"net/http"

	"github.com/ireside/ireside/internal/audit"
	"github.com/ireside/ireside/internal/auth"
	"github.com/ireside/ireside/internal/notification"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/middleware"
)

// HandleSubmitInquiry records an inquiry from a visitor or a signed-in
// tenant and notifies the landlord.
// POST /api/v1/public/listings/{id}/inquiries
func (h *Handler) HandleSubmitInquiry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	applicantID := ""
	switch sess.Role {
	case database.RoleAnon, "":
	case auth.RoleTenant:
		applicantID = sess.UserID
	default:
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "only tenants can submit inquiries"})
		return
	}

	var in InquiryInput
	if !decodeBody(w, r, &in) {
		return
	}
	if err := in.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var inq *Inquiry
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		if inq, err = h.store.SubmitInquiry(ctx, q, id, applicantID, in); err != nil {
			return err
		}
		return h.notifier.Enqueue(ctx, q, notification.Draft{
			UserID: inq.LandlordID,
			Kind:   notification.KindInquiryReceived,
			Title:  "New inquiry: " + inq.ListingTitle,
			Body:   inq.Name + " asked about your listing.",
			Data:   map[string]any{"inquiry_id": inq.ID, "listing_id": inq.ListingID},
		})
	})
	if err != nil {
		writeStoreError(w, err, "failed to submit inquiry")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionInquirySubmitted, "inquiry", inq.ID, map[string]any{"listing_id": id})
	writeJSON(w, http.StatusCreated, map[string]string{"id": inq.ID, "status": inq.Status})
}

// HandleListInquiries lists inquiries on the caller's listings.
// GET /api/v1/inquiries?status=&listing_id=&limit=&offset=
func (h *Handler) HandleListInquiries(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pageParams(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid pagination"})
		return
	}
	status := r.URL.Query().Get("status")
	switch status {
	case "", InquiryNew, InquiryRead, InquiryReplied, InquiryArchived:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}
	listingID := r.URL.Query().Get("listing_id")

	sess := middleware.GetSession(r.Context())
	var inquiries []Inquiry
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		inquiries, err = h.store.ListInquiries(ctx, q, sess.UserID, status, listingID, limit, offset)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to list inquiries")
		return
	}

	if inquiries == nil {
		inquiries = []Inquiry{}
	}
	writeJSON(w, http.StatusOK, inquiries)
}

// HandleGetInquiry returns an inquiry, marking it read on first view.
// GET /api/v1/inquiries/{id}
func (h *Handler) HandleGetInquiry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var inq *Inquiry
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		inq, err = h.store.OpenInquiry(ctx, q, sess.UserID, id)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to get inquiry")
		return
	}
	writeJSON(w, http.StatusOK, inq)
}

// HandleTransitionInquiry moves an inquiry to a new status.
// POST /api/v1/inquiries/{id}/status {"status": "replied"}
func (h *Handler) HandleTransitionInquiry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	sess := middleware.GetSession(r.Context())
	var (
		inq  *Inquiry
		from string
	)
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		inq, from, err = h.store.TransitionInquiry(ctx, q, sess.UserID, id, body.Status)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to update inquiry")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionInquiryTransitioned, "inquiry", id,
		map[string]any{"from": from, "to": inq.Status})
	writeJSON(w, http.StatusOK, inq)
}
