package lease

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ireside/ireside/internal/audit"
	"github.com/ireside/ireside/internal/listing"
	"github.com/ireside/ireside/internal/notification"
	"github.com/ireside/ireside/internal/platform/database"
	"github.com/ireside/ireside/internal/platform/middleware"
	"github.com/ireside/ireside/internal/property"
	"github.com/ireside/ireside/internal/storage"
)

// Notifier enqueues notifications on the caller's transaction.
type Notifier interface {
	Enqueue(ctx context.Context, q database.Querier, d notification.Draft) error
}

// UnitStatusSetter flips a unit between vacant and occupied as leases start
// and end.
type UnitStatusSetter interface {
	SetUnitStatus(ctx context.Context, q database.Querier, unitID, status string) error
}

// Handler serves lease endpoints for landlords and tenants.
type Handler struct {
	pool     *database.Pool
	store    *Store
	listings *listing.Store
	units    UnitStatusSetter
	objects  storage.Store
	notifier Notifier
	audit    audit.Logger
}

func NewHandler(pool *database.Pool, store *Store, listings *listing.Store, units UnitStatusSetter,
	objects storage.Store, notifier Notifier, auditLog audit.Logger,
) *Handler {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Handler{
		pool:     pool,
		store:    store,
		listings: listings,
		units:    units,
		objects:  objects,
		notifier: notifier,
		audit:    auditLog,
	}
}

// HandleCreate drafts a lease on one of the caller's units.
// POST /api/v1/leases
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in Input
	if !decodeBody(w, r, &in, 64<<10) {
		return
	}
	if _, err := uuid.Parse(in.UnitID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unit_id is required"})
		return
	}
	if _, err := uuid.Parse(in.TenantID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant_id is required"})
		return
	}
	if err := in.Validate(true); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var l *Lease
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		l, err = h.store.Create(ctx, q, sess.UserID, in, nil)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to create lease")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionLeaseCreated, "lease", l.ID, map[string]any{"unit_id": l.UnitID})
	writeJSON(w, http.StatusCreated, l)
}

// HandleConvertInquiry drafts a lease for the applicant of an inquiry on
// the inquiry's listing and archives the inquiry.
// POST /api/v1/inquiries/{id}/lease {"start_date"?, "end_date"?, "terms"?}
func (h *Handler) HandleConvertInquiry(w http.ResponseWriter, r *http.Request) {
	inquiryID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		StartDate *string `json:"start_date"`
		EndDate   *string `json:"end_date"`
		Terms     *string `json:"terms"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &body, 64<<10) {
		return
	}

	sess := middleware.GetSession(r.Context())
	var l *Lease
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		src, err := h.listings.ConversionSource(ctx, q, sess.UserID, inquiryID)
		if err != nil {
			return err
		}

		in := Input{
			UnitID:       src.UnitID,
			TenantID:     src.ApplicantID,
			StartDate:    body.StartDate,
			EndDate:      body.EndDate,
			RentCents:    &src.RentCents,
			DepositCents: &src.DepositCents,
			Terms:        body.Terms,
		}
		if in.StartDate == nil {
			in.StartDate = src.AvailableFrom
		}
		if in.StartDate == nil {
			today := time.Now().UTC().Format(time.DateOnly)
			in.StartDate = &today
		}
		if in.EndDate == nil {
			if start, err := time.Parse(time.DateOnly, *in.StartDate); err == nil {
				end := start.AddDate(1, 0, 0).Format(time.DateOnly)
				in.EndDate = &end
			}
		}
		if err := in.Validate(true); err != nil {
			return err
		}

		if l, err = h.store.Create(ctx, q, sess.UserID, in, &src.InquiryID); err != nil {
			return err
		}
		return h.listings.LinkLease(ctx, q, sess.UserID, inquiryID, l.ID)
	})
	if err != nil {
		writeStoreError(w, err, "failed to convert inquiry")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionInquiryConverted, "inquiry", inquiryID, map[string]any{"lease_id": l.ID})
	audit.Record(r.Context(), h.audit, audit.ActionLeaseCreated, "lease", l.ID, map[string]any{"inquiry_id": inquiryID})
	writeJSON(w, http.StatusCreated, l)
}

// HandleList lists the caller's leases as landlord or tenant.
// GET /api/v1/leases?status=active
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "", StatusDraft, StatusPendingSignature, StatusTenantSigned, StatusActive,
		StatusTerminated, StatusExpired, StatusCancelled:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}

	sess := middleware.GetSession(r.Context())
	var leases []Lease
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		leases, err = h.store.List(ctx, q, sess.UserID, status)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to list leases")
		return
	}

	if leases == nil {
		leases = []Lease{}
	}
	writeJSON(w, http.StatusOK, leases)
}

// HandleGet returns a lease the caller is a party to.
// GET /api/v1/leases/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var l *Lease
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		l, err = h.store.Get(ctx, q, sess.UserID, id)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to get lease")
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// HandleUpdate edits a draft lease.
// PATCH /api/v1/leases/{id}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in Input
	if !decodeBody(w, r, &in, 64<<10) {
		return
	}
	if err := in.Validate(false); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var l *Lease
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		l, err = h.store.UpdateDraft(ctx, q, sess.UserID, id, in)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to update lease")
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// HandleSend offers a draft to the tenant for signature.
// POST /api/v1/leases/{id}/send
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	h.landlordTransition(w, r, h.store.Send, audit.ActionLeaseSent, func(l *Lease) *notification.Draft {
		return &notification.Draft{
			UserID: l.TenantID,
			Kind:   notification.KindLeaseSent,
			Title:  "Your lease is ready to sign",
			Data:   map[string]any{"lease_id": l.ID},
		}
	})
}

// HandleCancel withdraws a lease that is not yet active.
// POST /api/v1/leases/{id}/cancel
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.landlordTransition(w, r, h.store.Cancel, audit.ActionLeaseCancelled, func(l *Lease) *notification.Draft {
		if l.SentAt == nil {
			return nil
		}
		return &notification.Draft{
			UserID: l.TenantID,
			Kind:   notification.KindLeaseCancelled,
			Title:  "A lease offer was withdrawn",
			Data:   map[string]any{"lease_id": l.ID},
		}
	})
}

// HandleTerminate ends an active lease and frees the unit.
// POST /api/v1/leases/{id}/terminate
func (h *Handler) HandleTerminate(w http.ResponseWriter, r *http.Request) {
	h.landlordTransition(w, r, h.store.Terminate, audit.ActionLeaseTerminated, func(l *Lease) *notification.Draft {
		return &notification.Draft{
			UserID: l.TenantID,
			Kind:   notification.KindLeaseTerminated,
			Title:  "Your lease was terminated",
			Data:   map[string]any{"lease_id": l.ID},
		}
	})
}

type transitionFunc func(ctx context.Context, q database.Querier, landlordID, id string) (*Lease, error)

func (h *Handler) landlordTransition(w http.ResponseWriter, r *http.Request, fn transitionFunc, action string,
	notify func(*Lease) *notification.Draft,
) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	sess := middleware.GetSession(r.Context())
	var l *Lease
	err := database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		if l, err = fn(ctx, q, sess.UserID, id); err != nil {
			return err
		}
		if l.Status == StatusTerminated {
			if err := h.units.SetUnitStatus(ctx, q, l.UnitID, property.UnitVacant); err != nil {
				return err
			}
		}
		if d := notify(l); d != nil {
			return h.notifier.Enqueue(ctx, q, *d)
		}
		return nil
	})
	if err != nil {
		writeStoreError(w, err, "failed to update lease")
		return
	}

	audit.Record(r.Context(), h.audit, action, "lease", l.ID, nil)
	writeJSON(w, http.StatusOK, l)
}

// HandleSign records the caller's signature. The tenant signs first; the
// landlord's countersignature activates the lease and occupies the unit.
// POST /api/v1/leases/{id}/sign {"signature": "data:image/png;base64,..."}
func (h *Handler) HandleSign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var body struct {
		Signature string `json:"signature"`
	}
	if !decodeBody(w, r, &body, 1<<20) {
		return
	}
	sig, err := DecodeSignature(body.Signature)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sess := middleware.GetSession(r.Context())
	var (
		l      *Lease
		party  string
		key    string
		stored bool
	)
	err = database.WithSessionTx(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		current, err := h.store.LockForSigning(ctx, q, sess.UserID, id)
		if err != nil {
			return err
		}

		var want string
		switch sess.UserID {
		case current.TenantID:
			party, want = PartyTenant, StatusPendingSignature
		case current.LandlordID:
			party, want = PartyLandlord, StatusTenantSigned
		}
		if want == "" || current.Status != want {
			return fmt.Errorf("%w: lease is %s", ErrInvalidTransition, current.Status)
		}

		key = SignatureObjectKey(id, party)
		if err := h.objects.Put(ctx, key, "image/png", bytes.NewReader(sig)); err != nil {
			return fmt.Errorf("storing signature: %w", err)
		}
		stored = true

		if party == PartyTenant {
			if l, err = h.store.SignAsTenant(ctx, q, sess.UserID, id, key); err != nil {
				return err
			}
			return h.notifier.Enqueue(ctx, q, notification.Draft{
				UserID: l.LandlordID,
				Kind:   notification.KindLeaseSigned,
				Title:  "A tenant signed their lease",
				Body:   "Countersign to activate it.",
				Data:   map[string]any{"lease_id": l.ID},
			})
		}

		if l, err = h.store.Countersign(ctx, q, sess.UserID, id, key); err != nil {
			return err
		}
		if err := h.units.SetUnitStatus(ctx, q, l.UnitID, property.UnitOccupied); err != nil {
			return err
		}
		return h.notifier.Enqueue(ctx, q, notification.Draft{
			UserID: l.TenantID,
			Kind:   notification.KindLeaseActivated,
			Title:  "Your lease is active",
			Data:   map[string]any{"lease_id": l.ID, "start_date": l.StartDate},
		})
	})
	if err != nil {
		// stored is only set while holding the row lock.
		if stored {
			_ = h.objects.Delete(context.WithoutCancel(r.Context()), key)
		}
		writeStoreError(w, err, "failed to sign lease")
		return
	}

	audit.Record(r.Context(), h.audit, audit.ActionLeaseSigned, "lease", l.ID, map[string]any{"party": party})
	if l.Status == StatusActive {
		audit.Record(r.Context(), h.audit, audit.ActionLeaseActivated, "lease", l.ID, nil)
	}
	writeJSON(w, http.StatusOK, l)
}

// HandleSignature streams a party's stored signature to either party.
// GET /api/v1/leases/{id}/signature/{party}
func (h *Handler) HandleSignature(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	party := r.PathValue("party")
	if party != PartyTenant && party != PartyLandlord {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "party must be tenant or landlord"})
		return
	}

	sess := middleware.GetSession(r.Context())
	var l *Lease
	err := database.WithSession(r.Context(), h.pool, sess, func(ctx context.Context, q database.Querier) error {
		var err error
		l, err = h.store.Get(ctx, q, sess.UserID, id)
		return err
	})
	if err != nil {
		writeStoreError(w, err, "failed to get lease")
		return
	}

	key := l.SignatureKey(party)
	if key == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": ErrSignatureNotFound.Error()})
		return
	}
	storage.Serve(w, r, h.objects, key)
}

func writeStoreError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrLeaseNotFound), errors.Is(err, ErrUnitNotFound),
		errors.Is(err, listing.ErrInquiryNotFound), errors.Is(err, ErrSignatureNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrInvalidLease), errors.Is(err, property.ErrInvalidUnit):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrTenantNotFound):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrUnitLeased),
		errors.Is(err, ErrNotDraft), errors.Is(err, listing.ErrAlreadyConverted),
		errors.Is(err, listing.ErrNoApplicant), errors.Is(err, listing.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		slog.Error(fallback, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fallback})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any, limit int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id := r.PathValue(name)
	if _, err := uuid.Parse(id); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name})
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
