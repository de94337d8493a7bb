package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/aquapure/api/internal/domain"
	pfirestore "github.com/aquapure/api/internal/platform/firestore"
	"github.com/aquapure/api/internal/platform/pagination"
	"github.com/aquapure/api/internal/repositories"
)

const bookingsCollection = "serviceBookings"

// BookingRepository implements repositories.ServiceBookingRepository on
// Firestore with version-checked updates.
type BookingRepository struct {
	base *pfirestore.BaseRepository[bookingDocument]
}

// NewBookingRepository constructs a Firestore-backed booking repository.
func NewBookingRepository(provider *pfirestore.Provider) (*BookingRepository, error) {
	if provider == nil {
		return nil, errors.New("booking repository requires firestore provider")
	}
	return &BookingRepository{
		base: pfirestore.NewBaseRepository[bookingDocument](provider, bookingsCollection, nil),
	}, nil
}

// Insert creates the booking document, failing when the ID is already taken.
func (r *BookingRepository) Insert(ctx context.Context, booking domain.ServiceBooking) error {
	if r == nil || r.base == nil {
		return errors.New("booking repository not initialised")
	}
	if strings.TrimSpace(booking.ID) == "" {
		return errors.New("booking repository: booking id is required")
	}
	_, err := r.base.Create(ctx, booking.ID, newBookingDocument(booking))
	return err
}

// Update persists the aggregate only when the stored version still matches.
func (r *BookingRepository) Update(ctx context.Context, booking domain.ServiceBooking) (domain.ServiceBooking, error) {
	if r == nil || r.base == nil {
		return domain.ServiceBooking{}, errors.New("booking repository not initialised")
	}
	id := strings.TrimSpace(booking.ID)
	if id == "" {
		return domain.ServiceBooking{}, errors.New("booking repository: booking id is required")
	}

	next := booking
	next.Version = booking.Version + 1

	err := r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NewNotFound("bookings.update", fmt.Errorf("booking %s not found", id))
			}
			return err
		}
		var stored bookingDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("decode booking %s: %w", id, err)
		}
		if stored.Version != booking.Version {
			return pfirestore.NewConflict("bookings.update",
				fmt.Errorf("booking %s version %d does not match stored %d", id, booking.Version, stored.Version))
		}
		return tx.Set(ref, newBookingDocument(next))
	})
	if err != nil {
		return domain.ServiceBooking{}, pfirestore.WrapError("bookings.update", err)
	}
	return next, nil
}

// FindByID fetches a single booking.
func (r *BookingRepository) FindByID(ctx context.Context, bookingID string) (domain.ServiceBooking, error) {
	if r == nil || r.base == nil {
		return domain.ServiceBooking{}, errors.New("booking repository not initialised")
	}
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return domain.ServiceBooking{}, errors.New("booking repository: booking id is required")
	}
	doc, err := r.base.Get(ctx, bookingID)
	if err != nil {
		return domain.ServiceBooking{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByGatewayOrderID resolves the booking holding the given gateway payment order.
func (r *BookingRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.ServiceBooking, error) {
	if r == nil || r.base == nil {
		return domain.ServiceBooking{}, errors.New("booking repository not initialised")
	}
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return domain.ServiceBooking{}, errors.New("booking repository: gateway order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("advancePayment.gatewayOrderId", "==", gatewayOrderID).Limit(1)
	})
	if err != nil {
		return domain.ServiceBooking{}, err
	}
	if len(docs) == 0 {
		return domain.ServiceBooking{}, pfirestore.NewNotFound("bookings.findByGatewayOrder",
			fmt.Errorf("no booking for gateway order %s", gatewayOrderID))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns bookings matching the filter ordered by most recent creation.
func (r *BookingRepository) List(ctx context.Context, filter repositories.BookingListFilter) (domain.CursorPage[domain.ServiceBooking], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.ServiceBooking]{}, errors.New("booking repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.Decode(token)
		if err != nil {
			return domain.CursorPage[domain.ServiceBooking]{}, fmt.Errorf("booking repository: %w", err)
		}
		startAfter = []any{cursor.CreatedAt, cursor.DocID}
	}

	statuses := normaliseStatusFilter(filter.Status)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if uid := strings.TrimSpace(filter.UserID); uid != "" {
			q = q.Where("userId", "==", uid)
		}
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			q = q.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.ServiceBooking]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = pagination.Encode(pagination.Cursor{CreatedAt: last.Data.CreatedAt, DocID: last.ID})
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.ServiceBooking, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	return domain.CursorPage[domain.ServiceBooking]{Items: items, NextPageToken: nextToken}, nil
}

// Document model -------------------------------------------------------------

type bookingDocument struct {
	BookingNumber string `firestore:"bookingNumber"`
	UserID        string `firestore:"userId"`

	ServiceType   string     `firestore:"serviceType"`
	Description   string     `firestore:"description,omitempty"`
	Address       string     `firestore:"address"`
	PostalCode    string     `firestore:"postalCode,omitempty"`
	ScheduledDate *time.Time `firestore:"scheduledDate,omitempty"`
	TermsAccepted bool       `firestore:"termsAccepted"`

	DistanceFromWarehouse float64 `firestore:"distanceFromWarehouse"`
	ServiceCost           int64   `firestore:"serviceCost"`
	AdvanceAmount         int64   `firestore:"advanceAmount"`
	RemainingAmount       int64   `firestore:"remainingAmount"`

	Status         string                       `firestore:"status"`
	PaymentStatus  string                       `firestore:"paymentStatus"`
	StatusHistory  []statusHistoryEntryDocument `firestore:"statusHistory"`
	AdvancePayment *advancePaymentDocument      `firestore:"advancePayment,omitempty"`
	Refund         *bookingRefundDocument       `firestore:"refund,omitempty"`
	Feedback       *bookingFeedbackDocument     `firestore:"feedback,omitempty"`

	Technician    string     `firestore:"technician,omitempty"`
	CompletedDate *time.Time `firestore:"completedDate,omitempty"`
	CancelledAt   *time.Time `firestore:"cancelledAt,omitempty"`
	CancelledBy   string     `firestore:"cancelledBy,omitempty"`

	Version   int64     `firestore:"version"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type advancePaymentDocument struct {
	GatewayOrderID   string     `firestore:"gatewayOrderId"`
	GatewayPaymentID string     `firestore:"gatewayPaymentId,omitempty"`
	GatewaySignature string     `firestore:"gatewaySignature,omitempty"`
	Amount           int64      `firestore:"amount"`
	PaidAt           *time.Time `firestore:"paidAt,omitempty"`
}

type bookingRefundDocument struct {
	Amount          int64      `firestore:"amount"`
	DeductedAmount  int64      `firestore:"deductedAmount"`
	RefundedAmount  int64      `firestore:"refundedAmount"`
	GatewayRefundID string     `firestore:"gatewayRefundId,omitempty"`
	Reason          string     `firestore:"reason,omitempty"`
	Status          string     `firestore:"status"`
	RefundedAt      *time.Time `firestore:"refundedAt,omitempty"`
}

type bookingFeedbackDocument struct {
	Rating      int       `firestore:"rating"`
	Comment     string    `firestore:"comment,omitempty"`
	SubmittedAt time.Time `firestore:"submittedAt"`
}

func newBookingDocument(booking domain.ServiceBooking) bookingDocument {
	history := make([]statusHistoryEntryDocument, 0, len(booking.StatusHistory))
	for _, entry := range booking.StatusHistory {
		history = append(history, statusHistoryEntryDocument(entry))
	}

	doc := bookingDocument{
		BookingNumber:         booking.BookingNumber,
		UserID:                booking.UserID,
		ServiceType:           booking.ServiceType,
		Description:           booking.Description,
		Address:               booking.Address,
		PostalCode:            booking.PostalCode,
		ScheduledDate:         booking.ScheduledDate,
		TermsAccepted:         booking.TermsAccepted,
		DistanceFromWarehouse: booking.DistanceFromWarehouse,
		ServiceCost:           booking.ServiceCost,
		AdvanceAmount:         booking.AdvanceAmount,
		RemainingAmount:       booking.RemainingAmount,
		Status:                string(booking.Status),
		PaymentStatus:         string(booking.PaymentStatus),
		StatusHistory:         history,
		Technician:            booking.Technician,
		CompletedDate:         booking.CompletedDate,
		CancelledAt:           booking.CancelledAt,
		CancelledBy:           booking.CancelledBy,
		Version:               booking.Version,
		CreatedAt:             booking.CreatedAt.UTC(),
		UpdatedAt:             booking.UpdatedAt.UTC(),
	}
	if booking.AdvancePayment != nil {
		payment := advancePaymentDocument(*booking.AdvancePayment)
		doc.AdvancePayment = &payment
	}
	if booking.Refund != nil {
		doc.Refund = &bookingRefundDocument{
			Amount:          booking.Refund.Amount,
			DeductedAmount:  booking.Refund.DeductedAmount,
			RefundedAmount:  booking.Refund.RefundedAmount,
			GatewayRefundID: booking.Refund.GatewayRefundID,
			Reason:          booking.Refund.Reason,
			Status:          string(booking.Refund.Status),
			RefundedAt:      booking.Refund.RefundedAt,
		}
	}
	if booking.Feedback != nil {
		feedback := bookingFeedbackDocument(*booking.Feedback)
		doc.Feedback = &feedback
	}
	return doc
}

func (d bookingDocument) toDomain(id string) domain.ServiceBooking {
	history := make([]domain.StatusHistoryEntry, 0, len(d.StatusHistory))
	for _, entry := range d.StatusHistory {
		history = append(history, domain.StatusHistoryEntry(entry))
	}

	booking := domain.ServiceBooking{
		ID:                    id,
		BookingNumber:         d.BookingNumber,
		UserID:                d.UserID,
		ServiceType:           d.ServiceType,
		Description:           d.Description,
		Address:               d.Address,
		PostalCode:            d.PostalCode,
		ScheduledDate:         d.ScheduledDate,
		TermsAccepted:         d.TermsAccepted,
		DistanceFromWarehouse: d.DistanceFromWarehouse,
		ServiceCost:           d.ServiceCost,
		AdvanceAmount:         d.AdvanceAmount,
		RemainingAmount:       d.RemainingAmount,
		Status:                domain.BookingStatus(d.Status),
		PaymentStatus:         domain.BookingPaymentStatus(d.PaymentStatus),
		StatusHistory:         history,
		Technician:            d.Technician,
		CompletedDate:         d.CompletedDate,
		CancelledAt:           d.CancelledAt,
		CancelledBy:           d.CancelledBy,
		Version:               d.Version,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
	if d.AdvancePayment != nil {
		payment := domain.AdvancePayment(*d.AdvancePayment)
		booking.AdvancePayment = &payment
	}
	if d.Refund != nil {
		booking.Refund = &domain.BookingRefund{
			Amount:          d.Refund.Amount,
			DeductedAmount:  d.Refund.DeductedAmount,
			RefundedAmount:  d.Refund.RefundedAmount,
			GatewayRefundID: d.Refund.GatewayRefundID,
			Reason:          d.Refund.Reason,
			Status:          domain.BookingRefundStatus(d.Refund.Status),
			RefundedAt:      d.Refund.RefundedAt,
		}
	}
	if d.Feedback != nil {
		feedback := domain.BookingFeedback(*d.Feedback)
		booking.Feedback = &feedback
	}
	return booking
}
