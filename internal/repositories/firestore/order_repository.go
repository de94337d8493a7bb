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

const ordersCollection = "orders"

// OrderRepository implements repositories.OrderRepository on Firestore with
// version-checked updates.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
	}, nil
}

// Insert creates the order document, failing when the ID is already taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	_, err := r.base.Create(ctx, order.ID, newOrderDocument(order))
	return err
}

// Update persists the aggregate only when the stored version still matches the
// version the caller read. The returned order carries the incremented version.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	next := order
	next.Version = order.Version + 1

	err := r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NewNotFound("orders.update", fmt.Errorf("order %s not found", id))
			}
			return err
		}
		var stored orderDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("decode order %s: %w", id, err)
		}
		if stored.Version != order.Version {
			return pfirestore.NewConflict("orders.update",
				fmt.Errorf("order %s version %d does not match stored %d", id, order.Version, stored.Version))
		}
		return tx.Set(ref, newOrderDocument(next))
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return next, nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns orders matching the filter ordered by most recent creation.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
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
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: %w", err)
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
		return domain.CursorPage[domain.Order]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		nextToken = pagination.Encode(pagination.Cursor{CreatedAt: last.Data.CreatedAt, DocID: last.ID})
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}, nil
}

// Document model -------------------------------------------------------------

type orderDocument struct {
	OrderNumber string `firestore:"orderNumber"`
	UserID      string `firestore:"userId"`

	Items         []orderItemDocument `firestore:"items"`
	ItemsPrice    int64               `firestore:"itemsPrice"`
	TaxPrice      int64               `firestore:"taxPrice"`
	ShippingPrice int64               `firestore:"shippingPrice"`
	TotalPrice    int64               `firestore:"totalPrice"`

	PaymentMethod  string     `firestore:"paymentMethod"`
	IsPaid         bool       `firestore:"isPaid"`
	PaidAt         *time.Time `firestore:"paidAt,omitempty"`
	PaymentRef     string     `firestore:"paymentRef,omitempty"`
	GatewayOrderID string     `firestore:"gatewayOrderId,omitempty"`

	Status        string                       `firestore:"status"`
	StatusHistory []statusHistoryEntryDocument `firestore:"statusHistory"`

	IsDelivered bool       `firestore:"isDelivered"`
	DeliveredAt *time.Time `firestore:"deliveredAt,omitempty"`
	ShippedAt   *time.Time `firestore:"shippedAt,omitempty"`
	CancelledAt *time.Time `firestore:"cancelledAt,omitempty"`
	CancelledBy string     `firestore:"cancelledBy,omitempty"`

	Return        orderReturnDocument    `firestore:"return"`
	Refund        orderRefundDocument    `firestore:"refund"`
	Shipment      *orderShipmentDocument `firestore:"shipment,omitempty"`
	ReversePickup *orderShipmentDocument `firestore:"reversePickup,omitempty"`

	ContactName     string `firestore:"contactName,omitempty"`
	ContactPhone    string `firestore:"contactPhone,omitempty"`
	ShippingAddress string `firestore:"shippingAddress,omitempty"`
	ShippingCity    string `firestore:"shippingCity,omitempty"`
	ShippingState   string `firestore:"shippingState,omitempty"`
	ShippingPostal  string `firestore:"shippingPostal,omitempty"`

	Version   int64     `firestore:"version"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductRef string `firestore:"productRef"`
	Name       string `firestore:"name"`
	Image      string `firestore:"image,omitempty"`
	Quantity   int    `firestore:"quantity"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Total      int64  `firestore:"total"`
}

type statusHistoryEntryDocument struct {
	Status    string    `firestore:"status"`
	Note      string    `firestore:"note,omitempty"`
	Actor     string    `firestore:"actor,omitempty"`
	ActorRole string    `firestore:"actorRole,omitempty"`
	At        time.Time `firestore:"at"`
}

type orderReturnDocument struct {
	Requested       bool       `firestore:"requested"`
	Status          string     `firestore:"status,omitempty"`
	Reason          string     `firestore:"reason,omitempty"`
	RejectionReason string     `firestore:"rejectionReason,omitempty"`
	RequestedAt     *time.Time `firestore:"requestedAt,omitempty"`
	ApprovedAt      *time.Time `firestore:"approvedAt,omitempty"`
	RejectedAt      *time.Time `firestore:"rejectedAt,omitempty"`
	PickedUpAt      *time.Time `firestore:"pickedUpAt,omitempty"`
	ReceivedAt      *time.Time `firestore:"receivedAt,omitempty"`
	ActionedBy      string     `firestore:"actionedBy,omitempty"`
}

type orderRefundDocument struct {
	Status        string     `firestore:"status,omitempty"`
	Amount        int64      `firestore:"amount"`
	Method        string     `firestore:"method,omitempty"`
	TransactionID string     `firestore:"transactionId,omitempty"`
	Note          string     `firestore:"note,omitempty"`
	InitiatedAt   *time.Time `firestore:"initiatedAt,omitempty"`
	CompletedAt   *time.Time `firestore:"completedAt,omitempty"`
}

type orderShipmentDocument struct {
	ShipmentID  string     `firestore:"shipmentId,omitempty"`
	AWB         string     `firestore:"awb,omitempty"`
	CourierName string     `firestore:"courierName,omitempty"`
	TrackingURL string     `firestore:"trackingUrl,omitempty"`
	Mode        string     `firestore:"mode,omitempty"`
	CreatedAt   *time.Time `firestore:"createdAt,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			Image:      item.Image,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		})
	}
	history := make([]statusHistoryEntryDocument, 0, len(order.StatusHistory))
	for _, entry := range order.StatusHistory {
		history = append(history, statusHistoryEntryDocument(entry))
	}

	return orderDocument{
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Items:          items,
		ItemsPrice:     order.ItemsPrice,
		TaxPrice:       order.TaxPrice,
		ShippingPrice:  order.ShippingPrice,
		TotalPrice:     order.TotalPrice,
		PaymentMethod:  string(order.PaymentMethod),
		IsPaid:         order.IsPaid,
		PaidAt:         order.PaidAt,
		PaymentRef:     order.PaymentRef,
		GatewayOrderID: order.GatewayOrderID,
		Status:         string(order.Status),
		StatusHistory:  history,
		IsDelivered:    order.IsDelivered,
		DeliveredAt:    order.DeliveredAt,
		ShippedAt:      order.ShippedAt,
		CancelledAt:    order.CancelledAt,
		CancelledBy:    order.CancelledBy,
		Return: orderReturnDocument{
			Requested:       order.Return.Requested,
			Status:          string(order.Return.Status),
			Reason:          order.Return.Reason,
			RejectionReason: order.Return.RejectionReason,
			RequestedAt:     order.Return.RequestedAt,
			ApprovedAt:      order.Return.ApprovedAt,
			RejectedAt:      order.Return.RejectedAt,
			PickedUpAt:      order.Return.PickedUpAt,
			ReceivedAt:      order.Return.ReceivedAt,
			ActionedBy:      order.Return.ActionedBy,
		},
		Refund: orderRefundDocument{
			Status:        string(order.Refund.Status),
			Amount:        order.Refund.Amount,
			Method:        order.Refund.Method,
			TransactionID: order.Refund.TransactionID,
			Note:          order.Refund.Note,
			InitiatedAt:   order.Refund.InitiatedAt,
			CompletedAt:   order.Refund.CompletedAt,
		},
		Shipment:        newShipmentDocument(order.Shipment),
		ReversePickup:   newShipmentDocument(order.ReversePickup),
		ContactName:     order.ContactName,
		ContactPhone:    order.ContactPhone,
		ShippingAddress: order.ShippingAddress,
		ShippingCity:    order.ShippingCity,
		ShippingState:   order.ShippingState,
		ShippingPostal:  order.ShippingPostal,
		Version:         order.Version,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
	}
}

func newShipmentDocument(shipment *domain.OrderShipment) *orderShipmentDocument {
	if shipment == nil {
		return nil
	}
	doc := orderShipmentDocument(*shipment)
	return &doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			Image:      item.Image,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		})
	}
	history := make([]domain.StatusHistoryEntry, 0, len(d.StatusHistory))
	for _, entry := range d.StatusHistory {
		history = append(history, domain.StatusHistoryEntry(entry))
	}

	order := domain.Order{
		ID:             id,
		OrderNumber:    d.OrderNumber,
		UserID:         d.UserID,
		Items:          items,
		ItemsPrice:     d.ItemsPrice,
		TaxPrice:       d.TaxPrice,
		ShippingPrice:  d.ShippingPrice,
		TotalPrice:     d.TotalPrice,
		PaymentMethod:  domain.PaymentMethod(d.PaymentMethod),
		IsPaid:         d.IsPaid,
		PaidAt:         d.PaidAt,
		PaymentRef:     d.PaymentRef,
		GatewayOrderID: d.GatewayOrderID,
		Status:         domain.OrderStatus(d.Status),
		StatusHistory:  history,
		IsDelivered:    d.IsDelivered,
		DeliveredAt:    d.DeliveredAt,
		ShippedAt:      d.ShippedAt,
		CancelledAt:    d.CancelledAt,
		CancelledBy:    d.CancelledBy,
		Return: domain.OrderReturn{
			Requested:       d.Return.Requested,
			Status:          domain.ReturnStatus(d.Return.Status),
			Reason:          d.Return.Reason,
			RejectionReason: d.Return.RejectionReason,
			RequestedAt:     d.Return.RequestedAt,
			ApprovedAt:      d.Return.ApprovedAt,
			RejectedAt:      d.Return.RejectedAt,
			PickedUpAt:      d.Return.PickedUpAt,
			ReceivedAt:      d.Return.ReceivedAt,
			ActionedBy:      d.Return.ActionedBy,
		},
		Refund: domain.OrderRefund{
			Status:        domain.RefundStatus(d.Refund.Status),
			Amount:        d.Refund.Amount,
			Method:        d.Refund.Method,
			TransactionID: d.Refund.TransactionID,
			Note:          d.Refund.Note,
			InitiatedAt:   d.Refund.InitiatedAt,
			CompletedAt:   d.Refund.CompletedAt,
		},
		ContactName:     d.ContactName,
		ContactPhone:    d.ContactPhone,
		ShippingAddress: d.ShippingAddress,
		ShippingCity:    d.ShippingCity,
		ShippingState:   d.ShippingState,
		ShippingPostal:  d.ShippingPostal,
		Version:         d.Version,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if d.Shipment != nil {
		shipment := domain.OrderShipment(*d.Shipment)
		order.Shipment = &shipment
	}
	if d.ReversePickup != nil {
		pickup := domain.OrderShipment(*d.ReversePickup)
		order.ReversePickup = &pickup
	}
	return order
}

// Shared helpers -------------------------------------------------------------

func normaliseStatusFilter(statuses []string) []string {
	if len(statuses) == 0 {
		return nil
	}
	normalized := make([]string, 0, len(statuses))
	seen := make(map[string]struct{})
	for _, s := range statuses {
		trimmed := strings.ToLower(strings.TrimSpace(s))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	// Firestore in clause supports up to 10 values.
	if len(normalized) > 10 {
		normalized = normalized[:10]
	}
	return normalized
}
