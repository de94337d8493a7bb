package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aquapure/api/internal/domain"
	"github.com/aquapure/api/internal/payments"
	"github.com/aquapure/api/internal/platform/auth"
	"github.com/aquapure/api/internal/platform/httpx"
	"github.com/aquapure/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024

	defaultCheckoutLimit  = 30
	defaultCheckoutWindow = time.Minute
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body exceeds size limit")
)

// OrderHandlers exposes the product order lifecycle endpoints.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	checkout rateLimiter
}

// OrderHandlerOption customises the order handlers.
type OrderHandlerOption func(*OrderHandlers)

// WithCheckoutRateLimit overrides the per-user checkout rate limit.
func WithCheckoutRateLimit(limit int, window time.Duration) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.checkout = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:    authn,
		orders:   orders,
		checkout: newSimpleRateLimiter(defaultCheckoutLimit, defaultCheckoutWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:pay", h.payOrder)
	r.Post("/{orderID}:ship", h.shipOrder)
	r.Post("/{orderID}:deliver", h.deliverOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:refund", h.refundOrder)
	r.Post("/{orderID}/return", h.requestReturn)
	r.Post("/{orderID}/return:approve", h.approveReturn)
	r.Post("/{orderID}/return:reject", h.rejectReturn)
	r.Post("/{orderID}/return:received", h.markReturnReceived)
}

type checkoutItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type checkoutRequest struct {
	Items         []checkoutItemRequest `json:"items"`
	PaymentMethod string                `json:"paymentMethod"`

	ContactName     string `json:"contactName"`
	ContactPhone    string `json:"contactPhone"`
	ShippingAddress string `json:"shippingAddress"`
	ShippingCity    string `json:"shippingCity"`
	ShippingState   string `json:"shippingState"`
	ShippingPostal  string `json:"shippingPostal"`
}

type checkoutResponse struct {
	Message string               `json:"message"`
	Order   orderPayload         `json:"order"`
	Payment *gatewayOrderPayload `json:"payment,omitempty"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	if h.checkout != nil && !h.checkout.Allow(actor.ID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts, slow down", http.StatusTooManyRequests))
		return
	}

	var req checkoutRequest
	if !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	items := make([]services.CheckoutItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.CheckoutItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	result, err := h.orders.Checkout(ctx, services.CheckoutCommand{
		Actor:           actor,
		Items:           items,
		PaymentMethod:   domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		ContactName:     req.ContactName,
		ContactPhone:    req.ContactPhone,
		ShippingAddress: req.ShippingAddress,
		ShippingCity:    req.ShippingCity,
		ShippingState:   req.ShippingState,
		ShippingPostal:  req.ShippingPostal,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	response := checkoutResponse{Message: "order placed", Order: buildOrderPayload(result.Order)}
	if result.GatewayOrder != nil {
		payment := buildGatewayOrderPayload(*result.GatewayOrder)
		response.Payment = &payment
	}
	writeJSONResponse(w, http.StatusCreated, response)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()

	listQuery := services.OrderListQuery{
		UserID: strings.TrimSpace(query.Get("user_id")),
		Status: parseFilterValues(query["status"]),
	}

	from, to, ok := parseDateRange(ctx, w, query.Get("created_after"), query.Get("created_before"))
	if !ok {
		return
	}
	listQuery.From = from
	listQuery.To = to

	pageSize, ok := parsePageSize(ctx, w, query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if !ok {
		return
	}
	listQuery.Pagination = domain.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	page, err := h.orders.ListOrders(ctx, actor, listQuery)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, listResponse[orderPayload]{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	orderID, ok := requireURLParam(ctx, w, r, "orderID", "order id is required")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, actor, orderID)
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type payOrderRequest struct {
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	GatewaySignature string `json:"gatewaySignature"`
}

func (h *OrderHandlers) payOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireURLParam(ctx, w, r, "orderID", "order id is required")
	if !ok {
		return
	}

	var req payOrderRequest
	if hasBody(r) && !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.MarkAsPaid(ctx, services.MarkOrderPaidCommand{
		Actor:            actor,
		OrderID:          orderID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		GatewaySignature: req.GatewaySignature,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Message: "payment recorded", Order: buildOrderPayload(order)})
}

type shipOrderRequest struct {
	WeightGrams int    `json:"weightGrams"`
	Note        string `json:"note"`
}

func (h *OrderHandlers) shipOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireURLParam(ctx, w, r, "orderID", "order id is required")
	if !ok {
		return
	}

	var req shipOrderRequest
	if hasBody(r) && !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.MarkAsShipped(ctx, services.MarkOrderShippedCommand{
		Actor:       actor,
		OrderID:     orderID,
		WeightGrams: req.WeightGrams,
		Note:        req.Note,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Message: "order shipped", Order: buildOrderPayload(order)})
}

type noteRequest struct {
	Note string `json:"note"`
}

func (h *OrderHandlers) deliverOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireURLParam(ctx, w, r, "orderID", "order id is required")
	if !ok {
		return
	}

	var req noteRequest
	if hasBody(r) && !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.MarkAsDelivered(ctx, services.MarkOrderDeliveredCommand{
		Actor:   actor,
		OrderID: orderID,
		Note:    req.Note,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Message: "order delivered", Order: buildOrderPayload(order)})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireURLParam(ctx, w, r, "orderID", "order id is required")
	if !ok {
		return
	}

	var req reasonRequest
	if hasBody(r) && !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		Actor:   actor,
		OrderID: orderID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Message: "order cancelled", Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	h.returnAction(w, r, "return requested", func(ctx context.Context, cmd services.RequestReturnCommand) (domain.Order, error) {
		return h.orders.RequestReturn(ctx, cmd)
	})
}

func (h *OrderHandlers) returnAction(w http.ResponseWriter, r *http.Request, message string, action func(context.Context, services.RequestReturnCommand) (domain.Order, error)) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireURLParam(ctx, w, r, "orderID", "order id is required")
	if !ok {
		return
	}

	var req reasonRequest
	if hasBody(r) && !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := action(ctx, services.RequestReturnCommand{
		Actor:   actor,
		OrderID: orderID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Message: message, Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) approveReturn(w http.ResponseWriter, r *http.Request) {
	h.returnAction(w, r, "return approved", func(ctx context.Context, cmd services.RequestReturnCommand) (domain.Order, error) {
		return h.orders.ApproveReturn(ctx, services.ReturnActionCommand(cmd))
	})
}

func (h *OrderHandlers) rejectReturn(w http.ResponseWriter, r *http.Request) {
	h.returnAction(w, r, "return rejected", func(ctx context.Context, cmd services.RequestReturnCommand) (domain.Order, error) {
		return h.orders.RejectReturn(ctx, services.ReturnActionCommand(cmd))
	})
}

func (h *OrderHandlers) markReturnReceived(w http.ResponseWriter, r *http.Request) {
	h.returnAction(w, r, "return received", func(ctx context.Context, cmd services.RequestReturnCommand) (domain.Order, error) {
		return h.orders.MarkReturnReceived(ctx, services.ReturnActionCommand(cmd))
	})
}

type refundOrderRequest struct {
	Amount *int64 `json:"amount"`
	Note   string `json:"note"`
}

func (h *OrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	orderID, ok := requireURLParam(ctx, w, r, "orderID", "order id is required")
	if !ok {
		return
	}

	var req refundOrderRequest
	if hasBody(r) && !decodeJSONBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.ProcessRefund(ctx, services.ProcessOrderRefundCommand{
		Actor:          actor,
		OrderID:        orderID,
		AmountOverride: req.Amount,
		Note:           req.Note,
	})
	if err != nil {
		writeLifecycleError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Message: "refund processed", Order: buildOrderPayload(order)})
}

// Payload shapes -------------------------------------------------------------

type listResponse[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

// orderResponse wraps a single order. Message carries the human-readable
// outcome on mutations and is omitted on reads.
type orderResponse struct {
	Message string       `json:"message,omitempty"`
	Order   orderPayload `json:"order"`
}

type orderItemPayload struct {
	ProductRef string `json:"productRef"`
	Name       string `json:"name"`
	Image      string `json:"image,omitempty"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unitPrice"`
	Total      int64  `json:"total"`
}

type statusHistoryPayload struct {
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	ActorRole string    `json:"actorRole,omitempty"`
	At        time.Time `json:"at"`
}

type orderReturnPayload struct {
	Requested       bool       `json:"requested"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	RequestedAt     *time.Time `json:"requestedAt,omitempty"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	PickedUpAt      *time.Time `json:"pickedUpAt,omitempty"`
	ReceivedAt      *time.Time `json:"receivedAt,omitempty"`
}

type orderRefundPayload struct {
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	Method        string     `json:"method,omitempty"`
	TransactionID string     `json:"transactionId,omitempty"`
	Note          string     `json:"note,omitempty"`
	InitiatedAt   *time.Time `json:"initiatedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

type shipmentPayload struct {
	ShipmentID  string     `json:"shipmentId,omitempty"`
	AWB         string     `json:"awb,omitempty"`
	CourierName string     `json:"courierName,omitempty"`
	TrackingURL string     `json:"trackingUrl,omitempty"`
	Mode        string     `json:"mode,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

type orderPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"orderNumber"`
	UserID      string `json:"userId"`

	Items         []orderItemPayload `json:"items"`
	ItemsPrice    int64              `json:"itemsPrice"`
	TaxPrice      int64              `json:"taxPrice"`
	ShippingPrice int64              `json:"shippingPrice"`
	TotalPrice    int64              `json:"totalPrice"`

	PaymentMethod string     `json:"paymentMethod"`
	IsPaid        bool       `json:"isPaid"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`

	Status        string                 `json:"status"`
	StatusHistory []statusHistoryPayload `json:"statusHistory"`

	IsDelivered bool       `json:"isDelivered"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ShippedAt   *time.Time `json:"shippedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	CancelledBy string     `json:"cancelledBy,omitempty"`

	Return        *orderReturnPayload `json:"return,omitempty"`
	Refund        *orderRefundPayload `json:"refund,omitempty"`
	Shipment      *shipmentPayload    `json:"shipment,omitempty"`
	ReversePickup *shipmentPayload    `json:"reversePickup,omitempty"`

	ContactName     string `json:"contactName,omitempty"`
	ContactPhone    string `json:"contactPhone,omitempty"`
	ShippingAddress string `json:"shippingAddress,omitempty"`
	ShippingCity    string `json:"shippingCity,omitempty"`
	ShippingState   string `json:"shippingState,omitempty"`
	ShippingPostal  string `json:"shippingPostal,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type gatewayOrderPayload struct {
	GatewayOrderID string `json:"gatewayOrderId"`
	Provider       string `json:"provider"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			Image:      item.Image,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			Total:      item.Total,
		})
	}

	history := make([]statusHistoryPayload, 0, len(order.StatusHistory))
	for _, entry := range order.StatusHistory {
		history = append(history, statusHistoryPayload{
			Status:    entry.Status,
			Note:      entry.Note,
			Actor:     entry.Actor,
			ActorRole: entry.ActorRole,
			At:        entry.At,
		})
	}

	payload := orderPayload{
		ID:              order.ID,
		OrderNumber:     order.OrderNumber,
		UserID:          order.UserID,
		Items:           items,
		ItemsPrice:      order.ItemsPrice,
		TaxPrice:        order.TaxPrice,
		ShippingPrice:   order.ShippingPrice,
		TotalPrice:      order.TotalPrice,
		PaymentMethod:   string(order.PaymentMethod),
		IsPaid:          order.IsPaid,
		PaidAt:          order.PaidAt,
		Status:          string(order.Status),
		StatusHistory:   history,
		IsDelivered:     order.IsDelivered,
		DeliveredAt:     order.DeliveredAt,
		ShippedAt:       order.ShippedAt,
		CancelledAt:     order.CancelledAt,
		CancelledBy:     order.CancelledBy,
		ContactName:     order.ContactName,
		ContactPhone:    order.ContactPhone,
		ShippingAddress: order.ShippingAddress,
		ShippingCity:    order.ShippingCity,
		ShippingState:   order.ShippingState,
		ShippingPostal:  order.ShippingPostal,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}

	if order.Return.Requested || (order.Return.Status != "" && order.Return.Status != domain.ReturnStatusNone) {
		payload.Return = &orderReturnPayload{
			Requested:       order.Return.Requested,
			Status:          string(order.Return.Status),
			Reason:          order.Return.Reason,
			RejectionReason: order.Return.RejectionReason,
			RequestedAt:     order.Return.RequestedAt,
			ApprovedAt:      order.Return.ApprovedAt,
			RejectedAt:      order.Return.RejectedAt,
			PickedUpAt:      order.Return.PickedUpAt,
			ReceivedAt:      order.Return.ReceivedAt,
		}
	}

	if order.Refund.Status != "" && order.Refund.Status != domain.RefundStatusNone {
		payload.Refund = &orderRefundPayload{
			Status:        string(order.Refund.Status),
			Amount:        order.Refund.Amount,
			Method:        order.Refund.Method,
			TransactionID: order.Refund.TransactionID,
			Note:          order.Refund.Note,
			InitiatedAt:   order.Refund.InitiatedAt,
			CompletedAt:   order.Refund.CompletedAt,
		}
	}

	payload.Shipment = buildShipmentPayload(order.Shipment)
	payload.ReversePickup = buildShipmentPayload(order.ReversePickup)

	return payload
}

func buildShipmentPayload(shipment *domain.OrderShipment) *shipmentPayload {
	if shipment == nil {
		return nil
	}
	return &shipmentPayload{
		ShipmentID:  shipment.ShipmentID,
		AWB:         shipment.AWB,
		CourierName: shipment.CourierName,
		TrackingURL: shipment.TrackingURL,
		Mode:        shipment.Mode,
		CreatedAt:   shipment.CreatedAt,
	}
}

func buildGatewayOrderPayload(order payments.GatewayOrder) gatewayOrderPayload {
	return gatewayOrderPayload{
		GatewayOrderID: order.ID,
		Provider:       order.Provider,
		Amount:         order.Amount,
		Currency:       order.Currency,
		Status:         string(order.Status),
	}
}

// Shared helpers -------------------------------------------------------------

// requireActor resolves the authenticated identity into a lifecycle actor,
// collapsing the role set into the single strongest role.
func requireActor(ctx context.Context, w http.ResponseWriter) (services.Actor, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}

	role := services.ActorRoleCustomer
	switch {
	case identity.HasRole(auth.RoleAdmin):
		role = services.ActorRoleAdmin
	case identity.HasRole(auth.RoleSeller):
		role = services.ActorRoleSeller
	}

	return services.Actor{ID: strings.TrimSpace(identity.UID), Role: role}, true
}

func requireURLParam(ctx context.Context, w http.ResponseWriter, r *http.Request, name, message string) (string, bool) {
	value := strings.TrimSpace(chi.URLParam(r, name))
	if value == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
		return "", false
	}
	return value, true
}

func hasBody(r *http.Request) bool {
	return r != nil && r.Body != nil && r.ContentLength != 0
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body too large", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxOrderBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 timestamp")
}

func parseDateRange(ctx context.Context, w http.ResponseWriter, afterRaw, beforeRaw string) (*time.Time, *time.Time, bool) {
	var from, to *time.Time
	if raw := strings.TrimSpace(afterRaw); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return nil, nil, false
		}
		from = &ts
	}
	if raw := strings.TrimSpace(beforeRaw); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return nil, nil, false
		}
		to = &ts
	}
	return from, to, true
}

func parsePageSize(ctx context.Context, w http.ResponseWriter, raw string, fallback, ceiling int) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, true
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return 0, false
	}
	switch {
	case size <= 0:
		return fallback, true
	case size > ceiling:
		return ceiling, true
	default:
		return size, true
	}
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeLifecycleError translates service sentinel errors into the API error
// envelope.
func writeLifecycleError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "not allowed to perform this action", http.StatusForbidden))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrStaleState):
		httpx.WriteError(ctx, w, httpx.NewError("conflict_retry", "resource changed concurrently, retry the request", http.StatusConflict))
	case errors.Is(err, services.ErrGatewayRejected):
		httpx.WriteError(ctx, w, httpx.NewError("payment_rejected", err.Error(), http.StatusPaymentRequired))
	case errors.Is(err, services.ErrExternalServiceDegraded):
		httpx.WriteError(ctx, w, httpx.NewError("dependency_unavailable", "an upstream dependency is unavailable, try again later", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}
