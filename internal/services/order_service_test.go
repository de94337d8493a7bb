package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aquapure/api/internal/courier"
	"github.com/aquapure/api/internal/domain"
	"github.com/aquapure/api/internal/payments"
	"github.com/aquapure/api/internal/repositories"
)

// Shared test doubles ----------------------------------------------------------

type testRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *testRepoError) Error() string       { return "repo error" }
func (e *testRepoError) IsNotFound() bool    { return e.notFound }
func (e *testRepoError) IsConflict() bool    { return e.conflict }
func (e *testRepoError) IsUnavailable() bool { return e.unavailable }

type fakeOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	updateErr error
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[string]domain.Order)}
}

func (f *fakeOrderRepo) Insert(_ context.Context, order domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orders[order.ID]; ok {
		return &testRepoError{conflict: true}
	}
	f.orders[order.ID] = order
	return nil
}

func (f *fakeOrderRepo) Update(_ context.Context, order domain.Order) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return domain.Order{}, f.updateErr
	}
	stored, ok := f.orders[order.ID]
	if !ok {
		return domain.Order{}, &testRepoError{notFound: true}
	}
	if stored.Version != order.Version {
		return domain.Order{}, &testRepoError{conflict: true}
	}
	order.Version++
	f.orders[order.ID] = order
	return order, nil
}

func (f *fakeOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	order, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, &testRepoError{notFound: true}
	}
	return order, nil
}

func (f *fakeOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := domain.CursorPage[domain.Order]{}
	for _, order := range f.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]domain.Product
}

func newFakeCatalog(products ...domain.Product) *fakeCatalog {
	c := &fakeCatalog{products: make(map[string]domain.Product)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (f *fakeCatalog) FindByID(_ context.Context, productID string) (domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	product, ok := f.products[productID]
	if !ok {
		return domain.Product{}, &testRepoError{notFound: true}
	}
	return product, nil
}

func (f *fakeCatalog) DecrementStock(_ context.Context, productID string, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	product, ok := f.products[productID]
	if !ok {
		return &testRepoError{notFound: true}
	}
	if product.Stock < quantity {
		return &testRepoError{conflict: true}
	}
	product.Stock -= quantity
	f.products[productID] = product
	return nil
}

func (f *fakeCatalog) RestoreStock(_ context.Context, productID string, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	product, ok := f.products[productID]
	if !ok {
		return &testRepoError{notFound: true}
	}
	product.Stock += quantity
	f.products[productID] = product
	return nil
}

func (f *fakeCatalog) stock(productID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[productID].Stock
}

type fakeCounters struct {
	orderSeq   int64
	bookingSeq int64
}

func (f *fakeCounters) Next(context.Context, string, string, CounterGenerationOptions) (CounterValue, error) {
	return CounterValue{}, errors.New("not used")
}

func (f *fakeCounters) NextOrderNumber(context.Context) (string, error) {
	f.orderSeq++
	return fmt.Sprintf("AQ-2026-%06d", f.orderSeq), nil
}

func (f *fakeCounters) NextBookingNumber(context.Context) (string, error) {
	f.bookingSeq++
	return fmt.Sprintf("SB-2026-%06d", f.bookingSeq), nil
}

type fakeGateway struct {
	createErr error
	verifyErr error
	lookupErr error
	refundErr error

	// payment overrides the synthesized capture returned by LookupPayment.
	payment *payments.PaymentDetails

	createdOrders []payments.GatewayOrderRequest
	refunds       []payments.RefundRequest
}

func (f *fakeGateway) CreateGatewayOrder(_ context.Context, _ payments.PaymentContext, req payments.GatewayOrderRequest) (payments.GatewayOrder, error) {
	if f.createErr != nil {
		return payments.GatewayOrder{}, f.createErr
	}
	f.createdOrders = append(f.createdOrders, req)
	return payments.GatewayOrder{
		ID:       fmt.Sprintf("order_gw_%d", len(f.createdOrders)),
		Provider: "razorpay",
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   payments.StatusCreated,
	}, nil
}

func (f *fakeGateway) VerifyPayment(context.Context, payments.PaymentContext, payments.VerificationRequest) error {
	return f.verifyErr
}

func (f *fakeGateway) LookupPayment(_ context.Context, _ payments.PaymentContext, paymentID string) (payments.PaymentDetails, error) {
	if f.lookupErr != nil {
		return payments.PaymentDetails{}, f.lookupErr
	}
	if f.payment != nil {
		return *f.payment, nil
	}
	var amount int64
	if n := len(f.createdOrders); n > 0 {
		amount = f.createdOrders[n-1].Amount
	}
	return payments.PaymentDetails{
		Provider:  "razorpay",
		PaymentID: paymentID,
		Status:    payments.StatusCaptured,
		Amount:    amount,
		Currency:  orderCurrency,
	}, nil
}

func (f *fakeGateway) Refund(_ context.Context, _ payments.PaymentContext, req payments.RefundRequest) (payments.RefundResult, error) {
	if f.refundErr != nil {
		return payments.RefundResult{}, f.refundErr
	}
	f.refunds = append(f.refunds, req)
	amount := int64(0)
	if req.Amount != nil {
		amount = *req.Amount
	}
	return payments.RefundResult{ID: "rfnd_1", PaymentID: req.PaymentID, Amount: amount, Status: payments.StatusRefunded}, nil
}

type fakeCourier struct {
	shipErr   error
	pickupErr error

	shipments []courier.ShipmentRequest
	pickups   []courier.ReversePickupRequest
}

func (f *fakeCourier) CreateShipment(_ context.Context, req courier.ShipmentRequest) (courier.Shipment, error) {
	if f.shipErr != nil {
		return courier.Shipment{}, f.shipErr
	}
	f.shipments = append(f.shipments, req)
	return courier.Shipment{AWB: "AWB123", CourierName: "Express Logistics", TrackingURL: "https://track/AWB123"}, nil
}

func (f *fakeCourier) CreateReversePickup(_ context.Context, req courier.ReversePickupRequest) (courier.Shipment, error) {
	if f.pickupErr != nil {
		return courier.Shipment{}, f.pickupErr
	}
	f.pickups = append(f.pickups, req)
	return courier.Shipment{AWB: "RVP456", CourierName: "Express Logistics", TrackingURL: "https://track/RVP456"}, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
	err    error
}

func (c *capturePublisher) PublishEvent(_ context.Context, event domain.LifecycleEvent) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	c.events = append(c.events, event)
	return fmt.Sprintf("msg-%d", len(c.events)), nil
}

func (c *capturePublisher) types() []domain.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

// Fixture -----------------------------------------------------------------------

type orderFixture struct {
	repo      *fakeOrderRepo
	catalog   *fakeCatalog
	gateway   *fakeGateway
	courier   *fakeCourier
	publisher *capturePublisher
	now       time.Time
	service   OrderService
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()

	f := &orderFixture{
		repo: newFakeOrderRepo(),
		catalog: newFakeCatalog(
			domain.Product{ID: "prod-ro", Name: "RO Purifier", Image: "ro.jpg", Price: 12000, Stock: 5, IsActive: true},
			domain.Product{ID: "prod-filter", Name: "Sediment Filter", Image: "filter.jpg", Price: 450, Stock: 20, IsActive: true},
			domain.Product{ID: "prod-retired", Name: "Old Model", Price: 8000, Stock: 3, IsActive: false},
		),
		gateway:   &fakeGateway{},
		courier:   &fakeCourier{},
		publisher: &capturePublisher{},
		now:       time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
	}

	seq := 0
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   f.repo,
		Products: f.catalog,
		Counters: &fakeCounters{},
		Payments: f.gateway,
		Courier:  f.courier,
		Clock:    func() time.Time { return f.now },
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("%08d", seq)
		},
		Events: f.publisher,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	f.service = svc
	return f
}

func (f *orderFixture) checkoutCOD(t *testing.T) domain.Order {
	t.Helper()
	result, err := f.service.Checkout(context.Background(), CheckoutCommand{
		Actor:           Actor{ID: "user-1", Role: ActorRoleCustomer},
		Items:           []CheckoutItemInput{{ProductID: "prod-ro", Quantity: 1}, {ProductID: "prod-filter", Quantity: 2}},
		PaymentMethod:   domain.PaymentMethodCOD,
		ContactName:     "Asha Patel",
		ContactPhone:    "9876543210",
		ShippingAddress: "14 Ring Road",
		ShippingCity:    "Surat",
		ShippingState:   "Gujarat",
		ShippingPostal:  "395003",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	return result.Order
}

var staffActor = Actor{ID: "staff-1", Role: ActorRoleSeller}

// Checkout ----------------------------------------------------------------------

func TestCheckoutComputesTotalsAndDecrementsStock(t *testing.T) {
	f := newOrderFixture(t)
	order := f.checkoutCOD(t)

	wantItems := int64(12000 + 2*450)
	if order.ItemsPrice != wantItems {
		t.Fatalf("expected items price %d, got %d", wantItems, order.ItemsPrice)
	}
	if order.TaxPrice != domain.ComputeTax(wantItems) {
		t.Fatalf("expected tax %d, got %d", domain.ComputeTax(wantItems), order.TaxPrice)
	}
	if order.ShippingPrice != 0 {
		t.Fatalf("expected free delivery for zone postal code, got %d", order.ShippingPrice)
	}
	if order.TotalPrice != order.ItemsPrice+order.TaxPrice+order.ShippingPrice {
		t.Fatalf("total %d != items %d + tax %d + shipping %d",
			order.TotalPrice, order.ItemsPrice, order.TaxPrice, order.ShippingPrice)
	}
	if order.OrderNumber != "AQ-2026-000001" {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}
	if f.catalog.stock("prod-ro") != 4 || f.catalog.stock("prod-filter") != 18 {
		t.Fatalf("expected stock decremented, got ro=%d filter=%d", f.catalog.stock("prod-ro"), f.catalog.stock("prod-filter"))
	}
	if len(order.StatusHistory) != 1 || order.StatusHistory[0].Status != "pending" {
		t.Fatalf("expected one pending history entry, got %+v", order.StatusHistory)
	}
	if got := f.publisher.types(); len(got) != 1 || got[0] != domain.EventOrderCreated {
		t.Fatalf("expected order.created event, got %v", got)
	}
}

func TestCheckoutChargesFlatFeeOutsideZone(t *testing.T) {
	f := newOrderFixture(t)
	result, err := f.service.Checkout(context.Background(), CheckoutCommand{
		Actor:           Actor{ID: "user-1", Role: ActorRoleCustomer},
		Items:           []CheckoutItemInput{{ProductID: "prod-filter", Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodCOD,
		ShippingAddress: "2 Lake View",
		ShippingPostal:  "110001",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.Order.ShippingPrice != domain.FlatDeliveryCharge {
		t.Fatalf("expected flat fee %d, got %d", domain.FlatDeliveryCharge, result.Order.ShippingPrice)
	}
}

func TestCheckoutOnlineCreatesGatewayOrder(t *testing.T) {
	f := newOrderFixture(t)
	result, err := f.service.Checkout(context.Background(), CheckoutCommand{
		Actor:           Actor{ID: "user-1", Role: ActorRoleCustomer},
		Items:           []CheckoutItemInput{{ProductID: "prod-ro", Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodOnline,
		ShippingAddress: "14 Ring Road",
		ShippingPostal:  "395003",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.GatewayOrder == nil {
		t.Fatalf("expected gateway order for online checkout")
	}
	if result.GatewayOrder.Amount != result.Order.TotalPrice {
		t.Fatalf("gateway order amount %d != order total %d", result.GatewayOrder.Amount, result.Order.TotalPrice)
	}
	stored, err := f.repo.FindByID(context.Background(), result.Order.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if stored.GatewayOrderID != result.GatewayOrder.ID {
		t.Fatalf("expected gateway order id %q persisted on the order, got %q", result.GatewayOrder.ID, stored.GatewayOrderID)
	}
}

func TestCheckoutGatewayFailureLeavesStockUntouched(t *testing.T) {
	f := newOrderFixture(t)
	f.gateway.createErr = errors.New("gateway down")

	_, err := f.service.Checkout(context.Background(), CheckoutCommand{
		Actor:           Actor{ID: "user-1", Role: ActorRoleCustomer},
		Items:           []CheckoutItemInput{{ProductID: "prod-ro", Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodOnline,
		ShippingAddress: "14 Ring Road",
		ShippingPostal:  "395003",
	})
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected gateway rejected, got %v", err)
	}
	if f.catalog.stock("prod-ro") != 5 {
		t.Fatalf("expected stock untouched after gateway failure, got %d", f.catalog.stock("prod-ro"))
	}
}

func TestCheckoutRejectsInactiveAndOutOfStockProducts(t *testing.T) {
	f := newOrderFixture(t)

	_, err := f.service.Checkout(context.Background(), CheckoutCommand{
		Actor:           Actor{ID: "user-1", Role: ActorRoleCustomer},
		Items:           []CheckoutItemInput{{ProductID: "prod-retired", Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodCOD,
		ShippingAddress: "14 Ring Road",
		ShippingPostal:  "395003",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for inactive product, got %v", err)
	}

	_, err = f.service.Checkout(context.Background(), CheckoutCommand{
		Actor:           Actor{ID: "user-1", Role: ActorRoleCustomer},
		Items:           []CheckoutItemInput{{ProductID: "prod-ro", Quantity: 99}},
		PaymentMethod:   domain.PaymentMethodCOD,
		ShippingAddress: "14 Ring Road",
		ShippingPostal:  "395003",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for insufficient stock, got %v", err)
	}
}

// Payment -----------------------------------------------------------------------

func TestMarkAsPaidOnlineVerifiesSignature(t *testing.T) {
	f := newOrderFixture(t)
	result, err := f.service.Checkout(context.Background(), CheckoutCommand{
		Actor:           Actor{ID: "user-1", Role: ActorRoleCustomer},
		Items:           []CheckoutItemInput{{ProductID: "prod-ro", Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodOnline,
		ShippingAddress: "14 Ring Road",
		ShippingPostal:  "395003",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	paid, err := f.service.MarkAsPaid(context.Background(), MarkOrderPaidCommand{
		Actor:            Actor{ID: "user-1", Role: ActorRoleCustomer},
		OrderID:          result.Order.ID,
		GatewayOrderID:   result.GatewayOrder.ID,
		GatewayPaymentID: "pay_123",
		GatewaySignature: "sig",
	})
	if err != nil {
		t.Fatalf("mark as paid: %v", err)
	}
	if !paid.IsPaid || paid.PaidAt == nil || paid.PaymentRef != "pay_123" {
		t.Fatalf("expected paid order, got %+v", paid)
	}
}

func TestMarkAsPaidSignatureMismatchMutatesNothing(t *testing.T) {
	f := newOrderFixture(t)
	result, err := f.service.Checkout(context.Background(), CheckoutCommand{
		Actor:           Actor{ID: "user-1", Role: ActorRoleCustomer},
		Items:           []CheckoutItemInput{{ProductID: "prod-ro", Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodOnline,
		ShippingAddress: "14 Ring Road",
		ShippingPostal:  "395003",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	f.gateway.verifyErr = payments.ErrSignatureMismatch

	_, err = f.service.MarkAsPaid(context.Background(), MarkOrderPaidCommand{
		Actor:            Actor{ID: "user-1", Role: ActorRoleCustomer},
		OrderID:          result.Order.ID,
		GatewayOrderID:   result.GatewayOrder.ID,
		GatewayPaymentID: "pay_123",
		GatewaySignature: "forged",
	})
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected gateway rejected, got %v", err)
	}

	stored, _ := f.repo.FindByID(context.Background(), result.Order.ID)
	if stored.IsPaid {
		t.Fatalf("order must not be mutated on signature mismatch")
	}
}

func TestMarkAsPaidRejectsPaymentForAnotherGatewayOrder(t *testing.T) {
	f := newOrderFixture(t)
	result, err := f.service.Checkout(context.Background(), CheckoutCommand{
		Actor:           Actor{ID: "user-1", Role: ActorRoleCustomer},
		Items:           []CheckoutItemInput{{ProductID: "prod-ro", Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodOnline,
		ShippingAddress: "14 Ring Road",
		ShippingPostal:  "395003",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	// The signature may authenticate a real payment, but one settling a
	// different gateway order. It must never mark this order paid.
	_, err = f.service.MarkAsPaid(context.Background(), MarkOrderPaidCommand{
		Actor:            Actor{ID: "user-1", Role: ActorRoleCustomer},
		OrderID:          result.Order.ID,
		GatewayOrderID:   "order_gw_unrelated",
		GatewayPaymentID: "pay_unrelated",
		GatewaySignature: "sig",
	})
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected gateway rejected for mismatched gateway order, got %v", err)
	}

	stored, _ := f.repo.FindByID(context.Background(), result.Order.ID)
	if stored.IsPaid || stored.PaymentRef != "" {
		t.Fatalf("order must stay unpaid when the payment settles another gateway order, got %+v", stored)
	}
}

func TestMarkAsPaidRejectsCaptureBelowOrderTotal(t *testing.T) {
	f := newOrderFixture(t)
	result, err := f.service.Checkout(context.Background(), CheckoutCommand{
		Actor:           Actor{ID: "user-1", Role: ActorRoleCustomer},
		Items:           []CheckoutItemInput{{ProductID: "prod-ro", Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodOnline,
		ShippingAddress: "14 Ring Road",
		ShippingPostal:  "395003",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	f.gateway.payment = &payments.PaymentDetails{
		Provider:  "razorpay",
		PaymentID: "pay_small",
		Status:    payments.StatusCaptured,
		Amount:    100,
		Currency:  orderCurrency,
	}

	_, err = f.service.MarkAsPaid(context.Background(), MarkOrderPaidCommand{
		Actor:            Actor{ID: "user-1", Role: ActorRoleCustomer},
		OrderID:          result.Order.ID,
		GatewayOrderID:   result.GatewayOrder.ID,
		GatewayPaymentID: "pay_small",
		GatewaySignature: "sig",
	})
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected gateway rejected for underpaid capture, got %v", err)
	}

	stored, _ := f.repo.FindByID(context.Background(), result.Order.ID)
	if stored.IsPaid {
		t.Fatalf("a capture below the order total must not mark the order paid")
	}
}

func TestMarkAsPaidRejectsUncapturedPayment(t *testing.T) {
	f := newOrderFixture(t)
	result, err := f.service.Checkout(context.Background(), CheckoutCommand{
		Actor:           Actor{ID: "user-1", Role: ActorRoleCustomer},
		Items:           []CheckoutItemInput{{ProductID: "prod-ro", Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodOnline,
		ShippingAddress: "14 Ring Road",
		ShippingPostal:  "395003",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	f.gateway.payment = &payments.PaymentDetails{
		Provider:  "razorpay",
		PaymentID: "pay_auth",
		Status:    payments.StatusPending,
		Amount:    result.Order.TotalPrice,
		Currency:  orderCurrency,
	}

	_, err = f.service.MarkAsPaid(context.Background(), MarkOrderPaidCommand{
		Actor:            Actor{ID: "user-1", Role: ActorRoleCustomer},
		OrderID:          result.Order.ID,
		GatewayOrderID:   result.GatewayOrder.ID,
		GatewayPaymentID: "pay_auth",
		GatewaySignature: "sig",
	})
	if !errors.Is(err, ErrGatewayRejected) {
		t.Fatalf("expected gateway rejected for uncaptured payment, got %v", err)
	}
}

func TestMarkAsPaidCODRequiresStaff(t *testing.T) {
	f := newOrderFixture(t)
	order := f.checkoutCOD(t)

	_, err := f.service.MarkAsPaid(context.Background(), MarkOrderPaidCommand{
		Actor:   Actor{ID: "user-1", Role: ActorRoleCustomer},
		OrderID: order.ID,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for customer COD mark-paid, got %v", err)
	}

	paid, err := f.service.MarkAsPaid(context.Background(), MarkOrderPaidCommand{Actor: staffActor, OrderID: order.ID})
	if err != nil {
		t.Fatalf("staff mark as paid: %v", err)
	}
	if !paid.IsPaid {
		t.Fatalf("expected paid order")
	}
}

// Shipping and delivery ----------------------------------------------------------

func TestMarkAsShippedBooksCourierShipment(t *testing.T) {
	f := newOrderFixture(t)
	order := f.checkoutCOD(t)

	shipped, err := f.service.MarkAsShipped(context.Background(), MarkOrderShippedCommand{
		Actor:       staffActor,
		OrderID:     order.ID,
		WeightGrams: 9000,
	})
	if err != nil {
		t.Fatalf("mark as shipped: %v", err)
	}
	if shipped.Status != domain.OrderStatusShipped || shipped.ShippedAt == nil {
		t.Fatalf("expected shipped status, got %+v", shipped)
	}
	if shipped.Shipment == nil || shipped.Shipment.Mode != shipmentModeCourier || shipped.Shipment.AWB != "AWB123" {
		t.Fatalf("expected courier shipment, got %+v", shipped.Shipment)
	}
	if len(f.courier.shipments) != 1 {
		t.Fatalf("expected one shipment booked")
	}
	req := f.courier.shipments[0]
	if req.PaymentMode != courier.PaymentModeCOD || req.CODAmount != order.TotalPrice {
		t.Fatalf("expected COD shipment for total %d, got %+v", order.TotalPrice, req)
	}
}

func TestMarkAsShippedDegradesToSimulationMode(t *testing.T) {
	f := newOrderFixture(t)
	order := f.checkoutCOD(t)
	f.courier.shipErr = courier.ErrCourierUnavailable

	shipped, err := f.service.MarkAsShipped(context.Background(), MarkOrderShippedCommand{Actor: staffActor, OrderID: order.ID})
	if err != nil {
		t.Fatalf("courier outage must not fail the request: %v", err)
	}
	if shipped.Status != domain.OrderStatusShipped {
		t.Fatalf("expected shipped despite courier outage, got %s", shipped.Status)
	}
	if shipped.Shipment == nil || shipped.Shipment.Mode != shipmentModeSimulation {
		t.Fatalf("expected simulation mode shipment, got %+v", shipped.Shipment)
	}

	last := shipped.StatusHistory[len(shipped.StatusHistory)-1]
	if !strings.Contains(last.Note, "simulation") {
		t.Fatalf("history must record the degraded mode, got %q", last.Note)
	}
}

func TestMarkAsDeliveredIsRejectedOnSecondCall(t *testing.T) {
	f := newOrderFixture(t)
	order := f.checkoutCOD(t)

	if _, err := f.service.MarkAsShipped(context.Background(), MarkOrderShippedCommand{Actor: staffActor, OrderID: order.ID}); err != nil {
		t.Fatalf("mark as shipped: %v", err)
	}
	delivered, err := f.service.MarkAsDelivered(context.Background(), MarkOrderDeliveredCommand{Actor: staffActor, OrderID: order.ID})
	if err != nil {
		t.Fatalf("mark as delivered: %v", err)
	}
	if !delivered.IsDelivered || delivered.DeliveredAt == nil {
		t.Fatalf("expected delivered order, got %+v", delivered)
	}
	if !delivered.IsPaid {
		t.Fatalf("COD delivery must settle payment")
	}

	if _, err := f.service.MarkAsDelivered(context.Background(), MarkOrderDeliveredCommand{Actor: staffActor, OrderID: order.ID}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second delivery must be rejected, got %v", err)
	}
}

func TestCODRevenueRecognisedOnlyAfterDelivery(t *testing.T) {
	f := newOrderFixture(t)
	order := f.checkoutCOD(t)

	if order.RecognisedRevenue() != 0 {
		t.Fatalf("undelivered COD order must contribute no revenue")
	}

	if _, err := f.service.MarkAsShipped(context.Background(), MarkOrderShippedCommand{Actor: staffActor, OrderID: order.ID}); err != nil {
		t.Fatalf("mark as shipped: %v", err)
	}
	delivered, err := f.service.MarkAsDelivered(context.Background(), MarkOrderDeliveredCommand{Actor: staffActor, OrderID: order.ID})
	if err != nil {
		t.Fatalf("mark as delivered: %v", err)
	}
	if delivered.RecognisedRevenue() != delivered.TotalPrice {
		t.Fatalf("delivered COD order must contribute its total exactly")
	}
}

// Cancellation -------------------------------------------------------------------

func TestCancelRestoresStockAndQueuesRefund(t *testing.T) {
	f := newOrderFixture(t)
	order := f.checkoutCOD(t)
	if _, err := f.service.MarkAsPaid(context.Background(), MarkOrderPaidCommand{Actor: staffActor, OrderID: order.ID}); err != nil {
		t.Fatalf("mark as paid: %v", err)
	}

	cancelled, err := f.service.Cancel(context.Background(), CancelOrderCommand{
		Actor:   Actor{ID: "user-1", Role: ActorRoleCustomer},
		OrderID: order.ID,
		Reason:  "ordered by mistake",
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("expected cancelled order, got %+v", cancelled)
	}
	if cancelled.Refund.Status != domain.RefundStatusPending || cancelled.Refund.Amount != cancelled.TotalPrice {
		t.Fatalf("paid order must queue a full refund intent, got %+v", cancelled.Refund)
	}
	if cancelled.Refund.Method != refundMethodOriginalPayment {
		t.Fatalf("unexpected refund method %q", cancelled.Refund.Method)
	}
	if f.catalog.stock("prod-ro") != 5 || f.catalog.stock("prod-filter") != 20 {
		t.Fatalf("expected stock restored, got ro=%d filter=%d", f.catalog.stock("prod-ro"), f.catalog.stock("prod-filter"))
	}
}

func TestCancelSanitisesCustomerReason(t *testing.T) {
	f := newOrderFixture(t)
	order := f.checkoutCOD(t)

	cancelled, err := f.service.Cancel(context.Background(), CancelOrderCommand{
		Actor:   Actor{ID: "user-1", Role: ActorRoleCustomer},
		OrderID: order.ID,
		Reason:  `<script>alert(1)</script>changed my mind`,
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	last := cancelled.StatusHistory[len(cancelled.StatusHistory)-1]
	if strings.Contains(last.Note, "<script>") {
		t.Fatalf("reason must be sanitised, got %q", last.Note)
	}
	if !strings.Contains(last.Note, "changed my mind") {
		t.Fatalf("plain text must survive sanitising, got %q", last.Note)
	}
}

func TestConcurrentCancelOnlyOneSucceeds(t *testing.T) {
	f := newOrderFixture(t)
	order := f.checkoutCOD(t)
	owner := Actor{ID: "user-1", Role: ActorRoleCustomer}

	if _, err := f.service.Cancel(context.Background(), CancelOrderCommand{Actor: owner, OrderID: order.ID}); err != nil {
		t.Fatalf("first cancel: %v", err)
	}

	_, err := f.service.Cancel(context.Background(), CancelOrderCommand{Actor: owner, OrderID: order.ID})
	if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrStaleState) {
		t.Fatalf("second cancel must fail with invalid transition or stale state, got %v", err)
	}

	stored, _ := f.repo.FindByID(context.Background(), order.ID)
	cancelEntries := 0
	for _, entry := range stored.StatusHistory {
		if entry.Status == string(domain.OrderStatusCancelled) {
			cancelEntries++
		}
	}
	if cancelEntries != 1 {
		t.Fatalf("history must contain exactly one cancelled entry, got %d", cancelEntries)
	}
}

func TestCancelStaleVersionSurfacesStaleState(t *testing.T) {
	f := newOrderFixture(t)
	order := f.checkoutCOD(t)
	f.repo.updateErr = &testRepoError{conflict: true}

	_, err := f.service.Cancel(context.Background(), CancelOrderCommand{
		Actor:   Actor{ID: "user-1", Role: ActorRoleCustomer},
		OrderID: order.ID,
	})
	if !errors.Is(err, ErrStaleState) {
		t.Fatalf("expected stale state on version conflict, got %v", err)
	}
}

// Returns and refunds -------------------------------------------------------------

func (f *orderFixture) deliveredOrder(t *testing.T) domain.Order {
	t.Helper()
	order := f.checkoutCOD(t)
	if _, err := f.service.MarkAsShipped(context.Background(), MarkOrderShippedCommand{Actor: staffActor, OrderID: order.ID}); err != nil {
		t.Fatalf("mark as shipped: %v", err)
	}
	delivered, err := f.service.MarkAsDelivered(context.Background(), MarkOrderDeliveredCommand{Actor: staffActor, OrderID: order.ID})
	if err != nil {
		t.Fatalf("mark as delivered: %v", err)
	}
	return delivered
}

func TestReturnFlowApproveBooksReversePickup(t *testing.T) {
	f := newOrderFixture(t)
	order := f.deliveredOrder(t)
	owner := Actor{ID: "user-1", Role: ActorRoleCustomer}

	requested, err := f.service.RequestReturn(context.Background(), RequestReturnCommand{Actor: owner, OrderID: order.ID, Reason: "leaking unit"})
	if err != nil {
		t.Fatalf("request return: %v", err)
	}
	if requested.Return.Status != domain.ReturnStatusRequested || !requested.Return.Requested {
		t.Fatalf("expected requested return, got %+v", requested.Return)
	}

	approved, err := f.service.ApproveReturn(context.Background(), ReturnActionCommand{Actor: staffActor, OrderID: order.ID})
	if err != nil {
		t.Fatalf("approve return: %v", err)
	}
	if approved.Return.Status != domain.ReturnStatusPickedUp {
		t.Fatalf("expected picked up after successful reverse pickup, got %s", approved.Return.Status)
	}
	if approved.ReversePickup == nil || approved.ReversePickup.AWB != "RVP456" {
		t.Fatalf("expected reverse pickup recorded, got %+v", approved.ReversePickup)
	}
}

func TestApproveReturnDegradesWhenCourierFails(t *testing.T) {
	f := newOrderFixture(t)
	order := f.deliveredOrder(t)
	owner := Actor{ID: "user-1", Role: ActorRoleCustomer}

	if _, err := f.service.RequestReturn(context.Background(), RequestReturnCommand{Actor: owner, OrderID: order.ID, Reason: "damaged"}); err != nil {
		t.Fatalf("request return: %v", err)
	}
	f.courier.pickupErr = courier.ErrCourierUnavailable

	approved, err := f.service.ApproveReturn(context.Background(), ReturnActionCommand{Actor: staffActor, OrderID: order.ID})
	if err != nil {
		t.Fatalf("courier outage must not fail approval: %v", err)
	}
	if approved.Return.Status != domain.ReturnStatusApproved {
		t.Fatalf("return must stay approved for manual arrangement, got %s", approved.Return.Status)
	}
	if approved.ReversePickup != nil {
		t.Fatalf("no reverse pickup should be recorded on failure")
	}
}

func TestRejectReturnDefaultsReason(t *testing.T) {
	f := newOrderFixture(t)
	order := f.deliveredOrder(t)
	owner := Actor{ID: "user-1", Role: ActorRoleCustomer}

	if _, err := f.service.RequestReturn(context.Background(), RequestReturnCommand{Actor: owner, OrderID: order.ID}); err != nil {
		t.Fatalf("request return: %v", err)
	}

	rejected, err := f.service.RejectReturn(context.Background(), ReturnActionCommand{Actor: staffActor, OrderID: order.ID})
	if err != nil {
		t.Fatalf("reject return: %v", err)
	}
	if rejected.Return.Status != domain.ReturnStatusRejected || rejected.Return.RejectionReason != "Not specified" {
		t.Fatalf("expected rejected with default reason, got %+v", rejected.Return)
	}
}

func TestProcessRefundManualTransferForCOD(t *testing.T) {
	f := newOrderFixture(t)
	order := f.deliveredOrder(t)
	owner := Actor{ID: "user-1", Role: ActorRoleCustomer}

	if _, err := f.service.RequestReturn(context.Background(), RequestReturnCommand{Actor: owner, OrderID: order.ID, Reason: "leaking"}); err != nil {
		t.Fatalf("request return: %v", err)
	}
	if _, err := f.service.ApproveReturn(context.Background(), ReturnActionCommand{Actor: staffActor, OrderID: order.ID}); err != nil {
		t.Fatalf("approve return: %v", err)
	}
	if _, err := f.service.MarkReturnReceived(context.Background(), ReturnActionCommand{Actor: staffActor, OrderID: order.ID}); err != nil {
		t.Fatalf("mark return received: %v", err)
	}

	refunded, err := f.service.ProcessRefund(context.Background(), ProcessOrderRefundCommand{Actor: staffActor, OrderID: order.ID})
	if err != nil {
		t.Fatalf("process refund: %v", err)
	}
	if refunded.Refund.Status != domain.RefundStatusProcessing || refunded.Refund.Method != refundMethodManualTransfer {
		t.Fatalf("COD refunds require a manual transfer, got %+v", refunded.Refund)
	}
}

func TestProcessRefundGatewayFailureDowngradesNotRaises(t *testing.T) {
	f := newOrderFixture(t)

	result, err := f.service.Checkout(context.Background(), CheckoutCommand{
		Actor:           Actor{ID: "user-1", Role: ActorRoleCustomer},
		Items:           []CheckoutItemInput{{ProductID: "prod-ro", Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodOnline,
		ShippingAddress: "14 Ring Road",
		ShippingPostal:  "395003",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	orderID := result.Order.ID
	if _, err := f.service.MarkAsPaid(context.Background(), MarkOrderPaidCommand{
		Actor:            Actor{ID: "user-1", Role: ActorRoleCustomer},
		OrderID:          orderID,
		GatewayOrderID:   result.GatewayOrder.ID,
		GatewayPaymentID: "pay_1",
		GatewaySignature: "sig",
	}); err != nil {
		t.Fatalf("mark as paid: %v", err)
	}
	if _, err := f.service.MarkAsShipped(context.Background(), MarkOrderShippedCommand{Actor: staffActor, OrderID: orderID}); err != nil {
		t.Fatalf("mark as shipped: %v", err)
	}
	if _, err := f.service.MarkAsDelivered(context.Background(), MarkOrderDeliveredCommand{Actor: staffActor, OrderID: orderID}); err != nil {
		t.Fatalf("mark as delivered: %v", err)
	}
	owner := Actor{ID: "user-1", Role: ActorRoleCustomer}
	if _, err := f.service.RequestReturn(context.Background(), RequestReturnCommand{Actor: owner, OrderID: orderID, Reason: "faulty"}); err != nil {
		t.Fatalf("request return: %v", err)
	}
	if _, err := f.service.ApproveReturn(context.Background(), ReturnActionCommand{Actor: staffActor, OrderID: orderID}); err != nil {
		t.Fatalf("approve return: %v", err)
	}
	if _, err := f.service.MarkReturnReceived(context.Background(), ReturnActionCommand{Actor: staffActor, OrderID: orderID}); err != nil {
		t.Fatalf("mark return received: %v", err)
	}

	f.gateway.refundErr = errors.New("insufficient balance")
	downgraded, err := f.service.ProcessRefund(context.Background(), ProcessOrderRefundCommand{Actor: staffActor, OrderID: orderID})
	if err != nil {
		t.Fatalf("gateway failure must downgrade, not raise: %v", err)
	}
	if downgraded.Refund.Status != domain.RefundStatusFailed {
		t.Fatalf("expected failed refund status, got %s", downgraded.Refund.Status)
	}

	f.gateway.refundErr = nil
	completed, err := f.service.ProcessRefund(context.Background(), ProcessOrderRefundCommand{Actor: staffActor, OrderID: orderID})
	if err != nil {
		t.Fatalf("retry refund: %v", err)
	}
	if completed.Refund.Status != domain.RefundStatusCompleted || completed.Status != domain.OrderStatusRefunded {
		t.Fatalf("expected completed refund, got refund=%s status=%s", completed.Refund.Status, completed.Status)
	}
	if completed.Return.Status != domain.ReturnStatusRefunded {
		t.Fatalf("return sub-state must reach refunded, got %s", completed.Return.Status)
	}

	if _, err := f.service.ProcessRefund(context.Background(), ProcessOrderRefundCommand{Actor: staffActor, OrderID: orderID}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed refunds must never run twice, got %v", err)
	}
}

// Courier webhook -----------------------------------------------------------------

func TestApplyCourierStatusDrivesLifecycleForwardOnly(t *testing.T) {
	f := newOrderFixture(t)
	order := f.checkoutCOD(t)
	if _, err := f.service.MarkAsShipped(context.Background(), MarkOrderShippedCommand{Actor: staffActor, OrderID: order.ID}); err != nil {
		t.Fatalf("mark as shipped: %v", err)
	}

	updated, err := f.service.ApplyCourierStatus(context.Background(), CourierStatusCommand{OrderID: order.ID, VendorStatus: "OUT-FOR-DELIVERY"})
	if err != nil {
		t.Fatalf("apply courier status: %v", err)
	}
	if updated.Status != domain.OrderStatusOutForDelivery {
		t.Fatalf("expected out_for_delivery, got %s", updated.Status)
	}

	// A late IN TRANSIT scan must not move the order backwards.
	unchanged, err := f.service.ApplyCourierStatus(context.Background(), CourierStatusCommand{OrderID: order.ID, VendorStatus: "IN TRANSIT"})
	if err != nil {
		t.Fatalf("late scan: %v", err)
	}
	if unchanged.Status != domain.OrderStatusOutForDelivery {
		t.Fatalf("late scan must be a no-op, got %s", unchanged.Status)
	}

	deliveredAt := time.Date(2026, 4, 5, 16, 30, 0, 0, time.UTC)
	delivered, err := f.service.ApplyCourierStatus(context.Background(), CourierStatusCommand{
		OrderID:      order.ID,
		VendorStatus: "DELIVERED",
		DeliveredAt:  &deliveredAt,
	})
	if err != nil {
		t.Fatalf("delivered webhook: %v", err)
	}
	if !delivered.IsDelivered || delivered.DeliveredAt == nil || !delivered.DeliveredAt.Equal(deliveredAt) {
		t.Fatalf("expected delivery stamped from webhook, got %+v", delivered)
	}
	if !delivered.IsPaid {
		t.Fatalf("COD delivery via webhook must settle payment")
	}
	last := delivered.StatusHistory[len(delivered.StatusHistory)-1]
	if last.ActorRole != ActorRoleSystem {
		t.Fatalf("webhook transitions must be attributed to the system actor, got %q", last.ActorRole)
	}
}

func TestApplyCourierStatusIgnoresNonLifecycleEvents(t *testing.T) {
	f := newOrderFixture(t)
	order := f.checkoutCOD(t)

	unchanged, err := f.service.ApplyCourierStatus(context.Background(), CourierStatusCommand{OrderID: order.ID, VendorStatus: "MANIFEST SCANNED"})
	if err != nil {
		t.Fatalf("apply courier status: %v", err)
	}
	if unchanged.Status != domain.OrderStatusPending {
		t.Fatalf("manifest scans must not move the lifecycle, got %s", unchanged.Status)
	}
}

// Access control -------------------------------------------------------------------

func TestListOrdersScopesCustomersToTheirOwnOrders(t *testing.T) {
	f := newOrderFixture(t)
	f.checkoutCOD(t)

	page, err := f.service.ListOrders(context.Background(), Actor{ID: "someone-else", Role: ActorRoleCustomer}, OrderListQuery{UserID: "user-1"})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("customers must not list other users' orders, got %d items", len(page.Items))
	}

	staffPage, err := f.service.ListOrders(context.Background(), staffActor, OrderListQuery{UserID: "user-1"})
	if err != nil {
		t.Fatalf("staff list: %v", err)
	}
	if len(staffPage.Items) != 1 {
		t.Fatalf("staff should see the order, got %d items", len(staffPage.Items))
	}
}

func TestGetOrderRejectsStrangers(t *testing.T) {
	f := newOrderFixture(t)
	order := f.checkoutCOD(t)

	if _, err := f.service.GetOrder(context.Background(), Actor{ID: "intruder", Role: ActorRoleCustomer}, order.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.service.GetOrder(context.Background(), staffActor, order.ID); err != nil {
		t.Fatalf("staff access: %v", err)
	}
}
