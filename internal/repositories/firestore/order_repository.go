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

	domain "github.com/oakmarket/api/internal/domain"
	pfirestore "github.com/oakmarket/api/internal/platform/firestore"
	"github.com/oakmarket/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists materialized orders in Firestore. Order
// documents are keyed by payment reference, so a second create for the
// same payment fails at the storage layer rather than by lookup.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil)
	return &OrderRepository{provider: provider, orders: orders}, nil
}

// CreatePaid stores the order and its items in a single transaction and
// decrements availability for each purchased product. The transaction
// fails with ErrOrderExists when the payment reference is already taken.
func (r *OrderRepository) CreatePaid(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	paymentReference := strings.TrimSpace(order.PaymentReference)
	if paymentReference == "" {
		return errors.New("order create: payment reference is required")
	}
	if len(order.Items) == 0 {
		return errors.New("order create: at least one item is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}

		orderRef := client.Collection(ordersCollection).Doc(paymentReference)

		// All reads happen before any buffered write.
		type productUpdate struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		updates := make([]productUpdate, 0, len(order.Items))
		for _, item := range order.Items {
			productID := strings.TrimSpace(item.ProductID)
			if productID == "" {
				continue
			}
			productRef := client.Collection(productsCollection).Doc(productID)
			snap, err := tx.Get(productRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					// Product removed since checkout. The payment already
					// settled, so the order is still recorded.
					continue
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}
			doc.Available -= item.Quantity
			if doc.Available < 0 {
				doc.Available = 0
			}
			doc.UpdatedAt = order.CreatedAt.UTC()
			updates = append(updates, productUpdate{ref: productRef, doc: doc})
		}

		if err := tx.Create(orderRef, newOrderDocument(order)); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return fmt.Errorf("%w: %s", repositories.ErrOrderExists, paymentReference)
			}
			return err
		}

		for _, update := range updates {
			if err := tx.Set(update.ref, update.doc); err != nil {
				return err
			}
		}
		return nil
	})
	return mapOrderCreateError(paymentReference, err)
}

// mapOrderCreateError classifies the transaction outcome of CreatePaid.
// tx.Create only buffers the write; the exists precondition on the order
// document is enforced at commit, so a duplicate payment reference
// surfaces as AlreadyExists from the transaction itself rather than from
// the in-transaction Create call. No other write in the transaction can
// produce that code: product updates use Set and carry no precondition.
func mapOrderCreateError(paymentReference string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repositories.ErrOrderExists) {
		return err
	}
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: %s", repositories.ErrOrderExists, paymentReference)
	}
	return pfirestore.WrapError("orders.create", err)
}

// GetByPaymentReference fetches the order stored for the payment reference.
func (r *OrderRepository) GetByPaymentReference(ctx context.Context, paymentReference string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	paymentReference = strings.TrimSpace(paymentReference)
	if paymentReference == "" {
		return domain.Order{}, errors.New("order get: payment reference is required")
	}

	doc, err := r.orders.Get(ctx, paymentReference)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, fmt.Errorf("%w: %s", repositories.ErrOrderNotFound, paymentReference)
		}
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByCheckoutSession looks up the order created for a checkout session.
func (r *OrderRepository) FindByCheckoutSession(ctx context.Context, checkoutSessionID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	checkoutSessionID = strings.TrimSpace(checkoutSessionID)
	if checkoutSessionID == "" {
		return domain.Order{}, errors.New("order find: checkout session id is required")
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("checkoutSessionId", "==", checkoutSessionID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, fmt.Errorf("%w: session %s", repositories.ErrOrderNotFound, checkoutSessionID)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

type orderDocument struct {
	OrderID           string              `firestore:"orderId"`
	OrderNumber       string              `firestore:"orderNumber"`
	CheckoutSessionID string              `firestore:"checkoutSessionId"`
	CustomerName      string              `firestore:"customerName"`
	CustomerEmail     string              `firestore:"customerEmail"`
	ShippingAddress   *addressDocument    `firestore:"shippingAddress,omitempty"`
	BillingAddress    *addressDocument    `firestore:"billingAddress,omitempty"`
	Currency          string              `firestore:"currency"`
	Subtotal          float64             `firestore:"subtotal"`
	ShippingCost      float64             `firestore:"shippingCost"`
	TaxAmount         float64             `firestore:"taxAmount"`
	Total             float64             `firestore:"total"`
	Status            string              `firestore:"status"`
	PaymentStatus     string              `firestore:"paymentStatus"`
	Items             []orderItemDocument `firestore:"items"`
	CreatedAt         time.Time           `firestore:"createdAt"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID       string  `firestore:"productId"`
	Title           string  `firestore:"title"`
	Quantity        int     `firestore:"qty"`
	PriceAtPurchase float64 `firestore:"priceAtPurchase"`
	LineSubtotal    float64 `firestore:"lineSubtotal"`
}

type addressDocument struct {
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID:       strings.TrimSpace(item.ProductID),
			Title:           strings.TrimSpace(item.Title),
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
			LineSubtotal:    item.LineSubtotal,
		}
	}
	return orderDocument{
		OrderID:           strings.TrimSpace(order.ID),
		OrderNumber:       strings.TrimSpace(order.OrderNumber),
		CheckoutSessionID: strings.TrimSpace(order.CheckoutSessionID),
		CustomerName:      strings.TrimSpace(order.Customer.Name),
		CustomerEmail:     strings.TrimSpace(order.Customer.Email),
		ShippingAddress:   newAddressDocument(order.ShippingAddress),
		BillingAddress:    newAddressDocument(order.BillingAddress),
		Currency:          strings.ToLower(strings.TrimSpace(order.Currency)),
		Subtotal:          order.Subtotal,
		ShippingCost:      order.ShippingCost,
		TaxAmount:         order.TaxAmount,
		Total:             order.Total,
		Status:            string(order.Status),
		PaymentStatus:     string(order.PaymentStatus),
		Items:             items,
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
	}
}

func newAddressDocument(addr *domain.Address) *addressDocument {
	if addr == nil {
		return nil
	}
	return &addressDocument{
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      strings.TrimSpace(addr.Line2),
		City:       strings.TrimSpace(addr.City),
		State:      strings.TrimSpace(addr.State),
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
	}
}

func (d orderDocument) toDomain(paymentReference string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID:       item.ProductID,
			Title:           item.Title,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
			LineSubtotal:    item.LineSubtotal,
		}
	}
	return domain.Order{
		ID:                d.OrderID,
		OrderNumber:       d.OrderNumber,
		PaymentReference:  paymentReference,
		CheckoutSessionID: d.CheckoutSessionID,
		Customer: domain.CustomerInfo{
			Name:  d.CustomerName,
			Email: d.CustomerEmail,
		},
		ShippingAddress: d.ShippingAddress.toDomain(),
		BillingAddress:  d.BillingAddress.toDomain(),
		Currency:        d.Currency,
		Subtotal:        d.Subtotal,
		ShippingCost:    d.ShippingCost,
		TaxAmount:       d.TaxAmount,
		Total:           d.Total,
		Status:          domain.OrderStatus(d.Status),
		PaymentStatus:   domain.PaymentStatus(d.PaymentStatus),
		Items:           items,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func (d *addressDocument) toDomain() *domain.Address {
	if d == nil {
		return nil
	}
	return &domain.Address{
		Line1:      d.Line1,
		Line2:      d.Line2,
		City:       d.City,
		State:      d.State,
		PostalCode: d.PostalCode,
		Country:    d.Country,
	}
}
