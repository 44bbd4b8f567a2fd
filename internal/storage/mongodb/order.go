package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/xenking/cloud-kitchen/internal/domain/order"
	"github.com/xenking/cloud-kitchen/internal/domain/payment"
)

type orderDocument struct {
	ID              string               `bson:"_id"`
	OwnerID         string               `bson:"owner_id"`
	Items           []lineItemDocument   `bson:"items"`
	TotalItems      int                  `bson:"total_items"`
	TotalPrice      primitive.Decimal128 `bson:"total_price"`
	AddressID       string               `bson:"address_id"`
	PaymentMethod   string               `bson:"payment_method"`
	Status          string               `bson:"status"`
	PaymentIntentID string               `bson:"payment_intent_id,omitempty"`
	CreatedAt       time.Time            `bson:"created_at"`
	UpdatedAt       time.Time            `bson:"updated_at"`
}

type lineItemDocument struct {
	ProductID string               `bson:"product_id"`
	Name      string               `bson:"name"`
	Quantity  int                  `bson:"quantity"`
	Price     primitive.Decimal128 `bson:"price"`
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository on a MongoDB collection.
type OrderRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewOrderRepository returns an OrderRepository using db's orders collection.
func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{
		collection: db.Collection(ordersCollection),
		now:        time.Now,
	}
}

// Create inserts o.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	doc, err := toOrderDocument(o)
	if err != nil {
		return err
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return errors.Wrapf(err, "insert order %q", o.ID)
	}
	return nil
}

// FindByID returns the order with id owned by ownerID.
func (r *OrderRepository) FindByID(ctx context.Context, id, ownerID string) (*order.Order, error) {
	var doc orderDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": id, "owner_id": ownerID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find order %q", id)
	}
	return toOrder(&doc)
}

// ListByOwner returns ownerID's orders, newest first.
func (r *OrderRepository) ListByOwner(ctx context.Context, ownerID string) ([]order.Order, error) {
	cur, err := r.collection.Find(ctx,
		bson.M{"owner_id": ownerID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}

	var docs []orderDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode orders")
	}

	orders := make([]order.Order, 0, len(docs))
	for i := range docs {
		o, err := toOrder(&docs[i])
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

// SetPaymentIntent attaches intentID unless the order already has one.
func (r *OrderRepository) SetPaymentIntent(ctx context.Context, id, ownerID, intentID string) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "owner_id": ownerID, "payment_intent_id": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"payment_intent_id": intentID, "updated_at": r.now().UTC()}},
	)
	if err != nil {
		return errors.Wrapf(err, "set payment intent on %q", id)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": id, "owner_id": ownerID})
	if err != nil {
		return errors.Wrapf(err, "count order %q", id)
	}
	if n == 0 {
		return order.ErrNotFound
	}
	return order.ErrIntentAlreadySet
}

// UpdateStatusByIntent atomically moves the order referencing intentID to
// status to when its current status is one of from.
func (r *OrderRepository) UpdateStatusByIntent(ctx context.Context, intentID string, to order.Status, from ...order.Status) (*order.Order, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	var doc orderDocument
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"payment_intent_id": intentID, "status": bson.M{"$in": allowed}},
		bson.M{"$set": bson.M{"status": string(to), "updated_at": r.now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return toOrder(&doc)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrapf(err, "update status for intent %q", intentID)
	}

	n, err := r.collection.CountDocuments(ctx, bson.M{"payment_intent_id": intentID})
	if err != nil {
		return nil, errors.Wrapf(err, "count orders for intent %q", intentID)
	}
	if n == 0 {
		return nil, order.ErrNotFound
	}
	return nil, order.ErrStatusConflict
}

func toOrderDocument(o *order.Order) (*orderDocument, error) {
	total, err := toDecimal128(o.TotalPrice)
	if err != nil {
		return nil, err
	}
	doc := &orderDocument{
		ID:              o.ID,
		OwnerID:         o.OwnerID,
		Items:           make([]lineItemDocument, len(o.Items)),
		TotalItems:      o.TotalItems,
		TotalPrice:      total,
		AddressID:       o.AddressID,
		PaymentMethod:   string(o.PaymentMethod),
		Status:          string(o.Status),
		PaymentIntentID: o.PaymentIntentID,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
	}
	for i, it := range o.Items {
		price, err := toDecimal128(it.Price)
		if err != nil {
			return nil, err
		}
		doc.Items[i] = lineItemDocument{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     price,
		}
	}
	return doc, nil
}

func toOrder(doc *orderDocument) (*order.Order, error) {
	total, err := fromDecimal128(doc.TotalPrice)
	if err != nil {
		return nil, err
	}
	o := &order.Order{
		ID:              doc.ID,
		OwnerID:         doc.OwnerID,
		Items:           make([]order.LineItem, len(doc.Items)),
		TotalItems:      doc.TotalItems,
		TotalPrice:      total,
		AddressID:       doc.AddressID,
		PaymentMethod:   payment.Method(doc.PaymentMethod),
		Status:          order.Status(doc.Status),
		PaymentIntentID: doc.PaymentIntentID,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
	for i, it := range doc.Items {
		price, err := fromDecimal128(it.Price)
		if err != nil {
			return nil, err
		}
		o.Items[i] = order.LineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			Price:     price,
		}
	}
	return o, nil
}
