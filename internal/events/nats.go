// Package events publishes order lifecycle events to NATS for the kitchen
// display and fulfilment consumers.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/xenking/cloud-kitchen/internal/domain/order"
)

const (
	connectAttempts = 3
	connectBackoff  = 2 * time.Second
)

// Connect dials url, retrying a few times before giving up.
func Connect(ctx context.Context, url string, lg *zap.Logger) (*nats.Conn, error) {
	var lastErr error
	for attempt := range connectAttempts {
		nc, err := nats.Connect(url,
			nats.Name("cloud-kitchen"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(connectBackoff),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				lg.Warn("NATS disconnected", zap.Error(err))
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				lg.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
			}),
		)
		if err == nil {
			return nc, nil
		}
		lastErr = err
		lg.Warn("Connect to NATS failed", zap.Int("attempt", attempt+1), zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "connect nats")
		case <-time.After(connectBackoff):
		}
	}
	return nil, errors.Wrap(lastErr, "connect nats")
}

// Conn is the subset of *nats.Conn used by Publisher.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

var _ order.Publisher = (*Publisher)(nil)

// Publisher emits order events under a subject prefix:
// <prefix>.created and <prefix>.status.<status>.
type Publisher struct {
	conn   Conn
	prefix string
}

// NewPublisher creates a Publisher. An empty prefix defaults to "orders".
func NewPublisher(conn Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = "orders"
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// OrderCreated announces a newly placed order.
func (p *Publisher) OrderCreated(ctx context.Context, o *order.Order) error {
	return p.publish(ctx, p.prefix+".created", encodeOrder(o))
}

// OrderStatusChanged announces a status transition such as a settled payment.
func (p *Publisher) OrderStatusChanged(ctx context.Context, o *order.Order) error {
	return p.publish(ctx, p.prefix+".status."+string(o.Status), encodeOrder(o))
}

func (p *Publisher) publish(ctx context.Context, subject string, data []byte) error {
	if err := p.conn.Publish(subject, data); err != nil {
		return errors.Wrapf(err, "publish %s", subject)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return errors.Wrapf(err, "flush %s", subject)
	}
	zctx.From(ctx).Debug("Published event", zap.String("subject", subject))
	return nil
}

func encodeOrder(o *order.Order) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(o.ID)
	e.FieldStart("owner_id")
	e.Str(o.OwnerID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("payment_method")
	e.Str(string(o.PaymentMethod))
	e.FieldStart("address_id")
	e.Str(o.AddressID)
	e.FieldStart("total_items")
	e.Int(o.TotalItems)
	e.FieldStart("total_price")
	e.Str(o.TotalPrice.StringFixed(2))
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Str(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("updated_at")
	e.Str(o.UpdatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
	return e.Bytes()
}
