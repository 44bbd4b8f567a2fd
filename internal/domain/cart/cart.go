// Package cart implements the session-scoped shopping cart.
//
// A Cart is a plain value owned by the caller's session. Totals are never
// stored: TotalItems and TotalPrice fold over the line items on every call, so
// no sequence of mutations can leave them out of sync.
package cart

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// MaxQuantity is the largest quantity a single line item may hold.
const MaxQuantity = 99

var (
	// ErrInvalidProduct is returned by AddItem for products without an id or
	// with a negative price.
	ErrInvalidProduct = errors.New("invalid product")
	// ErrQuantityLimit is returned by AddItem when the line item already holds
	// MaxQuantity.
	ErrQuantityLimit = errors.Errorf("quantity cannot exceed %d", MaxQuantity)
)

// Product is the subset of catalog data copied into a line item.
type Product struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	ImageName string
}

// LineItem is one product-quantity-price tuple in the cart.
type LineItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	ImageName string          `json:"imageName"`
	Quantity  int             `json:"quantity"`
}

// Subtotal returns price × quantity.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Cart holds line items unique by product id. The zero value is an empty cart.
type Cart struct {
	items []LineItem
}

// New returns a cart holding a copy of items. Items with a non-positive
// quantity are dropped, duplicates are merged and quantities are capped at
// MaxQuantity, so a cart restored from a stored snapshot always satisfies the
// invariants.
func New(items []LineItem) *Cart {
	c := &Cart{}
	for _, it := range items {
		if it.ProductID == "" || it.Quantity <= 0 {
			continue
		}
		if i := c.index(it.ProductID); i >= 0 {
			c.items[i].Quantity = min(c.items[i].Quantity+min(it.Quantity, MaxQuantity), MaxQuantity)
			continue
		}
		it.Quantity = min(it.Quantity, MaxQuantity)
		c.items = append(c.items, it)
	}
	return c
}

func (c *Cart) index(productID string) int {
	for i := range c.items {
		if c.items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// AddItem increments the quantity of p by one, inserting a new line item on
// first add.
func (c *Cart) AddItem(p Product) error {
	if p.ID == "" || p.Price.IsNegative() {
		return ErrInvalidProduct
	}
	if i := c.index(p.ID); i >= 0 {
		if c.items[i].Quantity >= MaxQuantity {
			return ErrQuantityLimit
		}
		c.items[i].Quantity++
		return nil
	}
	c.items = append(c.items, LineItem{
		ProductID: p.ID,
		Name:      p.Name,
		Price:     p.Price,
		ImageName: p.ImageName,
		Quantity:  1,
	})
	return nil
}

// RemoveItem deletes the line item for productID. Absent ids are a no-op.
func (c *Cart) RemoveItem(productID string) {
	if i := c.index(productID); i >= 0 {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
}

// UpdateQuantity sets the quantity of productID, clamped to
// [0, MaxQuantity]. A resulting zero removes the item. Absent ids are a no-op.
func (c *Cart) UpdateQuantity(productID string, quantity int) {
	i := c.index(productID)
	if i < 0 {
		return
	}
	if quantity <= 0 {
		c.RemoveItem(productID)
		return
	}
	c.items[i].Quantity = min(quantity, MaxQuantity)
}

// Subtract removes the quantities in items from the cart, dropping line items
// that reach zero. Products not in the cart are ignored.
func (c *Cart) Subtract(items []LineItem) {
	for _, it := range items {
		i := c.index(it.ProductID)
		if i < 0 || it.Quantity <= 0 {
			continue
		}
		c.UpdateQuantity(it.ProductID, c.items[i].Quantity-it.Quantity)
	}
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.items = nil
}

// Items returns a copy of the line items in insertion order.
func (c *Cart) Items() []LineItem {
	out := make([]LineItem, len(c.items))
	copy(out, c.items)
	return out
}

// Item returns the line item for productID.
func (c *Cart) Item(productID string) (LineItem, bool) {
	if i := c.index(productID); i >= 0 {
		return c.items[i], true
	}
	return LineItem{}, false
}

// IsEmpty reports whether the cart has no line items.
func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0
}

// TotalItems is the sum of all quantities.
func (c *Cart) TotalItems() int {
	n := 0
	for _, it := range c.items {
		n += it.Quantity
	}
	return n
}

// TotalPrice is the sum of price × quantity over all line items.
func (c *Cart) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// Snapshot is an immutable copy of the cart handed to order creation.
type Snapshot struct {
	Items      []LineItem
	TotalItems int
	TotalPrice decimal.Decimal
}

// Snapshot captures the current items and their totals.
func (c *Cart) Snapshot() Snapshot {
	return Snapshot{
		Items:      c.Items(),
		TotalItems: c.TotalItems(),
		TotalPrice: c.TotalPrice(),
	}
}
