package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/cloud-kitchen/internal/domain/apperr"
	"github.com/xenking/cloud-kitchen/internal/domain/cart"
)

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	snap, err := h.checkout.Cart(r.Context(), currentUser(r))
	h.writeCart(w, r, snap, err)
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var productID string
	err := decodeObject(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "productId":
			productID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.checkout.AddItem(r.Context(), currentUser(r), productID)
	h.writeCart(w, r, snap, err)
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var (
		quantity int
		seen     bool
	)
	err := decodeObject(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "quantity":
			seen = true
			quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && !seen {
		err = apperr.Validation("quantity is required")
	}
	if err == nil && quantity > cart.MaxQuantity {
		err = apperr.Validation("quantity cannot exceed %d", cart.MaxQuantity)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.checkout.UpdateQuantity(r.Context(), currentUser(r), chi.URLParam(r, "productId"), quantity)
	h.writeCart(w, r, snap, err)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	snap, err := h.checkout.RemoveItem(r.Context(), currentUser(r), chi.URLParam(r, "productId"))
	h.writeCart(w, r, snap, err)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	snap, err := h.checkout.ClearCart(r.Context(), currentUser(r))
	h.writeCart(w, r, snap, err)
}

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, snap cart.Snapshot, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeCart(e, snap)
	})
}

func (h *Handler) encodeCart(e *jx.Encoder, snap cart.Snapshot) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range snap.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("price")
		encodeMoney(e, it.Price)
		e.FieldStart("imageUrl")
		e.Str(h.imageURL(it.ImageName))
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("subtotal")
		encodeMoney(e, it.Subtotal())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("totalItems")
	e.Int(snap.TotalItems)
	e.FieldStart("totalPrice")
	encodeMoney(e, snap.TotalPrice)
	e.ObjEnd()
}
