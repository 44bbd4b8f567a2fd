package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/cloud-kitchen/internal/domain/order"
)

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrders(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range orders {
			encodeOrder(e, &orders[i])
		}
		e.ArrEnd()
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrderDetails(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

func (h *Handler) ensurePaymentIntent(w http.ResponseWriter, r *http.Request) {
	intent, err := h.orders.EnsurePaymentIntent(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("paymentIntentId")
		e.Str(intent.ID)
		e.FieldStart("clientSecret")
		e.Str(intent.ClientSecret)
		e.FieldStart("status")
		e.Str(intent.Status)
		e.FieldStart("amount")
		e.Int64(intent.Amount)
		e.FieldStart("currency")
		e.Str(intent.Currency)
		e.ObjEnd()
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("paymentMethod")
	e.Str(string(o.PaymentMethod))
	e.FieldStart("addressId")
	e.Str(o.AddressID)
	if o.PaymentIntentID != "" {
		e.FieldStart("paymentIntentId")
		e.Str(o.PaymentIntentID)
	}
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("price")
		encodeMoney(e, it.Price)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("totalItems")
	e.Int(o.TotalItems)
	e.FieldStart("totalPrice")
	encodeMoney(e, o.TotalPrice)
	e.FieldStart("createdAt")
	encodeTime(e, o.CreatedAt)
	e.FieldStart("updatedAt")
	encodeTime(e, o.UpdatedAt)
	e.ObjEnd()
}
