package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/cloud-kitchen/internal/domain/address"
	"github.com/xenking/cloud-kitchen/internal/domain/checkout"
)

func (h *Handler) startCheckout(w http.ResponseWriter, r *http.Request) {
	sess, err := h.checkout.Start(r.Context(), currentUser(r))
	h.writeSession(w, r, sess, err)
}

func (h *Handler) abandonCheckout(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.Abandon(r.Context(), currentUser(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submitAddress(w http.ResponseWriter, r *http.Request) {
	var in checkout.AddressInput
	err := decodeObject(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "addressId":
			in.AddressID, err = optStr(d)
		case "address":
			if d.Next() == jx.Null {
				return d.Null()
			}
			f, err := decodeFields(d)
			if err != nil {
				return err
			}
			in.New = &f
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := h.checkout.SubmitAddress(r.Context(), currentUser(r), in)
	h.writeSession(w, r, sess, err)
}

func (h *Handler) selectPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var method string
	err := decodeObject(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "paymentMethod":
			method, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := h.checkout.SelectPaymentMethod(r.Context(), currentUser(r), method)
	h.writeSession(w, r, sess, err)
}

func (h *Handler) backToPayment(w http.ResponseWriter, r *http.Request) {
	sess, err := h.checkout.BackToPayment(r.Context(), currentUser(r))
	h.writeSession(w, r, sess, err)
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	sess, err := h.checkout.PlaceOrder(r.Context(), currentUser(r))
	h.writeSession(w, r, sess, err)
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var out checkout.PaymentOutcome
	err := decodeObject(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "succeeded":
			out.Succeeded, err = d.Bool()
		case "message":
			out.Message, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := h.checkout.ConfirmPayment(r.Context(), currentUser(r), out)
	h.writeSession(w, r, sess, err)
}

func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, sess *checkout.Session, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeSession(e, sess)
	})
}

// encodeSession renders the cart and the current checkout step. Fields
// present depend on the step.
func (h *Handler) encodeSession(e *jx.Encoder, sess *checkout.Session) {
	e.ObjStart()
	e.FieldStart("cart")
	h.encodeCart(e, sess.Cart.Snapshot())

	if f := sess.Flow; f != nil {
		e.FieldStart("step")
		e.Str(string(f.Step().Name()))
		if msg := f.LastError(); msg != "" {
			e.FieldStart("lastError")
			e.Str(msg)
		}

		switch s := f.Step().(type) {
		case checkout.AddressStep:
			e.FieldStart("addresses")
			e.ArrStart()
			for _, a := range s.Addresses {
				encodeAddress(e, a)
			}
			e.ArrEnd()
			if s.SelectedID != "" {
				e.FieldStart("selectedAddressId")
				e.Str(s.SelectedID)
			}
		case checkout.PaymentStep:
			e.FieldStart("address")
			encodeAddress(e, s.Address)
			if s.Method != "" {
				e.FieldStart("paymentMethod")
				e.Str(string(s.Method))
			}
		case checkout.ConfirmationStep:
			e.FieldStart("address")
			encodeAddress(e, s.Address)
			e.FieldStart("paymentMethod")
			e.Str(string(s.Method))
			if s.OrderID != "" {
				e.FieldStart("orderId")
				e.Str(s.OrderID)
			}
			if s.IntentID != "" {
				e.FieldStart("paymentIntentId")
				e.Str(s.IntentID)
			}
			if s.ClientSecret != "" {
				e.FieldStart("clientSecret")
				e.Str(s.ClientSecret)
			}
		case checkout.CompletedStep:
			e.FieldStart("orderId")
			e.Str(s.OrderID)
			e.FieldStart("paymentMethod")
			e.Str(string(s.Method))
		}
	}
	e.ObjEnd()
}

func decodeFields(d *jx.Decoder) (address.Fields, error) {
	var f address.Fields
	err := d.Obj(func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "street":
			f.Street, err = optStr(d)
		case "city":
			f.City, err = optStr(d)
		case "state":
			f.State, err = optStr(d)
		case "zip":
			f.Zip, err = optStr(d)
		case "country":
			f.Country, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return f, err
}
