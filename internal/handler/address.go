package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/cloud-kitchen/internal/domain/address"
)

func (h *Handler) listAddresses(w http.ResponseWriter, r *http.Request) {
	addrs, err := h.addresses.List(r.Context(), currentUser(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, a := range addrs {
			encodeAddress(e, a)
		}
		e.ArrEnd()
	})
}

func (h *Handler) createAddress(w http.ResponseWriter, r *http.Request) {
	var f address.Fields
	err := decodeObject(w, r, func(d *jx.Decoder, key string) (err error) {
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
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.addresses.Create(r.Context(), currentUser(r).ID, f)
	writeAddress(w, r, http.StatusCreated, a, err)
}

func (h *Handler) updateAddress(w http.ResponseWriter, r *http.Request) {
	var p address.Patch
	str := func(d *jx.Decoder) (*string, error) {
		v, err := optStr(d)
		return &v, err
	}
	err := decodeObject(w, r, func(d *jx.Decoder, key string) (err error) {
		switch key {
		case "street":
			p.Street, err = str(d)
		case "city":
			p.City, err = str(d)
		case "state":
			p.State, err = str(d)
		case "zip":
			p.Zip, err = str(d)
		case "country":
			p.Country, err = str(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.addresses.Update(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"), p)
	writeAddress(w, r, http.StatusOK, a, err)
}

func (h *Handler) deleteAddress(w http.ResponseWriter, r *http.Request) {
	if err := h.addresses.Delete(r.Context(), currentUser(r).ID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setDefaultAddress(w http.ResponseWriter, r *http.Request) {
	a, err := h.addresses.SetDefault(r.Context(), currentUser(r).ID, chi.URLParam(r, "id"))
	writeAddress(w, r, http.StatusOK, a, err)
}

func writeAddress(w http.ResponseWriter, r *http.Request, status int, a address.Address, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		encodeAddress(e, a)
	})
}

func encodeAddress(e *jx.Encoder, a address.Address) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(a.ID)
	e.FieldStart("street")
	e.Str(a.Street)
	e.FieldStart("city")
	e.Str(a.City)
	if a.State != "" {
		e.FieldStart("state")
		e.Str(a.State)
	}
	e.FieldStart("zip")
	e.Str(a.Zip)
	e.FieldStart("country")
	e.Str(a.Country)
	e.FieldStart("isDefault")
	e.Bool(a.IsDefault)
	if !a.CreatedAt.IsZero() {
		e.FieldStart("createdAt")
		encodeTime(e, a.CreatedAt)
	}
	e.ObjEnd()
}
