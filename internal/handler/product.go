package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/cloud-kitchen/internal/domain/apperr"
	"github.com/xenking/cloud-kitchen/internal/domain/product"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, apperr.Persistence("list products", err))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range products {
			h.encodeProduct(e, p)
		}
		e.ArrEnd()
	})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			writeError(w, r, apperr.NotFound("product"))
			return
		}
		writeError(w, r, apperr.Persistence("get product", err))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeProduct(e, *p)
	})
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("price")
	encodeMoney(e, p.Price)
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("imageUrl")
	e.Str(h.imageURL(p.ImageName))
	e.FieldStart("available")
	e.Bool(p.Available)
	e.ObjEnd()
}
