package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/cloud-kitchen/internal/domain/apperr"
)

// maxWebhookBytes matches the payload limit Stripe recommends enforcing.
const maxWebhookBytes = 64 << 10

func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, func(e *jx.Encoder) {
				e.ObjStart()
				e.FieldStart("code")
				e.Int(http.StatusRequestEntityTooLarge)
				e.FieldStart("kind")
				e.Str(string(apperr.KindValidation))
				e.FieldStart("message")
				e.Str("payload too large")
				e.ObjEnd()
			})
			return
		}
		writeError(w, r, apperr.Validation("read payload"))
		return
	}

	outcome, err := h.webhooks.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("received")
		e.Bool(true)
		e.FieldStart("outcome")
		e.Str(string(outcome))
		e.ObjEnd()
	})
}
