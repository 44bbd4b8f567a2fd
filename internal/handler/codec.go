package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/cloud-kitchen/internal/domain/apperr"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func errorStatus(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindPaymentVerification:
		return http.StatusBadRequest
	case apperr.KindNotAuthenticated:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindIllegalState:
		return http.StatusConflict
	case apperr.KindExternalGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"code","kind","message"}. Unclassified errors
// and storage failures are logged and reported without their cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	msg := apperr.Message(err)
	status := errorStatus(kind)

	lg := zctx.From(r.Context())
	switch kind {
	case "":
		kind = "internal"
		lg.Error("Unhandled error", zap.Error(err))
	case apperr.KindPersistence:
		lg.Error("Storage failure", zap.Error(err))
	case apperr.KindExternalGateway:
		lg.Warn("Payment provider failure", zap.Error(err))
	default:
		lg.Debug("Request failed", zap.String("kind", string(kind)), zap.Error(err))
	}

	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("kind")
		e.Str(string(kind))
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}

// decodeObject reads a JSON object body, calling fn for every field.
func decodeObject(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	d := jx.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes), 1024)
	if err := d.Obj(fn); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("request body too large")
		}
		e := apperr.Validation("invalid request body")
		e.Err = err
		return e
	}
	return nil
}

// optStr reads a string field, treating null as empty.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func encodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.StringFixed(2)))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func (h *Handler) imageURL(name string) string {
	if name == "" || h.imageBaseURL == "" {
		return name
	}
	return strings.TrimSuffix(h.imageBaseURL, "/") + "/" + strings.TrimPrefix(name, "/")
}
