package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	nativecommon "github.com/BendDAO/bend-lending-protocol-sub001/native/common"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/oracle"
)

func TestToStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		code int
	}{
		{"loan not found", fmt.Errorf("wrap: %w", lending.ErrLoanNotFound), http.StatusNotFound},
		{"unknown oracle asset", oracle.ErrUnknownAsset, http.StatusNotFound},
		{"unauthorized", lending.ErrUnauthorized, http.StatusForbidden},
		{"paused", lending.ErrProtocolPaused, http.StatusServiceUnavailable},
		{"reentrant", lending.ErrReentrantCall, http.StatusConflict},
		{"quota", nativecommon.ErrQuotaRequestsExceeded, http.StatusTooManyRequests},
		{"stale feed timestamp", oracle.ErrStaleTimestamp, http.StatusUnprocessableEntity},
		{"frozen", lending.ErrAssetFrozen, http.StatusBadRequest},
		{"bid too low", lending.ErrBidTooLow, http.StatusUnprocessableEntity},
		{"stale price", lending.ErrPriceStale, http.StatusServiceUnavailable},
		{"wrong state", lending.ErrInvalidLoanState, http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := toStatus(tt.err); got != tt.code {
				t.Fatalf("toStatus(%v) = %d, want %d", tt.err, got, tt.code)
			}
		})
	}
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("leveldb: corrupted block at /var/lib/bend"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeError(t, rec)
	if body.Error != "internal error" || body.Kind != "" {
		t.Fatalf("unexpected body %+v", body)
	}

	rec = httptest.NewRecorder()
	writeError(rec, fmt.Errorf("borrow: %w", lending.ErrHealthFactorTooLow))
	body = decodeError(t, rec)
	if body.Kind != string(lending.KindEconomic) {
		t.Fatalf("kind = %q", body.Kind)
	}
}
