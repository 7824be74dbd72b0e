package response

import (
	"net/http"
	"testing"

	"github.com/doctalk/doctalk-backend/internal/apperr"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindInvalid, http.StatusBadRequest},
		{apperr.KindInvalidParent, http.StatusBadRequest},
		{apperr.KindParentRequired, http.StatusBadRequest},
		{apperr.KindUnsupported, http.StatusBadRequest},
		{apperr.KindNoContent, http.StatusBadRequest},
		{apperr.KindUnauthorized, http.StatusUnauthorized},
		{apperr.KindForbidden, http.StatusForbidden},
		{apperr.KindNotFound, http.StatusNotFound},
		{apperr.KindConflict, http.StatusConflict},
		{apperr.KindTooLarge, http.StatusRequestEntityTooLarge},
		{apperr.KindBusy, http.StatusServiceUnavailable},
		{apperr.KindProvider, http.StatusInternalServerError},
		{apperr.KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusOf(tc.kind); got != tc.want {
			t.Errorf("StatusOf(%q) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}
