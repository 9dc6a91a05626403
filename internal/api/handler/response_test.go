package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/lendaro/settlement/internal/domain"
)

func init() { gin.SetMode(gin.TestMode) }

// TestRespondDomainError_StatusMapping checks the domain-error → HTTP status
// translation table, including wrapped errors.
func TestRespondDomainError_StatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", domain.ErrHoldNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("hold.GetHoldStatus: %w", domain.ErrWalletNotFound), http.StatusNotFound},
		{"insufficient funds", fmt.Errorf("ledger: %w", domain.ErrInsufficientFunds), http.StatusPaymentRequired},
		{"window closed", domain.ErrWithdrawalWindowClosed, http.StatusConflict},
		{"conflict", domain.ErrRiskyModeEnabled, http.StatusConflict},
		{"disputed", domain.ErrHoldDisputed, http.StatusConflict},
		{"validation amount", domain.ErrInvalidAmount, http.StatusBadRequest},
		{"validation pool", domain.ErrNotHerdPool, http.StatusBadRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rr)
			respondDomainError(c, tc.err)
			if rr.Code != tc.want {
				t.Errorf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

// TestRespondDomainError_RepeatedTransitionIsSuccess verifies a repeated
// release or ship surfaces as an idempotent 200, never an error status.
func TestRespondDomainError_RepeatedTransitionIsSuccess(t *testing.T) {
	for _, sentinel := range []error{domain.ErrAlreadyReleased, domain.ErrAlreadyShipped} {
		rr := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rr)
		respondDomainError(c, fmt.Errorf("hold.Release: %w", sentinel))

		if rr.Code != http.StatusOK {
			t.Errorf("%v: status = %d, want 200", sentinel, rr.Code)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
			t.Fatalf("%v: invalid JSON body: %v", sentinel, err)
		}
		if body["success"] != true {
			t.Errorf("%v: success = %v, want true", sentinel, body["success"])
		}
	}
}
