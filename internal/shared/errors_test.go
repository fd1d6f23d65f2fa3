package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionErrorUnwraps(t *testing.T) {
	err := NewTransitionError("invoice", "inv-1", "draft", "in_collection", nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Contains(t, err.Error(), "inv-1")
	require.Contains(t, err.Error(), "draft -> in_collection")

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	require.Equal(t, "invoice", te.Entity)

	closed := NewTransitionError("collection_case", "c-1", "paid", "in_progress", ErrCaseAlreadyClosed)
	require.ErrorIs(t, closed, ErrCaseAlreadyClosed)
	require.False(t, errors.Is(closed, ErrInvalidTransition))
}

func TestUserSafeMessage(t *testing.T) {
	require.Equal(t, "", UserSafeMessage(nil))
	wrapped := fmt.Errorf("update invoice: %w", ErrLockedInvoiceMutation)
	require.Contains(t, UserSafeMessage(wrapped), "versendet")
	require.Contains(t, UserSafeMessage(errors.New("boom")), "Unerwarteter Fehler")
}

func TestLockKeys(t *testing.T) {
	require.Equal(t, "dunning:tenant:acme:lock", DunningLockKey("acme"))
	require.Equal(t, "receivables:dashboard:acme", DashboardCacheKey("acme"))
}
