package order_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bar-orders/internal/models"
	"bar-orders/internal/order"
)

func TestValidateTransition(t *testing.T) {
	valid := []struct {
		from, to models.OrderStatus
	}{
		{models.StatusPending, models.StatusPaid},
		{models.StatusPending, models.StatusCancelled},
		{models.StatusPending, models.StatusExpired},
		{models.StatusPaid, models.StatusConfirmed},
		{models.StatusPaid, models.StatusRefunded},
		{models.StatusConfirmed, models.StatusRefunded},
	}
	for _, tc := range valid {
		assert.NoError(t, order.ValidateTransition(tc.from, tc.to),
			"expected %s -> %s to be allowed", tc.from, tc.to)
	}

	invalid := []struct {
		from, to models.OrderStatus
	}{
		{models.StatusPending, models.StatusConfirmed},
		{models.StatusPending, models.StatusRefunded},
		{models.StatusPaid, models.StatusCancelled},
		{models.StatusPaid, models.StatusExpired},
		{models.StatusConfirmed, models.StatusCancelled},
		{models.StatusCancelled, models.StatusPaid},
		{models.StatusRefunded, models.StatusPending},
		{models.StatusExpired, models.StatusPaid},
	}
	for _, tc := range invalid {
		err := order.ValidateTransition(tc.from, tc.to)
		assert.Error(t, err, "expected %s -> %s to be rejected", tc.from, tc.to)

		var ite *order.InvalidTransitionError
		assert.ErrorAs(t, err, &ite)
		assert.Equal(t, tc.from, ite.From)
		assert.Equal(t, tc.to, ite.To)
	}
}

func TestValidateTransitionUnknownStatus(t *testing.T) {
	err := order.ValidateTransition(models.OrderStatus("bogus"), models.StatusPaid)
	assert.Error(t, err)
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, order.IsTerminal(models.StatusPending))
	assert.False(t, order.IsTerminal(models.StatusPaid))
	assert.False(t, order.IsTerminal(models.StatusConfirmed))
	assert.True(t, order.IsTerminal(models.StatusCancelled))
	assert.True(t, order.IsTerminal(models.StatusRefunded))
	assert.True(t, order.IsTerminal(models.StatusExpired))
}

func TestAllowedTransitionsReturnsCopy(t *testing.T) {
	first := order.AllowedTransitions(models.StatusPending)
	assert.Len(t, first, 3)
	first[0] = models.StatusRefunded

	second := order.AllowedTransitions(models.StatusPending)
	assert.Equal(t, models.StatusPaid, second[0])
}

func TestActionsFor(t *testing.T) {
	pending := order.ActionsFor(models.StatusPending)
	assert.True(t, pending.CanPay)
	assert.True(t, pending.CanCancel)
	assert.False(t, pending.CanConfirm)
	assert.False(t, pending.CanRefund)

	paid := order.ActionsFor(models.StatusPaid)
	assert.True(t, paid.CanConfirm)
	assert.True(t, paid.CanRefund)
	assert.False(t, paid.CanPay)

	confirmed := order.ActionsFor(models.StatusConfirmed)
	assert.True(t, confirmed.CanRefund)
	assert.False(t, confirmed.CanCancel)

	for _, terminal := range []models.OrderStatus{models.StatusCancelled, models.StatusRefunded, models.StatusExpired} {
		assert.Equal(t, models.OrderActions{}, order.ActionsFor(terminal))
	}
}
