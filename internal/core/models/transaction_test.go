package models_test

import (
	"testing"

	"github.com/Nzyazin/walletd/internal/core/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func trxWithStatuses(amount models.Money, statuses ...models.TransactionStatus) *models.WalletTransaction {
	trx := &models.WalletTransaction{
		ID:     uuid.New(),
		Amount: amount,
	}
	for i, s := range statuses {
		trx.Statuses = append(trx.Statuses, models.StatusEvent{
			ID:            uuid.New(),
			TransactionID: trx.ID,
			Status:        s,
			Seq:           int64(i + 1),
		})
	}
	return trx
}

func TestCurrentStatusFollowsLastEvent(t *testing.T) {
	trx := trxWithStatuses(sek("100"), models.StatusPending)
	assert.Equal(t, models.StatusPending, trx.CurrentStatus())

	trx = trxWithStatuses(sek("100"), models.StatusPending, models.StatusFinalized)
	assert.Equal(t, models.StatusFinalized, trx.CurrentStatus())

	trx = trxWithStatuses(sek("100"))
	assert.Equal(t, models.StatusNone, trx.CurrentStatus())
}

func TestDirectionDerivedFromSign(t *testing.T) {
	assert.Equal(t, models.DirectionIncoming, trxWithStatuses(sek("100")).Direction())
	assert.Equal(t, models.DirectionOutgoing, trxWithStatuses(sek("-100")).Direction())
	assert.Equal(t, models.DirectionIncoming, trxWithStatuses(sek("0")).Direction())
}

func TestTransactionCountable(t *testing.T) {
	// incoming counts only once finalized
	assert.False(t, trxWithStatuses(sek("100"), models.StatusPending).Countable())
	assert.True(t, trxWithStatuses(sek("100"), models.StatusPending, models.StatusFinalized).Countable())

	// outgoing counts from the moment it is pending
	assert.True(t, trxWithStatuses(sek("-100"), models.StatusPending).Countable())
	assert.True(t, trxWithStatuses(sek("-100"), models.StatusPending, models.StatusFinalized).Countable())

	// cancellation removes the contribution for both directions
	assert.False(t, trxWithStatuses(sek("-100"), models.StatusPending, models.StatusCancellation).Countable())
	assert.False(t, trxWithStatuses(sek("100"), models.StatusPending, models.StatusFinalized, models.StatusCancellation).Countable())
}

func TestCountableDelta(t *testing.T) {
	// cancelling a pending withdrawal releases the reservation
	out := trxWithStatuses(sek("-50"), models.StatusPending)
	assert.True(t, out.CountableDelta(models.StatusCancellation).Equal(sek("50")))

	// finalizing a pending withdrawal changes nothing, it already counted
	assert.True(t, out.CountableDelta(models.StatusFinalized).Equal(sek("0")))

	// finalizing a pending deposit adds the amount
	in := trxWithStatuses(sek("100"), models.StatusPending)
	assert.True(t, in.CountableDelta(models.StatusFinalized).Equal(sek("100")))

	// cancelling a finalized deposit removes it again
	in = trxWithStatuses(sek("100"), models.StatusPending, models.StatusFinalized)
	assert.True(t, in.CountableDelta(models.StatusCancellation).Equal(sek("-100")))
}
