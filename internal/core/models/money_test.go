package models_test

import (
	"testing"

	"github.com/Nzyazin/walletd/internal/core/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sek(s string) models.Money {
	m, err := models.MoneyFromString(s, "SEK")
	if err != nil {
		panic(err)
	}
	return m
}

func TestMoneyArithmetic(t *testing.T) {
	a := sek("100.50")
	b := sek("0.25")

	assert.True(t, a.Add(b).Equal(sek("100.75")))
	assert.True(t, a.Sub(b).Equal(sek("100.25")))
	assert.True(t, b.Neg().Equal(sek("-0.25")))
	assert.True(t, b.MulInt(4).Equal(sek("1")))
}

func TestMoneyComparisons(t *testing.T) {
	assert.Equal(t, 1, sek("2").Cmp(sek("1")))
	assert.Equal(t, 0, sek("2.00").Cmp(sek("2")))
	assert.Equal(t, -1, sek("1").Cmp(sek("2")))
	assert.True(t, sek("2").GreaterThan(sek("1")))
	assert.True(t, models.ZeroMoney("SEK").IsZero())
	assert.True(t, sek("-5").IsNegative())
	assert.False(t, sek("5").IsNegative())
}

func TestMoneyCurrencyMismatchPanics(t *testing.T) {
	usd := models.NewMoney(decimal.NewFromInt(1), "USD")

	assert.Panics(t, func() { sek("1").Add(usd) })
	assert.Panics(t, func() { sek("1").Sub(usd) })
	assert.Panics(t, func() { sek("1").Cmp(usd) })
}

func TestMoneyFromString(t *testing.T) {
	m, err := models.MoneyFromString("12.34", "SEK")
	require.NoError(t, err)
	assert.Equal(t, "12.34 SEK", m.String())

	_, err = models.MoneyFromString("not-a-number", "SEK")
	assert.Error(t, err)
}
