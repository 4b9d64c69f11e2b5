package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoneyString(t *testing.T) {
	assert.Equal(t, "13.00 USD", NewMoney(1300, "usd").String())
	assert.Equal(t, "0.05 EUR", NewMoney(5, "EUR").String())
	assert.Equal(t, "1300 JPY", NewMoney(1300, "JPY").String())
	assert.Equal(t, "-1.50 USD", NewMoney(-150, "USD").String())
}

func TestParseMoney(t *testing.T) {
	m, err := ParseMoney("13.00", "usd")
	require.NoError(t, err)
	assert.Equal(t, Money{Amount: 1300, Currency: "USD"}, m)

	m, err = ParseMoney(" 7 ", "JPY")
	require.NoError(t, err)
	assert.Equal(t, int64(7), m.Amount)

	m, err = ParseMoney("0.1", "USD")
	require.NoError(t, err)
	assert.Equal(t, int64(10), m.Amount)
}

func TestParseMoneyRejectsExtraPrecision(t *testing.T) {
	_, err := ParseMoney("1.005", "USD")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = ParseMoney("1.5", "JPY")
	require.Error(t, err)

	_, err = ParseMoney("abc", "USD")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "amount", verr.Field)
}

func TestMinorUnitExponent(t *testing.T) {
	assert.Equal(t, int32(2), MinorUnitExponent("usd"))
	assert.Equal(t, int32(0), MinorUnitExponent("KRW"))
}
