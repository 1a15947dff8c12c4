package db

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNumericDecimalConversion(t *testing.T) {
	price := decimal.RequireFromString("129.95")

	n := DecimalToNumeric(price)
	require.True(t, n.Valid)
	require.True(t, NumericToDecimal(n).Equal(price))

	require.True(t, NumericToDecimal(pgtype.Numeric{}).IsZero())
	require.True(t, NumericToDecimal(pgtype.Numeric{Valid: true, NaN: true}).IsZero())
}
