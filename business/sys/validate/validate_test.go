package validate_test

import (
	"testing"

	"github.com/ardanlabs/btcnode/business/sys/validate"
	"github.com/stretchr/testify/require"
)

type submit struct {
	Block string `json:"block" validate:"required,hexadecimal"`
	Limit int    `json:"limit" validate:"gte=0"`
}

func Test_Check(t *testing.T) {
	require.NoError(t, validate.Check(submit{Block: "0x0100ff"}))

	err := validate.Check(submit{Limit: -1})
	require.True(t, validate.IsFieldErrors(err))

	fields := validate.GetFieldErrors(err).Fields()
	require.Contains(t, fields, "block")
	require.Contains(t, fields, "limit")

	err = validate.Check(submit{Block: "zz"})
	require.Contains(t, validate.GetFieldErrors(err).Fields(), "block")
}
