package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendStatementTimeout_NoQueryString(t *testing.T) {
	url := appendStatementTimeout("postgres://localhost:5432/etoken", 30000)
	assert.Equal(t, "postgres://localhost:5432/etoken?options=-c%20statement_timeout%3D30000", url)
}

func TestAppendStatementTimeout_ExistingQueryString(t *testing.T) {
	url := appendStatementTimeout("postgres://localhost:5432/etoken?sslmode=disable", 45000)
	assert.Equal(t, "postgres://localhost:5432/etoken?sslmode=disable&options=-c%20statement_timeout%3D45000", url)
}

func TestNew_StatementTimeoutOutOfRange(t *testing.T) {
	_, err := New(Config{
		URL:                "postgres://localhost:5432/etoken",
		StatementTimeoutMS: -1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of allowed range")

	_, err = New(Config{
		URL:                "postgres://localhost:5432/etoken",
		StatementTimeoutMS: dbStatementTimeoutMaxMS + 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of allowed range")
}
