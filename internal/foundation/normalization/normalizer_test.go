package normalization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mode string

func TestEnumParse(t *testing.T) {
	e := NewEnum("queue driver", mode("memory"), mode("nats"))

	tests := []struct {
		raw  string
		want mode
	}{
		{"memory", "memory"},
		{"NATS", "nats"},
		{"  Memory\t", "memory"},
	}
	for _, tt := range tests {
		got, err := e.Parse(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
	}

	_, err := e.Parse("redis")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported queue driver "redis"`)
	assert.Contains(t, err.Error(), "memory, nats")
}

func TestEnumNormalize(t *testing.T) {
	e := NewEnum("ledger driver", "sqlite", "postgres")

	v := " PostgreS "
	e.Normalize(&v)
	assert.Equal(t, "postgres", v)

	bad := "MySQL"
	e.Normalize(&bad)
	assert.Equal(t, "MySQL", bad, "unknown values are left for validation to report")

	assert.Equal(t, []string{"postgres", "sqlite"}, e.Values())
}
