package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kylycht/currencycalc/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := New()

	got, err := s.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	snap := model.NewRateSnapshot("USD", map[string]float64{"EUR": 0.92}, time.Now())
	require.NoError(t, s.Save(ctx, snap))

	snap.Rates["EUR"] = 5

	got, err = s.LoadLatest(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.92, got.Rates["EUR"])
	assert.Equal(t, "USD", got.Base)
}
