package database

import (
	"fmt"
	"testing"

	"github.com/Cyvadra/signal-relay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	db, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)

	for _, m := range []interface{}{
		&models.Signal{},
		&models.Alert{},
		&models.WebhookRegistration{},
		&models.DownstreamEndpoint{},
	} {
		assert.True(t, db.Migrator().HasTable(m))
	}

	sig := &models.Signal{
		ID:                "sig-1",
		Symbol:            "BTCUSDT",
		TakeProfitTargets: []float64{1, 2},
		Status:            models.StatusActive,
	}
	require.NoError(t, db.Create(sig).Error)

	var got models.Signal
	require.NoError(t, db.First(&got, "id = ?", "sig-1").Error)
	assert.Equal(t, []float64{1, 2}, got.TakeProfitTargets)
}
