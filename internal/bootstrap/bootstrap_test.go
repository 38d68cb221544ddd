package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"findash/internal/domain/connection"
	"findash/internal/shared/config"
)

func TestSyncConfig(t *testing.T) {
	cfg := &config.Config{
		Provider: config.ProviderConfig{Timeout: 15 * time.Second},
		Sync: config.SyncConfig{
			TTLHigh:                    time.Hour,
			TTLMedium:                  2 * time.Hour,
			TTLLow:                     3 * time.Hour,
			TTLLiabilities:             4 * time.Hour,
			AutoRefreshThreshold:       5 * time.Hour,
			AutoSyncThreshold:          6 * time.Hour,
			FullResyncThreshold:        7 * time.Hour,
			TransactionSyncProbability: 0.5,
			InvestmentWindowMonths:     12,
			InvestmentPageSize:         100,
			TransactionPageSize:        200,
			Concurrency:                8,
		},
	}

	got := SyncConfig(cfg)

	assert.Equal(t, time.Hour, got.TTL.High)
	assert.Equal(t, 4*time.Hour, got.TTL.Liabilities)
	assert.Equal(t, 7*time.Hour, got.FullResyncThreshold)
	assert.Equal(t, 0.5, got.TransactionSyncProbability)
	assert.Equal(t, 15*time.Second, got.ProviderTimeout)
	assert.Equal(t, 8, got.Concurrency)
}

func TestNewProviderRegistry(t *testing.T) {
	registry := NewProviderRegistry(config.ProviderConfig{
		Standard: config.ProviderEndpoint{BaseURL: "https://sandbox.example.com", ClientID: "id", Secret: "s"},
	}, zap.NewNop())

	_, ok := registry.For(connection.ProviderStandard)
	assert.True(t, ok)

	_, ok = registry.For(connection.ProviderAlternate)
	assert.False(t, ok, "alternate kind is skipped when not configured")
}
