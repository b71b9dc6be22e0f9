//go:build integration

package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/homefit-remodel/api/internal/domain"
	"github.com/homefit-remodel/api/internal/platform/config"
	ppostgres "github.com/homefit-remodel/api/internal/platform/postgres"
	"github.com/homefit-remodel/api/internal/repositories/postgres"
)

func TestPostgresRepositories(t *testing.T) {
	dsn := os.Getenv("API_POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("API_POSTGRES_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := ppostgres.Open(ctx, config.PostgresConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, ppostgres.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE price_table, quantity_rules, trace_questions, trace_answers, trace_sessions`)
	require.NoError(t, err)

	prices, err := postgres.NewPriceRepository(pool)
	require.NoError(t, err)
	require.NoError(t, prices.UpsertPrices(ctx, []domain.PriceRow{
		{ItemCode: "TILE-BATH", Grade: domain.GradeOpus, UnitPrice: 95_000, Valid: true},
		{ItemCode: "CLEANING", Grade: domain.GradeStandard, UnitPrice: 400_000, Valid: false},
	}))
	require.NoError(t, prices.UpsertQuantityRules(ctx, []domain.QuantityRule{
		{ItemCode: "DOOR-LABOR", Basis: domain.BasisPerRoom, PerUnit: 0.5},
	}))

	quote, err := prices.FindPrice(ctx, "TILE-BATH", domain.GradeOpus)
	require.NoError(t, err)
	assert.Equal(t, int64(95_000), quote.UnitPrice)
	_, err = prices.FindPrice(ctx, "CLEANING", domain.GradeStandard)
	assert.Error(t, err)

	traces, err := postgres.NewTraceRepository(pool, nil)
	require.NoError(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := traces.AppendQuestion(ctx, "sess-pg", "Q_BUDGET")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.NoError(t, traces.SaveAnswer(ctx, "sess-pg", "Q_PURPOSE", "longterm"))
	require.NoError(t, traces.SaveAnswer(ctx, "sess-pg", "Q_PURPOSE", "resale"))

	trace, err := traces.LoadTrace(ctx, "sess-pg")
	require.NoError(t, err)
	require.Len(t, trace.Questions, 10)
	for i, q := range trace.Questions {
		assert.Equal(t, int64(i+1), q.Index)
	}
	assert.Equal(t, "resale", trace.Answers["Q_PURPOSE"])

	empty, err := traces.LoadTrace(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}
