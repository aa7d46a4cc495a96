// Package query serves read-only views: live account state straight from the
// engine's book, and operation history from the Postgres log.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"SynthLedger/internal/engine"
	"SynthLedger/internal/observability"
)

// Service answers queries against the engine and, when a DB is wired, the
// persisted operation log.
type Service struct {
	eng     *engine.Engine
	db      *sql.DB
	metrics *observability.Metrics
}

// NewService returns a query service. db may be nil; history queries then
// fail with ErrNoDatabase.
func NewService(eng *engine.Engine, db *sql.DB, metrics *observability.Metrics) *Service {
	return &Service{eng: eng, db: db, metrics: metrics}
}

// ErrNoDatabase is returned by history queries when the service runs without
// Postgres.
var ErrNoDatabase = fmt.Errorf("query: no database configured")

func (s *Service) observe(endpoint string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		s.metrics.QueryErrors.WithLabelValues(endpoint, "internal").Inc()
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// AccountHealth returns the user's health factor, debt and collateral value.
func (s *Service) AccountHealth(ctx context.Context, user uuid.UUID) (*AccountHealthResponse, error) {
	start := time.Now()
	var err error
	defer func() { s.observe("account_health", start, err) }()

	var hf, value *big.Int
	hf, err = s.eng.HealthFactor(ctx, user)
	if err != nil {
		return nil, err
	}
	value, err = s.eng.CollateralValueUSD(ctx, user)
	if err != nil {
		return nil, err
	}
	return &AccountHealthResponse{
		UserID:             user,
		HealthFactor:       hf.String(),
		DebtWad:            s.eng.DebtOf(user).String(),
		CollateralValueUSD: value.String(),
		Liquidatable:       hf.Cmp(engine.MinHealthFactor) < 0,
		AsOfSequence:       s.eng.Sequence(),
	}, nil
}

// CollateralBalance returns the user's deposited balance in one asset.
func (s *Service) CollateralBalance(ctx context.Context, user uuid.UUID, asset string) (*CollateralBalanceResponse, error) {
	start := time.Now()
	defer func() { s.observe("collateral_balance", start, nil) }()

	return &CollateralBalanceResponse{
		UserID:       user,
		Asset:        asset,
		Amount:       s.eng.CollateralOf(user, asset).String(),
		AsOfSequence: s.eng.Sequence(),
	}, nil
}

// AccountCollateral returns every collateral balance the user holds.
func (s *Service) AccountCollateral(ctx context.Context, user uuid.UUID) (*AccountCollateralResponse, error) {
	start := time.Now()
	defer func() { s.observe("account_collateral", start, nil) }()

	balances := make(map[string]string)
	for asset, amount := range s.eng.Book().CollateralBalances(user) {
		balances[asset] = amount.String()
	}
	return &AccountCollateralResponse{
		UserID:       user,
		Balances:     balances,
		AsOfSequence: s.eng.Sequence(),
	}, nil
}

// TokenAmountFromUSD converts a wad USD amount into asset units at the
// current price.
func (s *Service) TokenAmountFromUSD(ctx context.Context, asset string, usdWad *big.Int) (*TokenAmountResponse, error) {
	start := time.Now()
	var err error
	defer func() { s.observe("token_amount", start, err) }()

	var amount *big.Int
	amount, err = s.eng.TokenAmountFromUSD(ctx, asset, usdWad)
	if err != nil {
		return nil, err
	}
	return &TokenAmountResponse{
		Asset:       asset,
		USDWad:      usdWad.String(),
		TokenAmount: amount.String(),
	}, nil
}

// SupportedAssets lists the registered collateral assets.
func (s *Service) SupportedAssets() *AssetsResponse {
	return &AssetsResponse{Assets: s.eng.SupportedAssets()}
}

// ListOperations pages through the persisted operation log, oldest first.
func (s *Service) ListOperations(ctx context.Context, fromSequence int64, limit int) ([]OperationRecord, error) {
	start := time.Now()
	var err error
	defer func() { s.observe("list_operations", start, err) }()

	if s.db == nil {
		err = ErrNoDatabase
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var rows *sql.Rows
	rows, err = s.db.QueryContext(ctx, `
		SELECT sequence, event_type, asset, payload, timestamp
		FROM synth.operations
		WHERE sequence > $1
		ORDER BY sequence
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OperationRecord
	for rows.Next() {
		var r OperationRecord
		if err = rows.Scan(&r.Sequence, &r.EventType, &r.Asset, &r.Payload, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	err = rows.Err()
	return out, err
}
