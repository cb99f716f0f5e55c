// Package session persists per-session estimator state in Redis. Each
// session owns its own keys, so independent sessions never share cart or
// summary state.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/doubleoak/estimator-api/internal/export"
	"github.com/doubleoak/estimator-api/internal/summary"
)

// Keys under a session namespace.
const (
	keyExportState  = "export"
	keyLiveLines    = "live_lines"
	keySummaryItems = "summary"
	keyClearPending = "clear_pending"
	keySellPrices   = "sell_prices"
	keyRemoveTax    = "remove_tax"
)

// Store reads and writes session-scoped JSON state with a sliding TTL.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore constructs a Store. TTL governs session expiry; every write
// refreshes it.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) key(sid, field string) string {
	return fmt.Sprintf("session:%s:%s", sid, field)
}

func (s *Store) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	if s == nil || s.client == nil || key == "" {
		return false, nil
	}
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	if s == nil || s.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, s.ttl).Err()
}

// ExportState loads the session's cart state, returning a zero state for a
// fresh session.
func (s *Store) ExportState(ctx context.Context, sid string) (export.State, error) {
	var state export.State
	_, err := s.getJSON(ctx, s.key(sid, keyExportState), &state)
	return state, err
}

// SaveExportState persists the cart state.
func (s *Store) SaveExportState(ctx context.Context, sid string, state export.State) error {
	return s.setJSON(ctx, s.key(sid, keyExportState), state)
}

// LiveLines loads the live pack from the session's most recent evaluation
// pass. Cart operations between evaluations merge against this snapshot.
func (s *Store) LiveLines(ctx context.Context, sid string) ([]export.LineItem, error) {
	var lines []export.LineItem
	_, err := s.getJSON(ctx, s.key(sid, keyLiveLines), &lines)
	return lines, err
}

// SaveLiveLines persists the live pack of the current evaluation.
func (s *Store) SaveLiveLines(ctx context.Context, sid string, lines []export.LineItem) error {
	return s.setJSON(ctx, s.key(sid, keyLiveLines), lines)
}

// RemoveTax reports whether the session's customer printout excludes
// sales tax.
func (s *Store) RemoveTax(ctx context.Context, sid string) (bool, error) {
	var flag bool
	_, err := s.getJSON(ctx, s.key(sid, keyRemoveTax), &flag)
	return flag, err
}

// SaveRemoveTax persists the customer tax preference.
func (s *Store) SaveRemoveTax(ctx context.Context, sid string, remove bool) error {
	return s.setJSON(ctx, s.key(sid, keyRemoveTax), remove)
}

// SummaryItems loads the committed material entries for the session.
func (s *Store) SummaryItems(ctx context.Context, sid string) ([]summary.Entry, error) {
	var items []summary.Entry
	_, err := s.getJSON(ctx, s.key(sid, keySummaryItems), &items)
	return items, err
}

// SaveSummaryItems persists the committed material entries.
func (s *Store) SaveSummaryItems(ctx context.Context, sid string, items []summary.Entry) error {
	return s.setJSON(ctx, s.key(sid, keySummaryItems), items)
}

// ClearSummary drops the session's material entries.
func (s *Store) ClearSummary(ctx context.Context, sid string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Del(ctx, s.key(sid, keySummaryItems)).Err()
}

// SellPrices returns the last valid sell price per category, used to
// retain a usable price when a submitted price field does not parse.
func (s *Store) SellPrices(ctx context.Context, sid string) (map[string]float64, error) {
	prices := map[string]float64{}
	_, err := s.getJSON(ctx, s.key(sid, keySellPrices), &prices)
	return prices, err
}

// SaveSellPrice records the resolved sell price for a category.
func (s *Store) SaveSellPrice(ctx context.Context, sid, category string, price float64) error {
	prices, err := s.SellPrices(ctx, sid)
	if err != nil {
		return err
	}
	prices[category] = price
	return s.setJSON(ctx, s.key(sid, keySellPrices), prices)
}

// MarkClearPending arms the two-step bulk clear. The flag expires with a
// short TTL of its own so a stale confirmation cannot fire much later.
func (s *Store) MarkClearPending(ctx context.Context, sid string) error {
	if s == nil || s.client == nil {
		return nil
	}
	ttl := s.ttl
	if ttl <= 0 || ttl > time.Minute {
		ttl = time.Minute
	}
	return s.client.Set(ctx, s.key(sid, keyClearPending), "1", ttl).Err()
}

// ClearPending reports whether a bulk clear has been armed, consuming the
// flag when it has.
func (s *Store) ClearPending(ctx context.Context, sid string) (bool, error) {
	if s == nil || s.client == nil {
		return false, nil
	}
	n, err := s.client.Del(ctx, s.key(sid, keyClearPending)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UnmarkClearPending cancels an armed bulk clear.
func (s *Store) UnmarkClearPending(ctx context.Context, sid string) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Del(ctx, s.key(sid, keyClearPending)).Err()
}
