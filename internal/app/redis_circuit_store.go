/**
 * @description
 * Redis-backed circuit state store. Counter updates and state transitions run
 * as Lua scripts so independent worker processes contribute to and observe
 * the same breaker state atomically. Counter keys carry a rolling-window TTL
 * set on first increment, mirroring the fixed-window accounting the platform
 * uses for distributed rate limits.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client and Lua script support.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var circuitRecordCallScript = redis.NewScript(`
local total = redis.call("INCR", KEYS[1])
if total == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
local failures
if ARGV[1] == "1" then
  failures = redis.call("INCR", KEYS[2])
  if failures == 1 then
    redis.call("PEXPIRE", KEYS[2], ARGV[2])
  end
else
  failures = tonumber(redis.call("GET", KEYS[2]) or "0")
end
return {failures, total}
`)

var circuitSwapStateScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false then
  current = "closed"
end
if current ~= ARGV[1] then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2])
redis.call("SET", KEYS[2], ARGV[3])
redis.call("DEL", KEYS[3], KEYS[4])
return 1
`)

// RedisCircuitStateStore is the production CircuitStateStore.
type RedisCircuitStateStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCircuitStateStore wires the store to a Redis client.
func NewRedisCircuitStateStore(client redis.UniversalClient, prefix string) *RedisCircuitStateStore {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "purchase:circuit"
	}
	trimmed = strings.TrimSuffix(trimmed, ":")
	return &RedisCircuitStateStore{client: client, prefix: trimmed}
}

func (s *RedisCircuitStateStore) keys(cmd CommandClass) (state, opened, total, failures string) {
	base := fmt.Sprintf("%s:%s", s.prefix, cmd)
	return base + ":state", base + ":opened_at", base + ":total", base + ":failures"
}

// Get reads the current snapshot for a command class. Absent keys resolve to
// a closed circuit with empty counters.
func (s *RedisCircuitStateStore) Get(ctx context.Context, cmd CommandClass) (CircuitState, error) {
	stateKey, openedKey, totalKey, failKey := s.keys(cmd)
	vals, err := s.client.MGet(ctx, stateKey, openedKey, totalKey, failKey).Result()
	if err != nil {
		return CircuitState{}, err
	}
	st := CircuitState{State: CircuitClosed}
	if v, ok := vals[0].(string); ok && v != "" {
		st.State = v
	}
	if v, ok := vals[1].(string); ok {
		fmt.Sscanf(v, "%d", &st.OpenedAtUnix)
	}
	if v, ok := vals[2].(string); ok {
		fmt.Sscanf(v, "%d", &st.Total)
	}
	if v, ok := vals[3].(string); ok {
		fmt.Sscanf(v, "%d", &st.Failures)
	}
	return st, nil
}

// RecordCall atomically increments the rolling-window counters.
func (s *RedisCircuitStateStore) RecordCall(ctx context.Context, cmd CommandClass, success bool, window time.Duration) (int64, int64, error) {
	_, _, totalKey, failKey := s.keys(cmd)
	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}
	failFlag := "1"
	if success {
		failFlag = "0"
	}
	raw, err := circuitRecordCallScript.Run(ctx, s.client, []string{totalKey, failKey}, failFlag, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected circuit counter response shape: %T", raw)
	}
	failures, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected circuit failure count type: %T", values[0])
	}
	total, ok := values[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected circuit total count type: %T", values[1])
	}
	return failures, total, nil
}

// CompareAndSwapState transitions the state atomically, stamping the
// transition time and resetting the window counters.
func (s *RedisCircuitStateStore) CompareAndSwapState(ctx context.Context, cmd CommandClass, from, to string, openedAt time.Time) (bool, error) {
	stateKey, openedKey, totalKey, failKey := s.keys(cmd)
	raw, err := circuitSwapStateScript.Run(ctx, s.client,
		[]string{stateKey, openedKey, totalKey, failKey},
		from, to, openedAt.Unix(),
	).Result()
	if err != nil {
		return false, err
	}
	swapped, ok := raw.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected circuit swap response type: %T", raw)
	}
	return swapped == 1, nil
}
