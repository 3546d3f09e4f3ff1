package adapter

import (
	"context"

	"github.com/ridewise/authcore/internal/dynamo"
)

// redisPinger is the narrow interface the health probe needs from a Redis
// client; *redisclient.Client satisfies it via its own Ping wrapper.
type redisPinger interface {
	Ping(ctx context.Context) error
}

// dynamoPinger is the narrow interface the health probe needs from a
// DynamoDB client: a cheap read that proves the table is reachable.
type dynamoPinger interface {
	DescribeTable(ctx context.Context, params *dynamo.DescribeTableInput, optFns ...func(*dynamo.Options)) (*dynamo.DescribeTableOutput, error)
}

// HealthChecker aggregates liveness checks for every storage backend this
// service depends on, without exposing an HTTP route of its own — the
// wiring layer decides what, if anything, serves these results.
type HealthChecker struct {
	redis      redisPinger
	dynamo     dynamoPinger
	probeTable string
}

// NewHealthChecker creates a HealthChecker. probeTable is any table this
// service's DynamoDB client has access to; DescribeTable on it is enough to
// prove connectivity and credentials without writing.
func NewHealthChecker(redis redisPinger, dynamo dynamoPinger, probeTable string) *HealthChecker {
	return &HealthChecker{redis: redis, dynamo: dynamo, probeTable: probeTable}
}

// Check pings every backend and returns a per-backend liveness map. A
// missing key never happens: every backend reports true or false.
func (h *HealthChecker) Check(ctx context.Context) map[string]bool {
	result := make(map[string]bool, 2)

	if err := h.redis.Ping(ctx); err != nil {
		result["redis"] = false
	} else {
		result["redis"] = true
	}

	_, err := h.dynamo.DescribeTable(ctx, &dynamo.DescribeTableInput{TableName: &h.probeTable})
	result["dynamodb"] = err == nil

	return result
}

// Healthy reports whether every backend is currently reachable.
func (h *HealthChecker) Healthy(ctx context.Context) (bool, map[string]bool) {
	statuses := h.Check(ctx)
	for _, ok := range statuses {
		if !ok {
			return false, statuses
		}
	}
	return true, statuses
}
