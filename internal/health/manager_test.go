package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func healthyChecker(name string, critical bool) Checker {
	return NewCustomHealthChecker(name, critical, time.Second, func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy}
	})
}

func unhealthyChecker(name string, critical bool) Checker {
	return NewCustomHealthChecker(name, critical, time.Second, func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusUnhealthy}
	})
}

func TestIsReadyTrueWhenAllHealthy(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(healthyChecker("a", true)))
	require.NoError(t, m.RegisterChecker(healthyChecker("b", false)))

	assert.True(t, m.IsReady(context.Background()))
}

func TestIsReadyFalseWhenCriticalCheckerUnhealthy(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(unhealthyChecker("db", true)))

	assert.False(t, m.IsReady(context.Background()))
}

func TestIsReadyTrueWhenOnlyNonCriticalUnhealthy(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(unhealthyChecker("intent_log", false)))

	assert.True(t, m.IsReady(context.Background()), "non-critical failures degrade, not block readiness")
}

func TestRegisterCheckerRejectsDuplicateName(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(healthyChecker("dup", false)))
	err := m.RegisterChecker(healthyChecker("dup", false))
	assert.Error(t, err)
}

func TestUnregisterCheckerRemovesIt(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(healthyChecker("temp", false)))
	require.NoError(t, m.UnregisterChecker("temp"))

	err := m.UnregisterChecker("temp")
	assert.Error(t, err)
}

func TestIsReadyFalseWithNoCheckersRegistered(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	assert.False(t, m.IsReady(context.Background()))
}
