package ratelimit

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notifyhub/config"
)

// fakeScripter counts INCR-style script calls per key in memory.
type fakeScripter struct {
	counts map[string]int64
	err    error
}

func newFakeScripter() *fakeScripter {
	return &fakeScripter{counts: make(map[string]int64)}
}

func (f *fakeScripter) run(ctx context.Context, keys []string) *redis.Cmd {
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}
	f.counts[keys[0]]++
	return redis.NewCmdResult(f.counts[keys[0]], nil)
}

func (f *fakeScripter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(ctx, keys)
}

func (f *fakeScripter) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(ctx, keys)
}

func (f *fakeScripter) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(ctx, keys)
}

func (f *fakeScripter) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(ctx, keys)
}

func (f *fakeScripter) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (f *fakeScripter) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func testConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		UserMaxRequests:       5,
		UserWindowMinutes:     1,
		TemplateMaxRequests:   2,
		TemplateWindowMinutes: 5,
	}
}

func TestAdmitUserWithinLimit(t *testing.T) {
	rdb := newFakeScripter()
	limiter := NewLimiter(rdb, testConfig(), zap.NewNop())

	for i := 1; i <= 5; i++ {
		res, err := limiter.AdmitUser(context.Background(), "u1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should pass", i)
		assert.Equal(t, int64(i), res.CurrentCount)
	}
}

func TestAdmitUserDeniedOverLimit(t *testing.T) {
	rdb := newFakeScripter()
	limiter := NewLimiter(rdb, testConfig(), zap.NewNop())

	for i := 0; i < 5; i++ {
		_, err := limiter.AdmitUser(context.Background(), "u1")
		require.NoError(t, err)
	}

	res, err := limiter.AdmitUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, ScopeUser, res.Scope)
	assert.Equal(t, int64(6), res.CurrentCount, "denied request still consumed a slot")
	assert.Equal(t, 5, res.MaxAllowed)
	assert.Contains(t, res.Error(), "user rate limit exceeded")
}

func TestAdmitTemplateDeniedIndependently(t *testing.T) {
	rdb := newFakeScripter()
	limiter := NewLimiter(rdb, testConfig(), zap.NewNop())

	for i := 0; i < 2; i++ {
		res, err := limiter.AdmitTemplate(context.Background(), "u1", "welcome")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := limiter.AdmitTemplate(context.Background(), "u1", "welcome")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, ScopeTemplate, res.Scope)
	assert.Contains(t, res.Error(), "template rate limit exceeded")

	// A different template has its own window.
	res, err = limiter.AdmitTemplate(context.Background(), "u1", "reset")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestUsersDoNotShareWindows(t *testing.T) {
	rdb := newFakeScripter()
	limiter := NewLimiter(rdb, testConfig(), zap.NewNop())

	for i := 0; i < 6; i++ {
		_, err := limiter.AdmitUser(context.Background(), "u1")
		require.NoError(t, err)
	}

	res, err := limiter.AdmitUser(context.Background(), "u2")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestAdmitRedisError(t *testing.T) {
	rdb := newFakeScripter()
	rdb.err = assert.AnError
	limiter := NewLimiter(rdb, testConfig(), zap.NewNop())

	_, err := limiter.AdmitUser(context.Background(), "u1")
	assert.Error(t, err)
}
