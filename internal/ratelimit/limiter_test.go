package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinLimit(t *testing.T) {
	limiter := New(3, time.Minute)

	assert.True(t, limiter.Allow("user:1"))
	assert.True(t, limiter.Allow("user:1"))
	assert.True(t, limiter.Allow("user:1"))
	assert.False(t, limiter.Allow("user:1"), "第 4 次超过额度")
	assert.Equal(t, 0, limiter.Remaining("user:1"))
}

func TestKeysAreIndependent(t *testing.T) {
	limiter := New(1, time.Minute)

	assert.True(t, limiter.Allow("user:1"))
	assert.False(t, limiter.Allow("user:1"))
	assert.True(t, limiter.Allow("user:2"), "不同 key 互不影响")
}

func TestWindowExpiryResetsCount(t *testing.T) {
	limiter := New(1, 20*time.Millisecond)

	assert.True(t, limiter.Allow("user:1"))
	assert.False(t, limiter.Allow("user:1"))

	time.Sleep(30 * time.Millisecond)

	assert.True(t, limiter.Allow("user:1"), "窗口过期后重新计数")
}

func TestRemainingUntouchedKey(t *testing.T) {
	limiter := New(5, time.Minute)
	assert.Equal(t, 5, limiter.Remaining("user:1"))

	limiter.Allow("user:1")
	assert.Equal(t, 4, limiter.Remaining("user:1"))
}

func TestPruneRemovesExpiredWindows(t *testing.T) {
	limiter := New(1, 10*time.Millisecond)
	limiter.Allow("user:1")

	time.Sleep(20 * time.Millisecond)
	limiter.Prune()

	assert.Equal(t, 0, limiter.store.ItemCount())
}
