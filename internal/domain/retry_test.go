package domain

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3}

	assert.True(t, policy.ShouldRetry(0))
	assert.True(t, policy.ShouldRetry(2))
	assert.False(t, policy.ShouldRetry(3))
	assert.False(t, policy.ShouldRetry(7))
}

func TestRetryPolicy_NextAttempt(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3}

	assert.Equal(t, 1, policy.NextAttempt(0))
	assert.Equal(t, 3, policy.NextAttempt(2))
}

func TestResumeDedupKey(t *testing.T) {
	id := uuid.New()

	assert.Equal(t, fmt.Sprintf("%s-resume-3", id), ResumeDedupKey(id, 3))
	// Each escalation gets a fresh key; the same attempt collapses.
	assert.NotEqual(t, ResumeDedupKey(id, 1), ResumeDedupKey(id, 2))
	assert.Equal(t, ResumeDedupKey(id, 1), ResumeDedupKey(id, 1))
}

func TestStartDedupKey(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id.String(), StartDedupKey(id))
}
