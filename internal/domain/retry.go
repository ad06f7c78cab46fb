package domain

// RetryPolicy is the single place the retry budget is interpreted.
// Both the invoker and the watchdog consult it so the two can never
// drift apart on what "exhausted" means.
type RetryPolicy struct {
	MaxRetries int
}

func (p RetryPolicy) ShouldRetry(retryCount int) bool {
	return retryCount < p.MaxRetries
}

// NextAttempt numbers watchdog escalations starting at 1.
func (p RetryPolicy) NextAttempt(retryCount int) int {
	return retryCount + 1
}
