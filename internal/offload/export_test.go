package offload

// FallbackReasonForTest exposes fallbackReason for tests.
func FallbackReasonForTest(err error) string {
	return fallbackReason(err)
}
