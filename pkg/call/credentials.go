package call

// SelectCredential returns the API key to use for the given connect
// attempt. Pure: attempt N always maps to the same pool entry, wrapping
// around, so retries walk the pool deterministically.
func SelectCredential(pool []string, attempt int) string {
	if len(pool) == 0 {
		return ""
	}
	if attempt < 0 {
		attempt = 0
	}
	return pool[attempt%len(pool)]
}
