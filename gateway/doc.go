// Package gateway puts admission control and retries in front of a remote
// dependency.
//
// A Gateway owns one token bucket, one concurrency gate and one circuit
// breaker. Every call passes through them in that order:
//
//  1. The breaker sheds the call with ErrCircuitOpen while open, before any
//     token or permit is taken. After RecoveryTimeout one probe is admitted.
//  2. Each attempt acquires a permit, then a token, then invokes the
//     operation. Permits and tokens are not held across backoff. A permit
//     stays taken until the operation returns, even when AttemptTimeout has
//     already abandoned the attempt.
//  3. Failed attempts are retried with capped exponential backoff. The call
//     outcome is recorded against the breaker once.
//
// Failures are always classified; see resilience.Classify. Gateways hold no
// global state, so one per downstream dependency can coexist, usually
// grouped in a Registry.
package gateway
