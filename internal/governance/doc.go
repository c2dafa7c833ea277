// Package governance holds the runtime controls applied to outbound backend
// calls.
//
// The only control is a per-call deadline. A backend that misses it is
// reported as unavailable. Calls are never retried.
package governance
