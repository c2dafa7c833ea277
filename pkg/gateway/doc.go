// Package gateway exposes the client-facing HTTP surface: a liveness probe
// and one forwarding route per configured backend binding.
//
// Each forwarded request makes exactly one outbound call. A successful call
// is relayed verbatim; every failure is reported to the client as a 500 with
// a fixed per-domain message, while the underlying cause is only logged,
// traced and counted.
package gateway
