// Package domain defines the core types shared by the gateway and the backend
// services.
//
// This package has no dependencies outside the Go standard library. It holds
// the immutable route binding, the liveness record, the client-visible error
// body and the sentinel errors used to categorize upstream failures. Transport
// and configuration packages depend on these types; the dependency direction is
// always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
