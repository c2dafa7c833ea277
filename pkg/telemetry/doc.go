// Package telemetry wires OpenTelemetry exporters and meters for the gateway.
//
// It centralises trace provider setup and records the outcome of every
// outbound backend call.
package telemetry
