// Package adapter contains implementations of interfaces defined in app.
// DynamoDB, Redis, SNS, and Secrets/SSM adapters live here.
package adapter

import "go.opentelemetry.io/otel"

var tracer = otel.Tracer("authcore/adapter")
