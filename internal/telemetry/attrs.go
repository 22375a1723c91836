package telemetry

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for grace-coordinator spans.
const (
	AttrObject  = "grace.object"
	AttrNodeID  = "grace.node_id"
	AttrOp      = "grace.op"
	AttrEpochC  = "grace.epoch.current"
	AttrEpochR  = "grace.epoch.recovery"
	AttrRetries = "grace.cas_retries"
)

// Object returns an attribute for the shared object name.
func Object(name string) attribute.KeyValue { return attribute.String(AttrObject, name) }

// NodeID returns an attribute for a cluster node identifier.
func NodeID(id string) attribute.KeyValue { return attribute.String(AttrNodeID, id) }

// Op returns an attribute for the grace verb being performed.
func Op(op string) attribute.KeyValue { return attribute.String(AttrOp, op) }

// Epochs returns attributes for the (C, R) header observed by an operation.
func Epochs(c, r uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(AttrEpochC, int64(c)),
		attribute.Int64(AttrEpochR, int64(r)),
	}
}

// Retries returns an attribute for the number of CAS retries an operation
// needed.
func Retries(n int) attribute.KeyValue { return attribute.Int(AttrRetries, n) }
