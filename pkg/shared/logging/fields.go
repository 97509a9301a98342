// Package logging provides a chainable builder for structured log fields
// shared across components, plus per-domain presets (database, http,
// workflow, kubernetes, ai, ...) so call sites don't hand-roll field maps.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Fields is a chainable map of structured logging fields.
type Fields map[string]interface{}

// NewFields returns an empty Fields builder.
func NewFields() Fields {
	return Fields{}
}

func (f Fields) Component(name string) Fields {
	f["component"] = name
	return f
}

func (f Fields) Operation(name string) Fields {
	f["operation"] = name
	return f
}

func (f Fields) Resource(resourceType, name string) Fields {
	f["resource_type"] = resourceType
	if name != "" {
		f["resource_name"] = name
	}
	return f
}

func (f Fields) Duration(d time.Duration) Fields {
	f["duration_ms"] = d.Milliseconds()
	return f
}

func (f Fields) Error(err error) Fields {
	if err != nil {
		f["error"] = err.Error()
	}
	return f
}

func (f Fields) UserID(id string) Fields {
	if id != "" {
		f["user_id"] = id
	}
	return f
}

func (f Fields) RequestID(id string) Fields {
	f["request_id"] = id
	return f
}

func (f Fields) TraceID(id string) Fields {
	f["trace_id"] = id
	return f
}

func (f Fields) StatusCode(code int) Fields {
	f["status_code"] = code
	return f
}

func (f Fields) Method(method string) Fields {
	f["method"] = method
	return f
}

func (f Fields) URL(url string) Fields {
	f["url"] = url
	return f
}

func (f Fields) Count(n int) Fields {
	f["count"] = n
	return f
}

func (f Fields) Size(bytes int64) Fields {
	f["size_bytes"] = bytes
	return f
}

func (f Fields) Version(v string) Fields {
	f["version"] = v
	return f
}

func (f Fields) Custom(key string, value interface{}) Fields {
	f[key] = value
	return f
}

// ToLogrus converts Fields to logrus.Fields for components still logging
// through logrus rather than zap.
func (f Fields) ToLogrus() logrus.Fields {
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// DatabaseFields builds the standard field set for a database operation.
func DatabaseFields(operation, table string) Fields {
	return NewFields().
		Component("database").
		Operation(operation).
		Resource("table", table)
}

// HTTPFields builds the standard field set for an HTTP request/response.
func HTTPFields(method, url string, statusCode int) Fields {
	return NewFields().
		Component("http").
		Method(method).
		URL(url).
		StatusCode(statusCode)
}

// WorkflowFields builds the standard field set for a pipeline/workflow step.
func WorkflowFields(operation, workflowID string) Fields {
	return NewFields().
		Component("workflow").
		Operation(operation).
		Resource("workflow", workflowID)
}

// KubernetesFields builds the standard field set for a Kubernetes object
// mutation; namespace is omitted for cluster-scoped resources.
func KubernetesFields(operation, resourceType, name, namespace string) Fields {
	f := NewFields().
		Component("kubernetes").
		Operation(operation).
		Resource(resourceType, name)
	if namespace != "" {
		f["namespace"] = namespace
	}
	return f
}

// AIFields builds the standard field set for a model inference call.
func AIFields(operation, model string) Fields {
	return NewFields().
		Component("ai").
		Operation(operation).
		Custom("model", model)
}

// MetricsFields builds the standard field set for a metric emission.
func MetricsFields(operation, metricName string, value interface{}) Fields {
	return NewFields().
		Component("metrics").
		Operation(operation).
		Custom("metric_name", metricName).
		Custom("value", value)
}

// SecurityFields builds the standard field set for a security-relevant event.
func SecurityFields(operation, subject string) Fields {
	return NewFields().
		Component("security").
		Operation(operation).
		Custom("subject", subject)
}

// PerformanceFields builds the standard field set for a timed operation outcome.
func PerformanceFields(operation string, duration time.Duration, success bool) Fields {
	return NewFields().
		Component("performance").
		Operation(operation).
		Duration(duration).
		Custom("success", success)
}

// TaskFields builds the standard field set for an ALTEC task lifecycle event.
func TaskFields(operation, kind, resourceID string) Fields {
	return NewFields().
		Component("altec").
		Operation(operation).
		Custom("kind", kind).
		Custom("resource_id", resourceID)
}
