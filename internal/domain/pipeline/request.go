package pipeline

import (
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/sandbox"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/id"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/types"
)

// Request is one visualization notification
type Request struct {
	ID              id.RequestID
	Source          string
	Dimension       string
	UsesSharedPlane bool
}

// NewRequest builds a request from an inbound payload
func NewRequest(p types.VisualizationPayload) Request {
	return Request{
		ID:              id.NewRequestID(),
		Source:          p.Code,
		Dimension:       p.Dimension,
		UsesSharedPlane: ParseMetadata(p.Analysis).UsesSharedPlane,
	}
}

// Metadata is the analysis document that travels with a snippet
type Metadata struct {
	UsesSharedPlane bool
	Fields          map[string]interface{}
}

// ParseMetadata reads the analysis JSON. Anything unparsable yields the zero
// Metadata; the shared plane is requested by "cartesian": true or "true".
func ParseMetadata(raw string) Metadata {
	if strings.TrimSpace(raw) == "" {
		return Metadata{}
	}
	var fields map[string]interface{}
	if err := sonic.UnmarshalString(raw, &fields); err != nil || fields == nil {
		return Metadata{}
	}

	md := Metadata{Fields: fields}
	switch v := fields["cartesian"].(type) {
	case bool:
		md.UsesSharedPlane = v
	case string:
		md.UsesSharedPlane = v == "true"
	}
	return md
}

// Status is how a pass ended
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusStale     Status = "stale"
	StatusNoop      Status = "noop"
	StatusRejected  Status = "rejected"
)

// Kind classifies why a pass did not succeed
type Kind string

const (
	KindNone                 Kind = ""
	KindUnsupportedDimension Kind = "unsupported_dimension"
	KindDependencyLoad       Kind = "dependency_load_failure"
	KindExecutionFault       Kind = "execution_fault"
	KindSanitizationNoop     Kind = "sanitization_noop"
	KindStaleResult          Kind = "stale_result_discarded"
)

// Outcome reports a settled pass
type Outcome struct {
	Seq          uint64             `json:"seq"`
	RequestID    id.RequestID       `json:"requestId"`
	Status       Status             `json:"status"`
	Kind         Kind               `json:"kind,omitempty"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
	Code         string             `json:"code,omitempty"`
	Console      []sandbox.LogEntry `json:"console,omitempty"`
	Duration     time.Duration      `json:"duration"`
}

// OK reports whether the pass ran to completion without a fault. A snippet
// that sanitized to nothing is OK.
func (o Outcome) OK() bool {
	return o.Status == StatusSucceeded || o.Status == StatusNoop
}
