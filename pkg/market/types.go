// Package market defines the core domain model of the tool marketplace:
// tool definitions, usage records, and the store contracts the engine runs
// against.
//
// A Tool is a third-party HTTP-addressable capability registered with a
// declarative parameter schema and a fixed per-call price in wei. Every
// execution of a tool produces exactly one immutable [UsageRecord] feeding
// billing and analytics.
//
// The package holds no behaviour beyond small accessors — registration,
// discovery, execution, and aggregation live in the internal services.
package market

import (
	"strings"
	"time"
)

// HTTPMethod is the outbound HTTP method declared in a tool's API config.
type HTTPMethod string

const (
	MethodGet    HTTPMethod = "GET"
	MethodPost   HTTPMethod = "POST"
	MethodPut    HTTPMethod = "PUT"
	MethodDelete HTTPMethod = "DELETE"
	MethodPatch  HTTPMethod = "PATCH"
)

// IsValid reports whether m is a supported outbound method.
func (m HTTPMethod) IsValid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch:
		return true
	}
	return false
}

// ParamType is the declared type of a tool parameter. Supplied values are
// checked against it before dispatch; each type has its own validation rules
// (see internal/execution).
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeObject  ParamType = "object"
	TypeArray   ParamType = "array"
)

// IsValid reports whether t is a recognised parameter type.
func (t ParamType) IsValid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeObject, TypeArray:
		return true
	}
	return false
}

// Validation holds the optional per-parameter constraints. Min/Max apply to
// number parameters, Pattern to string parameters, Enum to any type.
type Validation struct {
	Min     *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Pattern string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Enum    []any    `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// Parameter declares one input of a tool.
type Parameter struct {
	Name        string      `json:"name" yaml:"name"`
	Type        ParamType   `json:"type" yaml:"type"`
	Required    bool        `json:"required" yaml:"required"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Default     any         `json:"defaultValue,omitempty" yaml:"default,omitempty"`
	Validation  *Validation `json:"validation,omitempty" yaml:"validation,omitempty"`
}

// Default API call limits applied at registration when a tool declares none.
const (
	DefaultCallTimeout = 30 * time.Second
	DefaultMaxRetries  = 3
)

// APIConfig describes how to call the tool's backing endpoint. Any
// authentication the target API requires must already be embedded in Headers
// or the endpoint URL — the engine adds none of its own.
type APIConfig struct {
	Endpoint   string            `json:"endpoint" yaml:"endpoint"`
	Method     HTTPMethod        `json:"method" yaml:"method"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timeout    time.Duration     `json:"timeoutMs" yaml:"timeout"`
	MaxRetries int               `json:"maxRetries" yaml:"max_retries"`
}

// Pricing is the fixed per-call price. CostInWei is the canonical value, a
// non-negative decimal integer string (see pkg/wei); ETHCost is a
// display-only rendering computed at write time.
type Pricing struct {
	CostInWei string `json:"costInWei" yaml:"cost_in_wei"`
	ETHCost   string `json:"ethCost,omitempty" yaml:"eth_cost,omitempty"`
}

// Metadata carries lifecycle flags and descriptive extras.
type Metadata struct {
	Tags    []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Version string   `json:"version,omitempty" yaml:"version,omitempty"`

	// IsActive is the soft-delete flag. Deactivated tools stay in the store
	// so usage records keep resolving, but drop out of discovery and
	// execution.
	IsActive bool `json:"isActive" yaml:"is_active"`

	// IsPublic controls global discoverability. Private tools are only
	// visible to their owner.
	IsPublic bool `json:"isPublic" yaml:"is_public"`

	// RateLimitPerMinute is an advisory hint for upstream gateways. Zero
	// means unspecified. The engine does not enforce it.
	RateLimitPerMinute int `json:"rateLimitPerMinute,omitempty" yaml:"rate_limit_per_minute,omitempty"`
}

// ToolDefinition is the unit of marketplace inventory.
//
// ID is assigned at registration and never reused. Embedding is the semantic
// search vector over name, description, category, and parameter descriptions;
// a persisted definition always has one (registration fails otherwise) and
// its length is constant across the whole registry.
type ToolDefinition struct {
	ID      string `json:"toolId"`
	OwnerID string `json:"ownerId"`

	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`

	API        APIConfig   `json:"apiConfig"`
	Parameters []Parameter `json:"parameters,omitempty"`
	Pricing    Pricing     `json:"pricing"`
	Metadata   Metadata    `json:"metadata"`

	Embedding []float32 `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasTag reports whether the tool carries tag (exact match).
func (d *ToolDefinition) HasTag(tag string) bool {
	for _, t := range d.Metadata.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MatchesCategory reports whether the tool's category contains needle,
// case-insensitively. An empty needle matches everything.
func (d *ToolDefinition) MatchesCategory(needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(d.Category), strings.ToLower(needle))
}

// ExecutionResponse is the outcome half of a usage record: what the tool's
// endpoint ultimately returned (or why it didn't).
type ExecutionResponse struct {
	Success bool `json:"success"`

	// Data is the decoded response payload on success.
	Data any `json:"data,omitempty"`

	// Error holds the terminal failure cause; empty on success.
	Error string `json:"error,omitempty"`

	// StatusCode is the last HTTP status observed; 0 when no request was
	// dispatched (e.g. validation failure).
	StatusCode int `json:"statusCode,omitempty"`

	// ExecutionTime is total wall time from validation start to terminal
	// outcome, across all retry attempts.
	ExecutionTime time.Duration `json:"executionTimeMs"`
}

// Billing captures the intended charge for one invocation. Paid starts false
// and is flipped by the external settlement process via
// [UsageStore.MarkPaid]; the engine itself never settles.
type Billing struct {
	CostInWei        string     `json:"costInWei"`
	Paid             bool       `json:"paid"`
	TransactionHash  string     `json:"transactionHash,omitempty"`
	PaymentTimestamp *time.Time `json:"paymentTimestamp,omitempty"`
}

// UsageRecord is the immutable log entry for one tool invocation. Exactly one
// is written per execute call regardless of retry count; validation failures
// produce one too so analytics can tell them apart from network failures.
type UsageRecord struct {
	ID        string            `json:"id"`
	ToolID    string            `json:"toolId"`
	CallerID  string            `json:"callerId"`
	SessionID string            `json:"sessionId,omitempty"`
	Params    map[string]any    `json:"parameters,omitempty"`
	Response  ExecutionResponse `json:"response"`
	Billing   Billing           `json:"billing"`
	Timestamp time.Time         `json:"timestamp"`
}
