package models

import "time"

// AuditSource identifies who originated an audited action.
type AuditSource string

// Audit sources.
const (
	AuditSourceEngine AuditSource = "engine"
	AuditSourceCLI    AuditSource = "cli"
	AuditSourceAgent  AuditSource = "agent"
)

// AuditRecord is one append-only JSONL line (§4.8, §6).
type AuditRecord struct {
	TimestampUTC time.Time              `json:"ts"`
	Source       AuditSource            `json:"source"`
	StrategyID   string                 `json:"strategy_id,omitempty"`
	Action       string                 `json:"action"`
	OrderID      string                 `json:"order_id,omitempty"`
	Detail       string                 `json:"detail,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Error        *AuditError            `json:"error,omitempty"`
}

// AuditError carries the stable machine code and human message for a
// failed action (§7: "every error carries a stable machine code and a
// human message").
type AuditError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
