// ABOUTME: Wire types for the gateway REST API
// ABOUTME: Mirrors the JSON shapes served under /api/sessions

package main

type ExecutionResponse struct {
	ExecutionID string  `json:"execution_id"`
	ToolName    string  `json:"tool_name"`
	AgentName   string  `json:"agent"`
	Status      string  `json:"status"`
	StartTime   string  `json:"start_time"`
	EndTime     *string `json:"end_time,omitempty"`
	Progress    int     `json:"progress"`
}

type SessionResponse struct {
	SessionID       string              `json:"session_id"`
	Status          string              `json:"status"`
	CreatedAt       string              `json:"created_at"`
	UpdatedAt       string              `json:"updated_at"`
	LastActivityAt  string              `json:"last_activity_at"`
	ConnectionCount int                 `json:"connection_count"`
	Executions      []ExecutionResponse `json:"executions"`
	Metadata        map[string]string   `json:"metadata,omitempty"`
}

type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Count    int               `json:"count"`
}
