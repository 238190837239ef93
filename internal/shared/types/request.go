package types

// VisualizationPayload is the inbound notification carrying one snippet
type VisualizationPayload struct {
	Code      string `json:"code"`
	Dimension string `json:"dimension" binding:"required"`
	Analysis  string `json:"analysis"`
}

// ModeRequest switches the host display mode
type ModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// CheckRequest asks for a dry run of a snippet in an isolated runtime
type CheckRequest struct {
	Code      string `json:"code" binding:"required"`
	Dimension string `json:"dimension"`
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}
