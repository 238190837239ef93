// Package types provides shared data structures for the visualization host.
//
// Core Types:
//   - Dimension: 2d, 3d or demo rendering family
//   - DisplayMode: visual or code region
//
// Request Types:
//   - VisualizationPayload: inbound snippet notification
//   - ModeRequest, CheckRequest: UI control requests
//   - WSMessage: WebSocket communication
package types
