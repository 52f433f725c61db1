package models

import "time"

// ConnectionStatus represents the state of one point-to-point link
type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "DISCONNECTED"
	ConnectionConnecting   ConnectionStatus = "CONNECTING"
	ConnectionConnected    ConnectionStatus = "CONNECTED"
	ConnectionError        ConnectionStatus = "ERROR"
)

// ConnectionState tracks a single peer connection. Owned exclusively by
// the connection manager; removed on disconnect or terminal error.
type ConnectionState struct {
	DeviceID      string           `json:"deviceId"`
	Device        DiscoveredDevice `json:"device"`
	Status        ConnectionStatus `json:"status"`
	Services      []string         `json:"services,omitempty"`
	ConnectedAt   *time.Time       `json:"connectedAt,omitempty"`
	BytesReceived int64            `json:"bytesReceived"`
	LastError     string           `json:"lastError,omitempty"`
}
