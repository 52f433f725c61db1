// Package wire defines the broadcast message exchanged between an
// advertising device and its scanning peers, together with the discovery
// constants both sides share at compile time.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/airchainpay/proximityd/internal/models"
)

// Discovery constants shared between advertiser and scanner.
const (
	// ServiceUUID is the fixed service identifier every advert carries.
	ServiceUUID = "0000abcd-0000-1000-8000-00805f9b34fb"

	// DataCharacteristicUUID is the characteristic used for connected
	// payload exchange after discovery.
	DataCharacteristicUUID = "0000abce-0000-1000-8000-00805f9b34fb"

	// DeviceNamePrefix filters peers by advertised local name.
	DeviceNamePrefix = "AirChainPay"

	// MessageType tags every broadcast message.
	MessageType = "AirChainPay"

	// ProtocolVersion is bumped when the wire layout changes.
	ProtocolVersion = "1.2.0"

	// ManufacturerID is the company identifier carried in the
	// manufacturer-data advert section (0xFFFF = test/unassigned range).
	ManufacturerID = 0xFFFF
)

// PaymentData is the payment portion of a broadcast message
type PaymentData struct {
	WalletAddress string `json:"walletAddress"`
	Amount        string `json:"amount,omitempty"`
	Token         string `json:"token,omitempty"`
	ChainID       string `json:"chainId,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

// Message is the JSON broadcast message
type Message struct {
	Name         string       `json:"name"`
	ServiceID    string       `json:"serviceId"`
	Type         string       `json:"type"`
	Version      string       `json:"version"`
	Capabilities []string     `json:"capabilities,omitempty"`
	Timestamp    int64        `json:"timestamp"`
	PaymentData  *PaymentData `json:"paymentData,omitempty"`
	Encrypted    bool         `json:"encrypted,omitempty"`
	AuthToken    string       `json:"authenticationToken,omitempty"`
}

// NewMessage builds a broadcast message from a payment payload
func NewMessage(payload *models.PaymentPayload, capabilities []string) *Message {
	msg := &Message{
		Name:         payload.DeviceName,
		ServiceID:    ServiceUUID,
		Type:         MessageType,
		Version:      ProtocolVersion,
		Capabilities: capabilities,
		Timestamp:    time.Now().Unix(),
	}
	msg.PaymentData = &PaymentData{
		WalletAddress: payload.WalletAddress,
		Amount:        payload.Amount,
		Token:         string(payload.Token),
		ChainID:       payload.ChainID,
		Timestamp:     payload.Timestamp.Unix(),
	}
	return msg
}

// Payload converts the message's payment section back into a payload.
// Returns nil when the message carries no payment data.
func (m *Message) Payload() *models.PaymentPayload {
	if m.PaymentData == nil {
		return nil
	}
	return &models.PaymentPayload{
		WalletAddress: m.PaymentData.WalletAddress,
		Amount:        m.PaymentData.Amount,
		Token:         models.Token(m.PaymentData.Token),
		ChainID:       m.PaymentData.ChainID,
		Timestamp:     time.Unix(m.PaymentData.Timestamp, 0),
		DeviceName:    m.Name,
	}
}

// Marshal encodes the message for the manufacturer-data advert section
func (m *Message) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal wire message: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a manufacturer-data advert section
func Unmarshal(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal wire message: %w", err)
	}
	if msg.Type != MessageType {
		return nil, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	return &msg, nil
}
