package wire

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/airchainpay/proximityd/internal/models"
)

// ErrNoPayload is returned when an advertisement matches the discovery
// filter but none of the known payload forms parse.
var ErrNoPayload = errors.New("no parseable payment payload")

// legacySeparator delimits fields in the oldest advert form still seen
// in the field: "ACP|wallet|amount|token|chainId|timestamp".
const (
	legacySeparator  = "|"
	legacyMarker     = "ACP"
	nameEncodedMark  = "ACP:"
	legacyFieldCount = 6
)

// ParseAdvertisement attempts the parse forms in order of strictness:
// structured manufacturer data first, then the name-encoded form, then
// the legacy pipe-delimited form. A nil payload with ErrNoPayload means
// the device matched the filter but carried nothing we understand.
func ParseAdvertisement(manufacturerData []byte, localName string) (*models.PaymentPayload, error) {
	if len(manufacturerData) > 0 {
		if msg, err := Unmarshal(manufacturerData); err == nil {
			if p := msg.Payload(); p != nil {
				return p, nil
			}
		}
		if p, err := parseLegacy(string(manufacturerData)); err == nil {
			return p, nil
		}
	}

	if p, err := parseNameEncoded(localName); err == nil {
		return p, nil
	}
	if p, err := parseLegacy(localName); err == nil {
		return p, nil
	}

	return nil, ErrNoPayload
}

// EncodeNameForm packs a payload into the compact name-encoded advert
// form used where manufacturer data is unavailable or size-limited.
func EncodeNameForm(payload *models.PaymentPayload) string {
	compact := strings.Join([]string{
		payload.WalletAddress,
		payload.Amount,
		string(payload.Token),
		payload.ChainID,
		strconv.FormatInt(payload.Timestamp.Unix(), 10),
	}, legacySeparator)
	return nameEncodedMark + base64.RawURLEncoding.EncodeToString([]byte(compact))
}

// parseNameEncoded parses "ACP:<base64url(wallet|amount|token|chain|ts)>"
func parseNameEncoded(name string) (*models.PaymentPayload, error) {
	idx := strings.Index(name, nameEncodedMark)
	if idx < 0 {
		return nil, ErrNoPayload
	}
	raw, err := base64.RawURLEncoding.DecodeString(name[idx+len(nameEncodedMark):])
	if err != nil {
		return nil, ErrNoPayload
	}
	fields := strings.Split(string(raw), legacySeparator)
	if len(fields) != legacyFieldCount-1 || fields[0] == "" {
		return nil, ErrNoPayload
	}
	ts, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		ts = time.Now().Unix()
	}
	deviceName := strings.TrimSuffix(name[:idx], "-")
	if deviceName == "" {
		deviceName = DeviceNamePrefix
	}
	return &models.PaymentPayload{
		WalletAddress: fields[0],
		Amount:        fields[1],
		Token:         models.Token(fields[2]),
		ChainID:       fields[3],
		Timestamp:     time.Unix(ts, 0),
		DeviceName:    deviceName,
	}, nil
}

// parseLegacy parses "ACP|wallet|amount|token|chainId|timestamp"
func parseLegacy(s string) (*models.PaymentPayload, error) {
	if !strings.HasPrefix(s, legacyMarker+legacySeparator) {
		return nil, ErrNoPayload
	}
	fields := strings.Split(s, legacySeparator)
	if len(fields) != legacyFieldCount || fields[1] == "" {
		return nil, ErrNoPayload
	}
	ts, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		ts = time.Now().Unix()
	}
	return &models.PaymentPayload{
		WalletAddress: fields[1],
		Amount:        fields[2],
		Token:         models.Token(fields[3]),
		ChainID:       fields[4],
		Timestamp:     time.Unix(ts, 0),
		DeviceName:    DeviceNamePrefix,
	}, nil
}
