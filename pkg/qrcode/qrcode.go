// Package qrcode renders session challenges as scannable images.
package qrcode

import (
	"encoding/base64"
	"errors"

	qr "github.com/skip2/go-qrcode"
)

// DefaultSize is the rendered image edge length in pixels.
const DefaultSize = 300

// DataURLPrefix prefixes every encoded image.
const DataURLPrefix = "data:image/png;base64,"

// DataURL renders payload as a PNG QR code and returns it as a data URL.
func DataURL(payload string) (string, error) {
	if payload == "" {
		return "", errors.New("qr payload cannot be empty")
	}

	png, err := qr.Encode(payload, qr.Medium, DefaultSize)
	if err != nil {
		return "", err
	}

	return DataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}
