package gifconv

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image/gif"
	"strings"
)

const gifDataURIPrefix = "data:image/gif;base64,"

var ErrBadDataURI = errors.New("not a base64 GIF data URI")

// EncodeDataURI renders g as an inline data URI.
func EncodeDataURI(g *gif.GIF) (string, error) {
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return "", err
	}
	return gifDataURIPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeDataURI strips the data URI prefix and returns the GIF bytes.
func DecodeDataURI(uri string) ([]byte, error) {
	payload, ok := strings.CutPrefix(uri, gifDataURIPrefix)
	if !ok {
		return nil, ErrBadDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.Join(ErrBadDataURI, err)
	}
	return data, nil
}
