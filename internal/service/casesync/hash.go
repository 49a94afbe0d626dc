package casesync

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jwalitptl/caresync/internal/model"
)

var errNotObject = errors.New("payload must be a JSON object")

// Canonicalize re-encodes raw JSON with object keys sorted and insignificant
// whitespace removed. Numbers keep their original text.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return nil, errors.New("invalid JSON: trailing data")
	}
	return json.Marshal(v)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// PayloadHash is the content hash of a single operation payload.
func PayloadHash(payload json.RawMessage) (string, error) {
	canon, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	if len(canon) == 0 || canon[0] != '{' {
		return "", errNotObject
	}
	return hashBytes(canon), nil
}

// RequestHash is the content hash of {deviceId, ops}. syncRequestId is not
// part of it.
func RequestHash(req *model.SyncRequest) (string, error) {
	raw, err := json.Marshal(struct {
		DeviceID string         `json:"deviceId"`
		Ops      []model.SyncOp `json:"ops"`
	}{req.DeviceID, req.Ops})
	if err != nil {
		return "", err
	}
	canon, err := Canonicalize(raw)
	if err != nil {
		return "", err
	}
	return hashBytes(canon), nil
}
