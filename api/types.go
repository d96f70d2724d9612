package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ByteArray is a byte slice that travels as a JSON array of integers in
// [0, 255], the way a serialized Uint8Array looks. Strings are rejected
// rather than base64 decoded.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, 2+len(b)*4)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return fmt.Errorf("fileData must be an array of byte values")
	}

	var values []json.RawMessage
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return fmt.Errorf("fileData must be an array of byte values: %w", err)
	}

	out := make(ByteArray, len(values))
	for i, v := range values {
		n, err := strconv.ParseUint(string(bytes.TrimSpace(v)), 10, 8)
		if err != nil {
			return fmt.Errorf("fileData[%d] = %s is not a byte value", i, v)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

type createRequest struct {
	FileData ByteArray `json:"fileData"`
}

type createResponse struct {
	Skylink string `json:"skylink"`
	ViewKey string `json:"viewKey"`
}

type viewRequest struct {
	Skylink string `json:"skylink"`
	ViewKey string `json:"viewKey"`
}

type viewResponse struct {
	FileData ByteArray `json:"fileData"`
}

type errorResponse struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Created uint64 `json:"created"`
	Viewed  uint64 `json:"viewed"`
	Failed  uint64 `json:"failed"`
}
