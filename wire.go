package bucketcache

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Cross-process calls are framed as a 4-byte big-endian envelope length, the
// JSON envelope, then the raw binary payload. Keeping the payload outside the
// envelope avoids base64 inflation and lets the owning process store the
// bytes verbatim.

const (
	methodGet    = "get"
	methodAdd    = "add"
	methodDelete = "delete"
	methodClear  = "clear"
)

type requestEnvelope struct {
	Method          string   `json:"method"`
	Bucket          string   `json:"bucket,omitempty"`
	Identifier      string   `json:"identifier,omitempty"`
	TTLMillis       int64    `json:"ttl_ms,omitempty"`
	ExpiresAtMillis int64    `json:"expires_at_ms,omitempty"`
	Buckets         []string `json:"buckets,omitempty"`
	ClearDurable    bool     `json:"clear_durable,omitempty"`
}

type responseEnvelope struct {
	OK           bool   `json:"ok"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func encodeFrame(env any, payload []byte) ([]byte, error) {
	header, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 4+len(header)+len(payload))
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(header)))
	out = append(out, size[:]...)
	out = append(out, header...)
	out = append(out, payload...)
	return out, nil
}

func decodeFrame(data []byte, env any) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}
	size := binary.BigEndian.Uint32(data[:4])
	if int(size) > len(data)-4 {
		return nil, fmt.Errorf("frame envelope length %d exceeds frame", size)
	}
	if err := json.Unmarshal(data[4:4+size], env); err != nil {
		return nil, err
	}
	payload := data[4+size:]
	if len(payload) == 0 {
		return nil, nil
	}
	return cloneBytes(payload), nil
}
