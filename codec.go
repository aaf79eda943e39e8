package bucketcache

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// CompressionCodec represents a payload compression algorithm.
type CompressionCodec string

const (
	CompressionNone CompressionCodec = "none"
	CompressionGzip CompressionCodec = "gzip"
)

// Stored payloads are framed so corruption is detectable: a 4-byte magic, one
// codec byte, then the JSON body (gzip-wrapped when the codec byte is 'g').
var payloadMagic = []byte("BKP1")

const (
	codecPlain = byte('n')
	codecGzip  = byte('g')
)

func encodePayload(value any, codec CompressionCodec, max int) ([]byte, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	var buf bytes.Buffer
	buf.Write(payloadMagic)
	switch codec {
	case CompressionGzip:
		buf.WriteByte(codecGzip)
		zw, _ := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
		if _, err := zw.Write(body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
		}
	default:
		buf.WriteByte(codecPlain)
		buf.Write(body)
	}
	out := buf.Bytes()
	if max > 0 && len(out) > max {
		return nil, ErrValueTooLarge
	}
	return out, nil
}

// decodePayloadBody validates the frame and returns the raw JSON body.
func decodePayloadBody(data []byte) ([]byte, error) {
	if len(data) < len(payloadMagic)+1 || !bytes.Equal(data[:len(payloadMagic)], payloadMagic) {
		return nil, fmt.Errorf("%w: missing payload frame", ErrCorruptPayload)
	}
	codec := data[len(payloadMagic)]
	body := data[len(payloadMagic)+1:]
	switch codec {
	case codecPlain:
		return body, nil
	case codecGzip:
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %q", ErrCorruptPayload, codec)
	}
}

func decodePayload(data []byte, out any) error {
	body, err := decodePayloadBody(data)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return nil
}
