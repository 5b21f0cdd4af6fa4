package types

import "encoding/json"

// Content is a tagged union: a payload arrives either as raw wire bytes
// (Encoded) or as an already-decoded value (Decoded), with a single
// decode point (Decode) instead of ad hoc lazy parsing scattered across
// call sites.
type Content struct {
	encoded []byte
	decoded any
}

// EncodedContent wraps raw wire bytes received from the stream.
func EncodedContent(b []byte) Content {
	return Content{encoded: b}
}

// DecodedContent wraps an already-materialized value, e.g. one the lambda
// itself is about to emit.
func DecodedContent(v any) Content {
	return Content{decoded: v}
}

// IsZero reports whether the content carries no payload at all.
func (c Content) IsZero() bool {
	return c.encoded == nil && c.decoded == nil
}

// Decode materializes the content into out, decoding lazily from the wire
// bytes if that is what this Content holds, instead of ad hoc lazy
// parsing scattered across call sites.
func (c Content) Decode(out any) error {
	if c.decoded != nil {
		return remarshal(c.decoded, out)
	}
	if c.encoded == nil {
		return nil
	}
	return json.Unmarshal(c.encoded, out)
}

// Bytes returns the wire encoding, encoding a Decoded value on demand.
func (c Content) Bytes() ([]byte, error) {
	if c.encoded != nil {
		return c.encoded, nil
	}
	if c.decoded == nil {
		return nil, nil
	}
	return json.Marshal(c.decoded)
}

// MarshalJSON encodes the content as its wire bytes (base64 inside a JSON
// string, same as any []byte), so a Content can cross the gRPC/JSON
// transport in pkg/repo and pkg/producer without losing a Decoded payload.
func (c Content) MarshalJSON() ([]byte, error) {
	b, err := c.Bytes()
	if err != nil {
		return nil, err
	}
	if b == nil {
		return []byte("null"), nil
	}
	return json.Marshal(b)
}

// UnmarshalJSON is the receiving half of MarshalJSON: the content arrives
// as wire bytes and decodes lazily from there, same as EncodedContent.
func (c *Content) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = Content{}
		return nil
	}
	var b []byte
	if err := json.Unmarshal(data, &b); err != nil {
		return err
	}
	*c = EncodedContent(b)
	return nil
}

// remarshal copies src into dst through a JSON round-trip, which is good
// enough for the small control-plane structs scribe decodes (UpdateDSN,
// SummaryAck/Nack payloads) and avoids a reflection-based deep copy.
func remarshal(src, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
