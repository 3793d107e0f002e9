package recorder

import (
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Record is one serialized exchange. Structured bodies are stored as
// decoded JSON values, text bodies as strings, binary bodies as hex
// strings with the matching encoding field set so reloading can
// distinguish them from literal text.
type Record struct {
	Scope            string            `json:"scope" yaml:"scope" cbor:"scope"`
	Method           string            `json:"method" yaml:"method" cbor:"method"`
	Path             string            `json:"path" yaml:"path" cbor:"path"`
	Body             any               `json:"body,omitempty" yaml:"body,omitempty" cbor:"body,omitempty"`
	Status           int               `json:"status" yaml:"status" cbor:"status"`
	Response         any               `json:"response,omitempty" yaml:"response,omitempty" cbor:"response,omitempty"`
	Headers          map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" cbor:"headers,omitempty"`
	ReqHeaders       map[string]string `json:"reqheaders,omitempty" yaml:"reqheaders,omitempty" cbor:"reqheaders,omitempty"`
	BodyEncoding     string            `json:"bodyEncoding,omitempty" yaml:"bodyEncoding,omitempty" cbor:"bodyEncoding,omitempty"`
	ResponseEncoding string            `json:"responseEncoding,omitempty" yaml:"responseEncoding,omitempty" cbor:"responseEncoding,omitempty"`
}

// EncodingHex marks a Body or Response field holding hex-encoded binary.
const EncodingHex = "hex"

func buildRecord(x Exchange, opts Options) Record {
	body, bodyKind := classify(x.ReqBody)
	resp, respKind := classify(x.RespBody)
	body = redactJSON(body, bodyKind, opts.RedactJSONPaths)
	resp = redactJSON(resp, respKind, opts.RedactJSONPaths)

	rec := Record{
		Scope:    x.Endpoint,
		Method:   strings.ToUpper(x.Method),
		Path:     x.Path,
		Body:     body,
		Status:   x.Status,
		Response: resp,
		Headers:  flattenHeader(x.RespHeader),
	}
	if opts.RecordRequestHeaders {
		rec.ReqHeaders = flattenHeader(x.ReqHeader)
	}
	if bodyKind == kindBinary {
		rec.BodyEncoding = EncodingHex
	}
	if respKind == kindBinary {
		rec.ResponseEncoding = EncodingHex
	}
	return rec
}

// BodyBytes reconstructs the raw request body the record was built from.
func (r Record) BodyBytes() []byte {
	return valueBytes(r.Body, r.BodyEncoding)
}

// ResponseBytes reconstructs the raw response body. Structured values
// come back as compact JSON, which is how replays emit them.
func (r Record) ResponseBytes() []byte {
	return valueBytes(r.Response, r.ResponseEncoding)
}

func valueBytes(v any, encoding string) []byte {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if encoding == EncodingHex {
			raw, err := hex.DecodeString(s)
			if err == nil {
				return raw
			}
		}
		return []byte(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func flattenHeader(h map[string][]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}
