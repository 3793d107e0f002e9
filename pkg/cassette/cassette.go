// Package cassette persists recorded exchanges and turns them back
// into expectations. Cassettes travel as YAML, JSON or CBOR files,
// chosen by extension, or live in a SQLite archive for accumulating
// captures across sessions.
package cassette

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/snarelabs/snare/internal/errx"
	"github.com/snarelabs/snare/pkg/endpoint"
	"github.com/snarelabs/snare/pkg/match"
	"github.com/snarelabs/snare/pkg/mock"
	"github.com/snarelabs/snare/pkg/recorder"
)

// FormatVersion is the current cassette file version.
const FormatVersion = 1

// Cassette is a serializable set of recorded exchanges.
type Cassette struct {
	Version int               `json:"version" yaml:"version" cbor:"version"`
	Records []recorder.Record `json:"records" yaml:"records" cbor:"records"`
}

// New builds a cassette at the current format version.
func New(records ...recorder.Record) *Cassette {
	return &Cassette{Version: FormatVersion, Records: records}
}

// Save writes the cassette to path, encoding per the file extension.
func Save(path string, c *Cassette) error {
	codec, ok := LookupCodec(filepath.Ext(path))
	if !ok {
		return errx.With(ErrUnknownFormat, ": %q", filepath.Ext(path))
	}
	data, err := codec.Marshal(c)
	if err != nil {
		return errx.Wrap(ErrEncodeCassette, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errx.Wrap(ErrWriteCassette, err)
	}
	return nil
}

// Load reads a cassette from path, decoding per the file extension.
// Files written before versioning load as version 1.
func Load(path string) (*Cassette, error) {
	codec, ok := LookupCodec(filepath.Ext(path))
	if !ok {
		return nil, errx.With(ErrUnknownFormat, ": %q", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errx.Wrap(ErrReadCassette, err)
	}
	var c Cassette
	if err := codec.Unmarshal(data, &c); err != nil {
		return nil, errx.Wrap(ErrDecodeCassette, err)
	}
	if c.Version == 0 {
		c.Version = FormatVersion
	}
	if c.Version > FormatVersion {
		return nil, errx.With(ErrUnsupportedVersion, ": %d", c.Version)
	}
	return &c, nil
}

// ExpectOptions shapes the expectations built from a cassette.
type ExpectOptions struct {
	// Persistent registers every expectation with unlimited uses.
	Persistent bool
	// Times sets the use count per expectation when Persistent is
	// false. Zero means single use.
	Times int
}

// Expectations converts the cassette's records into registrable
// expectations, restoring hex-encoded binary payloads to raw bytes.
func Expectations(c *Cassette, opts ExpectOptions) []*mock.Expectation {
	exps := make([]*mock.Expectation, 0, len(c.Records))
	for _, rec := range c.Records {
		exps = append(exps, expectationFor(rec, opts))
	}
	return exps
}

func expectationFor(rec recorder.Record, opts ExpectOptions) *mock.Expectation {
	exp := &mock.Expectation{
		Endpoint:      endpoint.Parse(rec.Scope),
		Method:        rec.Method,
		Path:          match.Exact(rec.Path),
		Body:          bodyMatcherFor(rec),
		Persistent:    opts.Persistent,
		RemainingUses: opts.Times,
	}
	for name, value := range rec.ReqHeaders {
		exp.Header = append(exp.Header, mock.HeaderMatcher{Name: name, Value: match.Exact(value)})
	}

	exp.Reply.Status = rec.Status
	exp.Reply.Body = rec.ResponseBytes()
	if len(rec.Headers) > 0 {
		exp.Reply.Header = http.Header{}
		for name, value := range rec.Headers {
			exp.Reply.Header.Set(name, value)
		}
	}
	return exp
}

func bodyMatcherFor(rec recorder.Record) *mock.BodyMatcher {
	switch {
	case rec.Body == nil:
		return nil
	case rec.BodyEncoding == recorder.EncodingHex:
		return mock.BodyBytes(rec.BodyBytes())
	default:
		if s, ok := rec.Body.(string); ok {
			return mock.BodyString(s)
		}
		return mock.BodyJSON(rec.Body)
	}
}
