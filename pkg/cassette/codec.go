package cassette

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

// Codec serializes cassettes for one file format.
type Codec interface {
	Marshal(c *Cassette) ([]byte, error)
	Unmarshal(data []byte, c *Cassette) error
}

var (
	codecsMu sync.RWMutex
	codecs   = map[string]Codec{}
)

func init() {
	RegisterCodec(".json", jsonCodec{})
	RegisterCodec(".yaml", yamlCodec{})
	RegisterCodec(".yml", yamlCodec{})
	RegisterCodec(".cbor", cborCodec{})
}

// RegisterCodec adds a codec for a file extension (with leading dot).
// Panics if the extension is already claimed.
func RegisterCodec(ext string, codec Codec) {
	ext = strings.ToLower(ext)
	codecsMu.Lock()
	defer codecsMu.Unlock()
	if _, exists := codecs[ext]; exists {
		panic("cassette: duplicate codec registration for " + ext)
	}
	codecs[ext] = codec
}

// LookupCodec returns the codec for a file extension, if registered.
func LookupCodec(ext string) (Codec, bool) {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	c, ok := codecs[strings.ToLower(ext)]
	return c, ok
}

// RegisteredExtensions returns the extensions with a registered codec.
func RegisteredExtensions() []string {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	exts := make([]string, 0, len(codecs))
	for ext := range codecs {
		exts = append(exts, ext)
	}
	return exts
}

type jsonCodec struct{}

func (jsonCodec) Marshal(c *Cassette) ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

func (jsonCodec) Unmarshal(data []byte, c *Cassette) error {
	return json.Unmarshal(data, c)
}

type yamlCodec struct{}

func (yamlCodec) Marshal(c *Cassette) ([]byte, error) {
	return yaml.Marshal(c)
}

func (yamlCodec) Unmarshal(data []byte, c *Cassette) error {
	return yaml.Unmarshal(data, c)
}

// cborDecMode decodes CBOR maps into string-keyed Go maps so decoded
// payloads stay interchangeable with their JSON and YAML counterparts.
var cborDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

type cborCodec struct{}

func (cborCodec) Marshal(c *Cassette) ([]byte, error) {
	return cbor.Marshal(c)
}

func (cborCodec) Unmarshal(data []byte, c *Cassette) error {
	return cborDecMode.Unmarshal(data, c)
}
