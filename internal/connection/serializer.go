package connection

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Serializer turns an arbitrary value into message text for SendValue.
type Serializer interface {
	Text(v any) (string, error)
}

// SerializerFunc adapts a function to Serializer.
type SerializerFunc func(v any) (string, error)

func (f SerializerFunc) Text(v any) (string, error) { return f(v) }

type jsonSerializer struct{}

// JSONSerializer encodes values as JSON.
func JSONSerializer() Serializer { return jsonSerializer{} }

func (jsonSerializer) Text(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %T: %w", v, err)
	}
	return string(data), nil
}
