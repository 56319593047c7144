package protocol

import "encoding/json"

// JSON is a general-purpose Encoding backed by encoding/json. It is a
// convenience default; the core never assumes it and any Encoding[T]
// implementation may be substituted.
type JSON[T any] struct{}

func (JSON[T]) ContentType() string { return "application/json" }

func (JSON[T]) PayloadFormat() byte { return 1 } // character-data

func (JSON[T]) Encode(v T) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON[T]) Decode(data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
