// Package serializer converts typed messages to and from queue payloads.
//
// A queue client uses exactly one family for its lifetime: a BinarySerializer
// when one is configured, otherwise a StringSerializer (JSON by default).
package serializer

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/protobuf/proto"
)

type StringSerializer[T any] interface {
	Serialize(message T) (string, error)
	Deserialize(payload string) (T, error)
}

type BinarySerializer[T any] interface {
	Serialize(message T) ([]byte, error)
	Deserialize(payload []byte) (T, error)
}

// JSON is the default string serializer.
type JSON[T any] struct{}

func (JSON[T]) Serialize(message T) (string, error) {
	b, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload to json: %w", err)
	}
	return string(b), nil
}

func (JSON[T]) Deserialize(payload string) (T, error) {
	var message T
	if err := json.Unmarshal([]byte(payload), &message); err != nil {
		return message, fmt.Errorf("failed to unmarshal payload from json: %w", err)
	}
	return message, nil
}

// JSONIter is a drop-in JSON serializer backed by json-iterator. It accepts
// the same documents as JSON.
type JSONIter[T any] struct{}

var jsonIter = jsoniter.ConfigCompatibleWithStandardLibrary

func (JSONIter[T]) Serialize(message T) (string, error) {
	s, err := jsonIter.MarshalToString(message)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload to json: %w", err)
	}
	return s, nil
}

func (JSONIter[T]) Deserialize(payload string) (T, error) {
	var message T
	if err := jsonIter.UnmarshalFromString(payload, &message); err != nil {
		return message, fmt.Errorf("failed to unmarshal payload from json: %w", err)
	}
	return message, nil
}

// Text passes string messages through untouched.
type Text struct{}

func (Text) Serialize(message string) (string, error) {
	return message, nil
}

func (Text) Deserialize(payload string) (string, error) {
	return payload, nil
}

// Gob encodes messages with encoding/gob.
type Gob[T any] struct{}

func (Gob[T]) Serialize(message T) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(message); err != nil {
		return nil, fmt.Errorf("failed to gob encode payload: %w", err)
	}
	return buf.Bytes(), nil
}

func (Gob[T]) Deserialize(payload []byte) (T, error) {
	var message T
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&message); err != nil {
		return message, fmt.Errorf("failed to gob decode payload: %w", err)
	}
	return message, nil
}

// Proto encodes protobuf messages in wire format. New must return an empty
// message to unmarshal into.
type Proto[T proto.Message] struct {
	New func() T
}

func NewProto[T proto.Message](newMessage func() T) Proto[T] {
	return Proto[T]{New: newMessage}
}

func (p Proto[T]) Serialize(message T) ([]byte, error) {
	b, err := proto.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal protobuf payload: %w", err)
	}
	return b, nil
}

func (p Proto[T]) Deserialize(payload []byte) (T, error) {
	message := p.New()
	if err := proto.Unmarshal(payload, message); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to unmarshal protobuf payload: %w", err)
	}
	return message, nil
}

// Snappy compresses the output of another binary serializer.
type Snappy[T any] struct {
	Inner BinarySerializer[T]
}

func NewSnappy[T any](inner BinarySerializer[T]) Snappy[T] {
	return Snappy[T]{Inner: inner}
}

func (s Snappy[T]) Serialize(message T) ([]byte, error) {
	b, err := s.Inner.Serialize(message)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, b), nil
}

func (s Snappy[T]) Deserialize(payload []byte) (T, error) {
	b, err := snappy.Decode(nil, payload)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to decompress payload: %w", err)
	}
	return s.Inner.Deserialize(b)
}

// Binary adapts a StringSerializer to the binary family, storing UTF-8 bytes.
type Binary[T any] struct {
	Inner StringSerializer[T]
}

func (b Binary[T]) Serialize(message T) ([]byte, error) {
	s, err := b.Inner.Serialize(message)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

func (b Binary[T]) Deserialize(payload []byte) (T, error) {
	return b.Inner.Deserialize(string(payload))
}
