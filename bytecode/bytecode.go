// Package bytecode implements the binary serialization of compiled programs
// and the trailer format used to embed them in a self-contained executable.
//
// A serialized program is the raw instruction stream followed by the tagged
// constant pool. All integers are little-endian. Nested compiled functions
// store their instructions verbatim; their constant references index the
// same top-level pool as the enclosing program.
//
// A built executable is the compiler binary itself with a trailer appended:
// the marker string, a 32-bit payload length, and the payload. At startup
// the binary inspects its own file for a trailer and, if present, runs the
// embedded program instead of parsing the command line.
package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/monkeyc-lang/monkeyc/code"
	"github.com/monkeyc-lang/monkeyc/compiler"
	"github.com/monkeyc-lang/monkeyc/object"
)

// Marker separates the executable image from the appended payload.
const Marker = "MONKEY_BYTECODE"

// Constant pool tags.
const (
	tagInteger byte = iota + 1
	tagString
	tagCompiledFunction
	tagBoolean
	tagNull
	tagArray
	tagHash
)

// Serialize encodes a compiled program into its binary form.
func Serialize(bc *compiler.Bytecode) ([]byte, error) {
	var buf bytes.Buffer

	writeUint32(&buf, uint32(len(bc.Instructions)))
	buf.Write(bc.Instructions)

	writeUint32(&buf, uint32(len(bc.Constants)))
	for i, constant := range bc.Constants {
		if err := writeObject(&buf, constant); err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
	}

	return buf.Bytes(), nil
}

// Deserialize decodes a binary program produced by Serialize.
func Deserialize(data []byte) (*compiler.Bytecode, error) {
	r := &reader{data: data}

	instrLen, err := r.uint32()
	if err != nil {
		return nil, err
	}
	instructions, err := r.bytes(int(instrLen))
	if err != nil {
		return nil, fmt.Errorf("truncated instructions: %w", err)
	}

	constCount, err := r.uint32()
	if err != nil {
		return nil, err
	}

	constants := make([]object.Object, 0, constCount)
	for i := uint32(0); i < constCount; i++ {
		obj, err := r.object()
		if err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
		constants = append(constants, obj)
	}

	return &compiler.Bytecode{
		Instructions: code.Instructions(instructions),
		Constants:    constants,
	}, nil
}

// AppendTrailer appends the marker, payload length, and payload to the
// executable image.
func AppendTrailer(image, payload []byte) []byte {
	out := make([]byte, 0, len(image)+len(Marker)+4+len(payload))
	out = append(out, image...)
	out = append(out, Marker...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(payload)))
	out = append(out, payload...)
	return out
}

// ExtractTrailer scans an executable image backward for the last marker
// occurrence and returns the embedded payload. The marker string also
// exists in the binary's read-only data, so a candidate is only accepted
// when its recorded length reaches exactly to the end of the file.
func ExtractTrailer(image []byte) ([]byte, bool) {
	search := image
	for {
		idx := bytes.LastIndex(search, []byte(Marker))
		if idx < 0 {
			return nil, false
		}

		lenOffset := idx + len(Marker)
		if lenOffset+4 <= len(image) {
			payloadLen := int(binary.LittleEndian.Uint32(image[lenOffset:]))
			start := lenOffset + 4
			if start+payloadLen == len(image) {
				return image[start:], true
			}
		}

		search = search[:idx]
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// writeObject encodes a single constant, recursing into containers.
func writeObject(buf *bytes.Buffer, obj object.Object) error {
	switch obj := obj.(type) {
	case *object.Integer:
		buf.WriteByte(tagInteger)
		//nolint:gosec
		writeUint64(buf, uint64(obj.Value))

	case *object.String:
		buf.WriteByte(tagString)
		writeUint32(buf, uint32(len(obj.Value)))
		buf.WriteString(obj.Value)

	case *object.CompiledFunction:
		buf.WriteByte(tagCompiledFunction)
		writeUint32(buf, uint32(len(obj.Instructions)))
		buf.Write(obj.Instructions)
		writeUint32(buf, uint32(obj.NumLocals))
		writeUint32(buf, uint32(obj.NumParameters))

	case *object.Boolean:
		buf.WriteByte(tagBoolean)
		if obj.Value {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}

	case *object.Null:
		buf.WriteByte(tagNull)

	case *object.Array:
		buf.WriteByte(tagArray)
		writeUint32(buf, uint32(len(obj.Elements)))
		for _, el := range obj.Elements {
			if err := writeObject(buf, el); err != nil {
				return err
			}
		}

	case *object.Hash:
		buf.WriteByte(tagHash)
		pairs := obj.Pairs()
		writeUint32(buf, uint32(len(pairs)))
		for _, pair := range pairs {
			if err := writeObject(buf, pair.Key); err != nil {
				return err
			}
			if err := writeObject(buf, pair.Value); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("unsupported object type %s", obj.Type())
	}

	return nil
}

// reader tracks an offset into the serialized form.
type reader struct {
	data   []byte
	offset int
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.offset+n > len(r.data) {
		return nil, fmt.Errorf("unexpected end of data at offset %d", r.offset)
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// object decodes a single tagged constant, recursing into containers.
func (r *reader) object() (object.Object, error) {
	tag, err := r.byte()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagInteger:
		v, err := r.uint64()
		if err != nil {
			return nil, err
		}
		//nolint:gosec
		return &object.Integer{Value: int64(v)}, nil

	case tagString:
		length, err := r.uint32()
		if err != nil {
			return nil, err
		}
		b, err := r.bytes(int(length))
		if err != nil {
			return nil, err
		}
		return &object.String{Value: string(b)}, nil

	case tagCompiledFunction:
		instrLen, err := r.uint32()
		if err != nil {
			return nil, err
		}
		instructions, err := r.bytes(int(instrLen))
		if err != nil {
			return nil, err
		}
		numLocals, err := r.uint32()
		if err != nil {
			return nil, err
		}
		numParameters, err := r.uint32()
		if err != nil {
			return nil, err
		}

		ins := make(code.Instructions, instrLen)
		copy(ins, instructions)
		return &object.CompiledFunction{
			Instructions:  ins,
			NumLocals:     int(numLocals),
			NumParameters: int(numParameters),
		}, nil

	case tagBoolean:
		v, err := r.byte()
		if err != nil {
			return nil, err
		}
		return &object.Boolean{Value: v != 0}, nil

	case tagNull:
		return &object.Null{}, nil

	case tagArray:
		count, err := r.uint32()
		if err != nil {
			return nil, err
		}
		elements := make([]object.Object, 0, count)
		for i := uint32(0); i < count; i++ {
			el, err := r.object()
			if err != nil {
				return nil, err
			}
			elements = append(elements, el)
		}
		return &object.Array{Elements: elements}, nil

	case tagHash:
		pairCount, err := r.uint32()
		if err != nil {
			return nil, err
		}
		hash := object.NewHash()
		for i := uint32(0); i < pairCount; i++ {
			key, err := r.object()
			if err != nil {
				return nil, err
			}
			value, err := r.object()
			if err != nil {
				return nil, err
			}
			hashable, ok := key.(object.Hashable)
			if !ok {
				return nil, fmt.Errorf("unusable as hash key: %s", key.Type())
			}
			hash.Set(hashable.HashKey(), object.HashPair{Key: key, Value: value})
		}
		return hash, nil

	default:
		return nil, fmt.Errorf("unknown object tag %d", tag)
	}
}
