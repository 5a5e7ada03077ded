// Package object defines the object system for the Monkey programming language.
//
// This package implements the runtime object system that represents values
// during the execution of a Monkey program.
// It defines various types of objects such as integers, booleans, strings,
// arrays, hashes, compiled functions, closures, and built-ins.
//
// Key components:
//   - [Object] interface: The base interface for all runtime values
//   - Various object types ([Integer], [Boolean], [String], [Array], [Hash], [CompiledFunction], etc.)
//   - [Hashable] interface: For objects that can be used as hash keys
//   - A bucketed hash table with key caching for better performance
//
// The virtual machine uses the object system to represent and manipulate values
// during program execution.
package object

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/monkeyc-lang/monkeyc/code"
)

//nolint:revive
const (
	INTEGER_OBJ           = "INTEGER"
	BOOLEAN_OBJ           = "BOOLEAN"
	STRING_OBJ            = "STRING"
	NULL_OBJ              = "NULL"
	ERROR_OBJ             = "ERROR"
	BUILTIN_OBJ           = "BUILTIN"
	ARRAY_OBJ             = "ARRAY"
	HASH_OBJ              = "HASH"
	COMPILED_FUNCTION_OBJ = "COMPILED_FUNCTION_OBJ"
	CLOSURE_OBJ           = "CLOSURE"
)

// Type represents the type of object.
type Type string

// Object is the interface that wraps the basic operations of all Monkey objects.
// All Monkey objects implement this interface.
type Object interface {
	// Type returns the type of the object as a value of Type.
	Type() Type

	// Inspect returns a string representation of the object.
	Inspect() string
}

// Integer represents a Monkey integer value.
type Integer struct {
	Value int64
}

// Type returns the type of the object.
func (i *Integer) Type() Type { return INTEGER_OBJ }

// Inspect returns a string representation of the object.
func (i *Integer) Inspect() string { return strconv.FormatInt(i.Value, 10) }

// Boolean represents a Monkey boolean value.
type Boolean struct {
	Value bool
}

// Type returns the type of the object.
func (b *Boolean) Type() Type { return BOOLEAN_OBJ }

// Inspect returns a string representation of the object.
func (b *Boolean) Inspect() string { return strconv.FormatBool(b.Value) }

// String represents a Monkey string value. The byte content is opaque;
// the length is the byte count, not the rune count.
type String struct {
	Value string
	// Cache for the hash key to avoid recalculating it
	hashKey *HashKey
}

// Type returns the type of the object.
func (s *String) Type() Type { return STRING_OBJ }

// Inspect returns a string representation of the object.
func (s *String) Inspect() string { return s.Value }

// Null represents a Monkey null value.
type Null struct{}

// Type returns the type of the object.
func (n *Null) Type() Type { return NULL_OBJ }

// Inspect returns a string representation of the object.
func (n *Null) Inspect() string { return "null" }

// Error represents a Monkey error. Errors are produced by builtin functions
// and left on the stack for the program to observe; the VM does not trap them.
type Error struct {
	Message string
}

// Type returns the type of the object.
func (e *Error) Type() Type { return ERROR_OBJ }

// Inspect returns a string representation of the object.
func (e *Error) Inspect() string { return "ERROR: " + e.Message }

// BuiltinFunction represents a Monkey builtin function.
type BuiltinFunction func(args ...Object) Object

// Builtin represents a Monkey builtin.
type Builtin struct {
	Fn BuiltinFunction
}

// Type returns the type of the object.
func (b *Builtin) Type() Type { return BUILTIN_OBJ }

// Inspect returns a string representation of the object.
func (b *Builtin) Inspect() string { return "builtin function" }

// Array represents a Monkey array.
type Array struct {
	Elements []Object
}

// Type returns the type of the object.
func (a *Array) Type() Type { return ARRAY_OBJ }

// Inspect returns a string representation of the object.
func (a *Array) Inspect() string {
	var out strings.Builder

	elements := make([]string, len(a.Elements))
	for i, e := range a.Elements {
		elements[i] = e.Inspect()
	}

	out.WriteString("[")
	out.WriteString(strings.Join(elements, ", "))
	out.WriteString("]")

	return out.String()
}

// HashKey represents a hash key.
type HashKey struct {
	Type  Type
	Value uint64
}

// HashKey returns the hash key for the object.
func (b *Boolean) HashKey() HashKey {
	var value uint64

	if b.Value {
		value = 1
	} else {
		value = 0
	}
	return HashKey{Type: b.Type(), Value: value}
}

// HashKey returns the hash key for the object.
func (i *Integer) HashKey() HashKey {
	//nolint:gosec
	return HashKey{Type: i.Type(), Value: uint64(i.Value)}
}

// HashKey returns the hash key for the object.
func (s *String) HashKey() HashKey {
	// Return the cached hash key if available
	if s.hashKey != nil {
		return *s.hashKey
	}

	// Calculate the hash key
	h := fnv.New64a()
	_, err := h.Write([]byte(s.Value))
	if err != nil {
		return HashKey{Type: ERROR_OBJ, Value: 0}
	}

	// Create and cache the hash key
	hashKey := HashKey{Type: s.Type(), Value: h.Sum64()}
	s.hashKey = &hashKey
	return hashKey
}

// HashPair represents a hash pair.
type HashPair struct {
	Key   Object
	Value Object
}

// Hashable represents an object that can be used as a hash key.
type Hashable interface {
	HashKey() HashKey
}

const (
	// hashInitialBuckets is the starting bucket count. Always a power of two.
	hashInitialBuckets = 16

	// hashMaxLoad is the load factor above which the bucket array doubles.
	hashMaxLoad = 0.75
)

// hashEntry is a single chained slot in a hash bucket.
type hashEntry struct {
	key  HashKey
	pair HashPair
	next *hashEntry
}

// Hash represents a Monkey hash. Entries are stored in a bucketed
// open-chaining table; the bucket count is a power of two and the table
// doubles and rehashes when the load factor exceeds hashMaxLoad.
type Hash struct {
	buckets []*hashEntry
	size    int
}

// NewHash creates an empty hash with the initial bucket count.
func NewHash() *Hash {
	return &Hash{buckets: make([]*hashEntry, hashInitialBuckets)}
}

// bucketIndex maps a key to its bucket. The bucket count is a power of
// two, so the mask is cheap.
func (h *Hash) bucketIndex(key HashKey) int {
	//nolint:gosec
	return int(key.Value & uint64(len(h.buckets)-1))
}

// Set inserts or replaces the pair stored under the given key.
func (h *Hash) Set(key HashKey, pair HashPair) {
	idx := h.bucketIndex(key)
	for e := h.buckets[idx]; e != nil; e = e.next {
		if e.key == key {
			e.pair = pair
			return
		}
	}

	h.buckets[idx] = &hashEntry{key: key, pair: pair, next: h.buckets[idx]}
	h.size++

	if float64(h.size) > hashMaxLoad*float64(len(h.buckets)) {
		h.grow()
	}
}

// Get returns the pair stored under the given key, if any.
func (h *Hash) Get(key HashKey) (HashPair, bool) {
	for e := h.buckets[h.bucketIndex(key)]; e != nil; e = e.next {
		if e.key == key {
			return e.pair, true
		}
	}
	return HashPair{}, false
}

// Len returns the number of entries in the hash.
func (h *Hash) Len() int { return h.size }

// Pairs returns all entries in bucket order. The order is stable for a
// given table state and is what serialization and iteration observe.
func (h *Hash) Pairs() []HashPair {
	pairs := make([]HashPair, 0, h.size)
	for _, e := range h.buckets {
		for ; e != nil; e = e.next {
			pairs = append(pairs, e.pair)
		}
	}
	return pairs
}

// grow doubles the bucket array and rehashes every entry.
func (h *Hash) grow() {
	old := h.buckets
	h.buckets = make([]*hashEntry, len(old)*2)
	for _, e := range old {
		for e != nil {
			next := e.next
			idx := h.bucketIndex(e.key)
			e.next = h.buckets[idx]
			h.buckets[idx] = e
			e = next
		}
	}
}

// Type returns the type of the object.
func (h *Hash) Type() Type { return HASH_OBJ }

// Inspect returns an opaque summary of the hash. Entry order is an
// implementation detail, so the contents are not rendered.
func (h *Hash) Inspect() string {
	return fmt.Sprintf("<hash with %d entries>", h.size)
}

// CompiledFunction represents a compiled piece of bytecode with its instructions, local variables, and parameters.
type CompiledFunction struct {
	// Represents the bytecode sequence of a compiled function.
	Instructions code.Instructions

	// NumLocals indicates the number of local variables used within the compiled function.
	NumLocals int

	// NumParameters specifies the number of parameters accepted by the compiled function.
	NumParameters int
}

// Type returns the object type of the compiled function, which is [COMPILED_FUNCTION_OBJ].
func (c *CompiledFunction) Type() Type { return COMPILED_FUNCTION_OBJ }

// Inspect returns a formatted string representation of the CompiledFunction instance, including its memory address.
func (c *CompiledFunction) Inspect() string { return fmt.Sprintf("CompiledFunction[%p]", c) }

// Closure represents a function and its free variables in a virtual machine's execution context.
type Closure struct {
	// Fn is a reference to the compiled function containing the bytecode and metadata for closure execution.
	Fn *CompiledFunction

	// Free holds the objects representing free variables captured by the closure for use during its execution.
	Free []Object
}

// Type returns the type of the object, specifically [CLOSURE_OBJ] for instances of Closure.
func (c *Closure) Type() Type { return CLOSURE_OBJ }

// Inspect returns a string representation of the Closure instance, including its memory address.
func (c *Closure) Inspect() string { return fmt.Sprintf("Closure[%p]", c) }
