package object

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringHashKey(t *testing.T) {
	hello1 := &String{Value: "Hello World"}
	hello2 := &String{Value: "Hello World"}
	diff1 := &String{Value: "My name is johnny"}
	diff2 := &String{Value: "My name is johnny"}

	require.Equal(t, hello1.HashKey(), hello2.HashKey(), "strings with same content have different hash keys")
	require.Equal(t, diff1.HashKey(), diff2.HashKey(), "strings with same content have different hash keys")
	require.NotEqual(t, hello1.HashKey(), diff1.HashKey(), "strings with different content have same hash keys")
}

func TestBooleanIntegerHashKeys(t *testing.T) {
	require.Equal(t, (&Boolean{Value: true}).HashKey(), (&Boolean{Value: true}).HashKey())
	require.NotEqual(t, (&Boolean{Value: true}).HashKey(), (&Boolean{Value: false}).HashKey())

	require.Equal(t, (&Integer{Value: 7}).HashKey(), (&Integer{Value: 7}).HashKey())
	require.NotEqual(t, (&Integer{Value: 7}).HashKey(), (&Integer{Value: 8}).HashKey())

	// Keys of different types never collide, even with equal payloads.
	require.NotEqual(t, (&Integer{Value: 1}).HashKey(), (&Boolean{Value: true}).HashKey())
}

func TestHashSetGet(t *testing.T) {
	h := NewHash()

	key := &String{Value: "name"}
	h.Set(key.HashKey(), HashPair{Key: key, Value: &String{Value: "monkey"}})

	pair, ok := h.Get(key.HashKey())
	require.True(t, ok)
	require.Equal(t, "monkey", pair.Value.(*String).Value)

	// Overwriting replaces the pair without growing the hash.
	h.Set(key.HashKey(), HashPair{Key: key, Value: &String{Value: "gorilla"}})
	require.Equal(t, 1, h.Len())

	pair, ok = h.Get(key.HashKey())
	require.True(t, ok)
	require.Equal(t, "gorilla", pair.Value.(*String).Value)

	_, ok = h.Get((&String{Value: "missing"}).HashKey())
	require.False(t, ok)
}

// TestHashGrowth inserts well past the initial capacity and checks that
// every entry survives the rehashes.
func TestHashGrowth(t *testing.T) {
	h := NewHash()

	const n = 100
	for i := 0; i < n; i++ {
		key := &Integer{Value: int64(i)}
		h.Set(key.HashKey(), HashPair{Key: key, Value: &Integer{Value: int64(i * i)}})
	}

	require.Equal(t, n, h.Len())
	require.Len(t, h.Pairs(), n)

	for i := 0; i < n; i++ {
		key := &Integer{Value: int64(i)}
		pair, ok := h.Get(key.HashKey())
		require.True(t, ok, "entry %d lost after growth", i)
		require.Equal(t, int64(i*i), pair.Value.(*Integer).Value)
	}
}

func TestHashTypeCollision(t *testing.T) {
	h := NewHash()

	// Integer 1 and true share the same bucket index but differ in type;
	// both must be stored.
	intKey := &Integer{Value: 1}
	boolKey := &Boolean{Value: true}
	h.Set(intKey.HashKey(), HashPair{Key: intKey, Value: &String{Value: "int"}})
	h.Set(boolKey.HashKey(), HashPair{Key: boolKey, Value: &String{Value: "bool"}})

	require.Equal(t, 2, h.Len())

	pair, ok := h.Get(intKey.HashKey())
	require.True(t, ok)
	require.Equal(t, "int", pair.Value.(*String).Value)

	pair, ok = h.Get(boolKey.HashKey())
	require.True(t, ok)
	require.Equal(t, "bool", pair.Value.(*String).Value)
}

func TestInspect(t *testing.T) {
	require.Equal(t, "5", (&Integer{Value: 5}).Inspect())
	require.Equal(t, "true", (&Boolean{Value: true}).Inspect())
	require.Equal(t, "null", (&Null{}).Inspect())
	require.Equal(t, "monkey", (&String{Value: "monkey"}).Inspect())
	require.Equal(t, "ERROR: boom", (&Error{Message: "boom"}).Inspect())

	arr := &Array{Elements: []Object{
		&Integer{Value: 1},
		&String{Value: "two"},
		&Array{Elements: []Object{&Integer{Value: 3}}},
	}}
	require.Equal(t, "[1, two, [3]]", arr.Inspect())

	h := NewHash()
	for i := 0; i < 2; i++ {
		key := &Integer{Value: int64(i)}
		h.Set(key.HashKey(), HashPair{Key: key, Value: key})
	}
	require.Equal(t, "<hash with 2 entries>", h.Inspect())
}

func TestBuiltinsRegistryOrder(t *testing.T) {
	expected := []string{"len", "first", "last", "rest", "push", "puts"}

	require.Len(t, Builtins, len(expected))
	for i, name := range expected {
		require.Equal(t, name, Builtins[i].Name, "builtin %d", i)
	}

	for _, name := range expected {
		require.NotNil(t, GetBuiltinByName(name), fmt.Sprintf("builtin %s not found", name))
	}
	require.Nil(t, GetBuiltinByName("nope"))
}
