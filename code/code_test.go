package code

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	tests := []struct {
		op       Opcode
		operands []int
		expected []byte
	}{
		{OpConstant, []int{65534}, []byte{byte(OpConstant), 255, 254}},
		{OpAdd, []int{}, []byte{byte(OpAdd)}},
		{OpGetLocal, []int{255}, []byte{byte(OpGetLocal), 255}},
		{OpClosure, []int{65534, 255}, []byte{byte(OpClosure), 255, 254, 255}},
	}

	for _, tt := range tests {
		instruction := Make(tt.op, tt.operands...)
		require.Equal(t, tt.expected, instruction)
	}
}

// TestReadOperands checks the encode/decode roundtrip: decoding what Make
// produced yields the original operands and consumes exactly the defined
// widths.
func TestReadOperands(t *testing.T) {
	tests := []struct {
		op        Opcode
		operands  []int
		bytesRead int
	}{
		{OpConstant, []int{65535}, 2},
		{OpGetLocal, []int{255}, 1},
		{OpGetBuiltin, []int{5}, 1},
		{OpGetFree, []int{42}, 1},
		{OpJump, []int{12345}, 2},
		{OpClosure, []int{65535, 255}, 3},
	}

	for _, tt := range tests {
		instruction := Make(tt.op, tt.operands...)

		def, err := Lookup(byte(tt.op))
		require.NoError(t, err)

		operandsRead, n := ReadOperands(def, instruction[1:])
		require.Equal(t, tt.bytesRead, n)
		require.Equal(t, tt.operands, operandsRead)
	}
}

func TestInstructionsString(t *testing.T) {
	instructions := []Instructions{
		Make(OpAdd),
		Make(OpGetLocal, 1),
		Make(OpConstant, 2),
		Make(OpConstant, 65535),
		Make(OpClosure, 65535, 255),
	}

	expected := `0000 OpAdd
0001 OpGetLocal 1
0003 OpConstant 2
0006 OpConstant 65535
0009 OpClosure 65535 255
`

	concatted := Instructions{}
	for _, ins := range instructions {
		concatted = append(concatted, ins...)
	}

	require.Equal(t, expected, concatted.String())
}

func TestLookupUndefinedOpcode(t *testing.T) {
	_, err := Lookup(255)
	require.Error(t, err)
}
