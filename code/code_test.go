package code

import (
	"bytes"
	"testing"
)

func TestMake(t *testing.T) {
	tests := []struct {
		op       Opcode
		operands []int
		expected []byte
	}{
		{OpConstant, []int{254}, []byte{byte(OpConstant), 254}},
		{OpJump, []int{65534}, []byte{byte(OpJump), 255, 254}},
		{OpInvoke, []int{1, 2}, []byte{byte(OpInvoke), 1, 2}},
		{OpAdd, []int{}, []byte{byte(OpAdd)}},
		{OpGetLocal, []int{255}, []byte{byte(OpGetLocal), 255}},
	}

	for _, tt := range tests {
		instruction := Make(tt.op, tt.operands...)
		if !bytes.Equal(instruction, tt.expected) {
			t.Errorf("Make(%d, %v) = %v, want %v", tt.op, tt.operands, instruction, tt.expected)
		}
	}
}

func TestReadOperands(t *testing.T) {
	tests := []struct {
		op        Opcode
		operands  []int
		bytesRead int
	}{
		{OpConstant, []int{255}, 1},
		{OpJump, []int{65535}, 2},
		{OpInvoke, []int{3, 4}, 2},
	}

	for _, tt := range tests {
		instruction := Make(tt.op, tt.operands...)
		def, err := Lookup(byte(tt.op))
		if err != nil {
			t.Fatalf("definition not found: %v", err)
		}
		operandsRead, n := ReadOperands(def, instruction[1:])
		if n != tt.bytesRead {
			t.Fatalf("n wrong. want=%d, got=%d", tt.bytesRead, n)
		}
		for i, want := range tt.operands {
			if operandsRead[i] != want {
				t.Errorf("operand wrong. want=%d, got=%d", want, operandsRead[i])
			}
		}
	}
}

func TestLookupUndefined(t *testing.T) {
	if _, err := Lookup(255); err == nil {
		t.Fatal("expected an error for an undefined opcode")
	}
}

func TestInstructionsString(t *testing.T) {
	var ins Instructions
	ins = append(ins, Make(OpAdd)...)
	ins = append(ins, Make(OpGetLocal, 1)...)
	ins = append(ins, Make(OpConstant, 2)...)
	ins = append(ins, Make(OpClosure, 4, 1)...)
	ins = append(ins, 1, 3) // the (is_local, index) pair trailing OpClosure
	ins = append(ins, Make(OpReturn)...)

	expected := `0000 OpAdd
0001 OpGetLocal 1
0003 OpConstant 2
0005 OpClosure 4 1
0010 OpReturn
`
	if ins.String() != expected {
		t.Errorf("instructions wrongly formatted.\nwant=%q\ngot=%q", expected, ins.String())
	}
}
