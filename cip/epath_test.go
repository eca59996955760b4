package cip

import "testing"

func TestEPath_ClassInstanceAttribute(t *testing.T) {
	path, err := EPath().Class(0x04).Instance(100).Attribute(3).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x20, 0x04, 0x24, 0x64, 0x30, 0x03}
	if string(path) != string(want) {
		t.Errorf("got % X, want % X", []byte(path), want)
	}
}

func TestEPath_Instance16(t *testing.T) {
	path, err := EPath().Class(0x04).Instance16(300).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 16-bit logical segment requires a pad byte before the value.
	want := []byte{0x20, 0x04, 0x25, 0x00, 0x2C, 0x01}
	if string(path) != string(want) {
		t.Errorf("got % X, want % X", []byte(path), want)
	}
}

func TestEPath_ConnectionPoint_8bitVs16bit(t *testing.T) {
	small, err := EPath().ConnectionPoint(100).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(small) != 2 {
		t.Errorf("expected 2-byte 8-bit connection point segment, got % X", []byte(small))
	}

	large, err := EPath().ConnectionPoint(300).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(large) != 4 {
		t.Errorf("expected 4-byte 16-bit connection point segment (with pad), got % X", []byte(large))
	}
}

func TestEPath_Symbol_Simple(t *testing.T) {
	path, err := EPath().Symbol("Counter").Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x91, 0x07, 'C', 'o', 'u', 'n', 't', 'e', 'r', 0x00}
	if string(path) != string(want) {
		t.Errorf("got % X, want % X", []byte(path), want)
	}
}

func TestEPath_Symbol_DottedPath(t *testing.T) {
	path, err := EPath().Symbol("Program:MainProgram.MyTag").Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The colon must NOT split the first segment; the dot must split it from MyTag.
	wantFirst := []byte{0x91, byte(len("Program:MainProgram"))}
	if len(path) < len(wantFirst) || string(path[:2]) != string(wantFirst) {
		t.Errorf("expected first symbolic segment to keep the colon intact, got % X", []byte(path))
	}
}

func TestEPath_Symbol_ArrayIndex(t *testing.T) {
	path, err := EPath().Symbol("MyArray[5]").Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Expect a symbolic segment for "MyArray" followed by an 8-bit member segment for index 5.
	if len(path) == 0 || path[0] != 0x91 {
		t.Fatalf("expected symbolic segment first, got % X", []byte(path))
	}
	last := path[len(path)-2:]
	want := []byte{0x28, 0x05}
	if string(last) != string(want) {
		t.Errorf("expected trailing member segment % X, got % X", want, last)
	}
}

func TestEPath_Symbol_BitAccessTailDropped(t *testing.T) {
	path, err := EPath().Symbol("MyDINT.5").Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The ".5" bit-access tail must not become its own ASCII symbolic
	// segment; the path should contain only the "MyDINT" symbol.
	want := []byte{0x91, byte(len("MyDINT")), 'M', 'y', 'D', 'I', 'N', 'T'}
	if string(path) != string(want) {
		t.Errorf("got % X, want % X", []byte(path), want)
	}
}

func TestEPath_Symbol_LongNumericTailKept(t *testing.T) {
	path, err := EPath().Symbol("MyTag.123").Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A 3+ digit numeric segment is not bit-access syntax and must still
	// be encoded as a symbolic segment for "123".
	want := []byte{0x91, 0x03, '1', '2', '3', 0x00}
	if len(path) < len(want) || string(path[len(path)-len(want):]) != string(want) {
		t.Errorf("expected trailing symbolic segment % X, got % X", want, []byte(path))
	}
}

func TestEPath_Symbol_EmptyRejected(t *testing.T) {
	_, err := EPath().Symbol("").Build()
	if err == nil {
		t.Error("expected error for empty tag path")
	}
}

func TestEPath_WordLen(t *testing.T) {
	path, err := EPath().Class(0x04).Instance(1).Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := path.WordLen(); got != byte(len(path)/2) {
		t.Errorf("WordLen() = %d, want %d", got, len(path)/2)
	}
}

func TestEPath_BuilderErrorShortCircuits(t *testing.T) {
	b := EPath()
	// force an error via a malformed 16-bit attribute value is not exposed directly,
	// so instead verify that an error from Symbol("") is sticky across further calls.
	b = b.Symbol("")
	_, err := b.Class(0x04).Build()
	if err == nil {
		t.Error("expected sticky builder error to propagate past subsequent calls")
	}
}
