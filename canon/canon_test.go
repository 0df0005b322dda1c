package canon

import "testing"

func TestWriterDeterministic(t *testing.T) {
	build := func() []byte {
		var w Writer
		w.Object([]string{"a", "b"}, func(i int) {
			switch i {
			case 0:
				w.Str("hello")
			case 1:
				w.Int(42)
			}
		})
		return w.Bytes()
	}
	a := build()
	b := build()
	if string(a) != string(b) {
		t.Fatalf("same input produced different output: %q vs %q", a, b)
	}
}

func TestWriterFieldOrderMatters(t *testing.T) {
	var w1 Writer
	w1.Object([]string{"a", "b"}, func(i int) {
		if i == 0 {
			w1.Int(1)
		} else {
			w1.Int(2)
		}
	})

	var w2 Writer
	w2.Object([]string{"b", "a"}, func(i int) {
		if i == 0 {
			w2.Int(2)
		} else {
			w2.Int(1)
		}
	})

	if w1.String() == w2.String() {
		t.Fatal("differently-ordered field names must not canonicalize to the same bytes")
	}
}

func TestWriterStringEscaping(t *testing.T) {
	var w Writer
	w.Str("line\nbreak\"quote\\slash")
	got := w.String()
	want := `"line\nbreak\"quote\\slash"`
	if got != want {
		t.Fatalf("Str escaping: got %s want %s", got, want)
	}
}

func TestWriterArray(t *testing.T) {
	var w Writer
	vals := []int64{1, 2, 3}
	w.Array(len(vals), func(i int) {
		w.Int(vals[i])
	})
	if got, want := w.String(), "[1,2,3]"; got != want {
		t.Fatalf("Array: got %s want %s", got, want)
	}
}

func TestWriterEmptyArray(t *testing.T) {
	var w Writer
	w.Array(0, func(i int) {})
	if got, want := w.String(), "[]"; got != want {
		t.Fatalf("empty Array: got %s want %s", got, want)
	}
}
