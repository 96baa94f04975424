package keycache

import "testing"

func TestKeyDistinguishesSeparatorPlacement(t *testing.T) {
	tests := []struct {
		a, b [2]string
	}{
		{a: [2]string{"a|b", "c"}, b: [2]string{"a", "b|c"}},
		{a: [2]string{"1:a", "b"}, b: [2]string{"1", "a|b"}},
		{a: [2]string{"", "a|b"}, b: [2]string{"a", "b"}},
	}

	for _, tt := range tests {
		if Key(tt.a[0], tt.a[1]) == Key(tt.b[0], tt.b[1]) {
			t.Errorf("Key(%q, %q) == Key(%q, %q)", tt.a[0], tt.a[1], tt.b[0], tt.b[1])
		}
	}
}
