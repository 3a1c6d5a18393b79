package lightify

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAddressFromBytes(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		wantErr bool
	}{
		{"eight bytes", []byte{1, 2, 3, 4, 5, 6, 7, 8}, false},
		{"seven bytes", []byte{1, 2, 3, 4, 5, 6, 7}, true},
		{"nine bytes", []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}, true},
		{"empty", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := AddressFromBytes(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Fatalf("AddressFromBytes() error = %v, want ErrInvalidAddress", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AddressFromBytes() error = %v", err)
			}
			if a != (Address{1, 2, 3, 4, 5, 6, 7, 8}) {
				t.Errorf("AddressFromBytes() = %v", a)
			}
		})
	}
}

func TestAddressFromBytesDoesNotAlias(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	a, err := AddressFromBytes(raw)
	if err != nil {
		t.Fatalf("AddressFromBytes() error = %v", err)
	}
	raw[0] = 0xFF
	if a[0] != 1 {
		t.Error("Address shares storage with its source slice")
	}
}

func TestParseAddress(t *testing.T) {
	want := Address{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0xAB}
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"plain", "01020304050607ab", false},
		{"upper", "01020304050607AB", false},
		{"colons", "01:02:03:04:05:06:07:ab", false},
		{"spaces", "01 02 03 04 05 06 07 ab", false},
		{"short", "010203", true},
		{"not hex", "zz020304050607ab", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Fatalf("ParseAddress(%q) error = %v, want ErrInvalidAddress", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) error = %v", tt.in, err)
			}
			if got != want {
				t.Errorf("ParseAddress(%q) = %v, want %v", tt.in, got, want)
			}
		})
	}
}

func TestAddressString(t *testing.T) {
	a := Address{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0xAB}
	if got := a.String(); got != "01020304050607ab" {
		t.Errorf("String() = %q", got)
	}
}

func TestAddressAsMapKey(t *testing.T) {
	m := map[Address]string{}
	a, _ := AddressFromBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	b, _ := AddressFromBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	m[a] = "first"
	m[b] = "second"

	if len(m) != 1 {
		t.Fatalf("map has %d entries, want 1 for equal content", len(m))
	}
	if m[a] != "second" {
		t.Errorf("m[a] = %q, want %q", m[a], "second")
	}
}

func TestAddressJSON(t *testing.T) {
	in := struct {
		Addr Address `json:"addr"`
	}{Addr: Address{0xde, 0xad, 0xbe, 0xef, 0, 0, 0, 1}}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"addr":"deadbeef00000001"}` {
		t.Errorf("Marshal() = %s", data)
	}

	var out struct {
		Addr Address `json:"addr"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.Addr != in.Addr {
		t.Errorf("Unmarshal() = %v, want %v", out.Addr, in.Addr)
	}
}

func TestCompareAddress(t *testing.T) {
	lo := Address{0, 0, 0, 0, 0, 0, 0, 1}
	hi := Address{0, 0, 0, 0, 0, 0, 1, 0}
	if compareAddress(lo, hi) >= 0 {
		t.Error("compareAddress(lo, hi) should be negative")
	}
	if compareAddress(hi, lo) <= 0 {
		t.Error("compareAddress(hi, lo) should be positive")
	}
	if compareAddress(lo, lo) != 0 {
		t.Error("compareAddress(lo, lo) should be zero")
	}
}
