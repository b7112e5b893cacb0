package pe

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"strings"
)

// GUID is the Windows in-memory GUID layout. CodeView records store it
// little-endian in the first three fields.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

var _ = (encoding.TextMarshaler)(GUID{})

// GuidFromWindowsArray constructs a GUID from its Windows encoding.
func GuidFromWindowsArray(b [16]byte) GUID {
	var g GUID
	g.Data1 = binary.LittleEndian.Uint32(b[0:4])
	g.Data2 = binary.LittleEndian.Uint16(b[4:6])
	g.Data3 = binary.LittleEndian.Uint16(b[6:8])
	copy(g.Data4[:], b[8:16])
	return g
}

// ToWindowsArray returns the GUID in Windows encoding.
func (g GUID) ToWindowsArray() [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint32(b[0:4], g.Data1)
	binary.LittleEndian.PutUint16(b[4:6], g.Data2)
	binary.LittleEndian.PutUint16(b[6:8], g.Data3)
	copy(b[8:16], g.Data4[:])
	return b
}

// ToString formats the GUID using one of the .NET format specifiers "N",
// "D", "B", "P" or "X". An empty format means "D".
func (g GUID) ToString(format string) (string, error) {
	d := fmt.Sprintf("%08x-%04x-%04x-%04x-%012x", g.Data1, g.Data2, g.Data3, g.Data4[:2], g.Data4[2:])
	switch format {
	case "", "D":
		return d, nil
	case "N":
		return strings.ReplaceAll(d, "-", ""), nil
	case "B":
		return "{" + d + "}", nil
	case "P":
		return "(" + d + ")", nil
	case "X":
		var sb strings.Builder
		fmt.Fprintf(&sb, "{0x%08x,0x%04x,0x%04x,{", g.Data1, g.Data2, g.Data3)
		for i, b := range g.Data4 {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "0x%02x", b)
		}
		sb.WriteString("}}")
		return sb.String(), nil
	}
	return "", fmt.Errorf("invalid GUID format %q", format)
}

func (g GUID) String() string {
	s, _ := g.ToString("")
	return s
}

func (g GUID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}
