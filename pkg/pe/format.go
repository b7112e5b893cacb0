package pe

import (
	"pemap/pkg/exe"
	"pemap/pkg/memview"
)

// FormatName is the name the PE format is registered under.
const FormatName = "pe"

func init() {
	exe.RegisterFormat(exe.Format{
		Name:  FormatName,
		Probe: probe,
		Open: func(view memview.View, base uint64) (exe.Executable, error) {
			return New(view, base)
		},
	})
}

func probe(view memview.View, base uint64) bool {
	magic, err := memview.Uint16(view, base)
	return err == nil && magic == IMAGE_DOS_SIGNATURE
}
