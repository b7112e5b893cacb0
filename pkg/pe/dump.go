package pe

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Hex renders as a 0x-prefixed hexadecimal string in YAML output.
type Hex uint64

func (h Hex) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("0x%x", uint64(h)), nil
}

func (h Hex) String() string {
	return fmt.Sprintf("0x%X", uint64(h))
}

type SectionInfo struct {
	Name            string   `yaml:"name"`
	VirtualAddress  Hex      `yaml:"virtual_address"`
	VirtualSize     Hex      `yaml:"virtual_size"`
	Characteristics []string `yaml:"characteristics,flow"`
}

type ImportInfo struct {
	Symbol string `yaml:"symbol"`
	Hint   uint16 `yaml:"hint,omitempty"`
	Slot   Hex    `yaml:"slot"`
}

type PdbInfo struct {
	Path string `yaml:"path"`
	// Guid is set for PDB 7.0 records only.
	Guid *GUID  `yaml:"guid,omitempty"`
	Age  uint32 `yaml:"age"`
	Key  string `yaml:"key"`
}

// Info is a serializable summary of an image.
type Info struct {
	Format           string                  `yaml:"format"`
	Machine          string                  `yaml:"machine"`
	Base             Hex                     `yaml:"base"`
	ImageBase        Hex                     `yaml:"image_base"`
	EntryPoint       Hex                     `yaml:"entry_point"`
	ImageSize        Hex                     `yaml:"image_size"`
	RoundedImageSize Hex                     `yaml:"rounded_image_size"`
	Sections         []SectionInfo           `yaml:"sections"`
	Exports          map[string]Hex          `yaml:"exports,omitempty"`
	Forwarders       map[string]string       `yaml:"forwarders,omitempty"`
	Imports          map[string][]ImportInfo `yaml:"imports,omitempty"`
	Pdb              []PdbInfo               `yaml:"pdb,omitempty"`
}

func (img *Image) formatName() string {
	if img.Is64() {
		return "PE32+"
	}
	return "PE32"
}

func (img *Image) machineName() string {
	if name, ok := MachineTypes[img.Machine()]; ok {
		return name
	}
	return "UNKNOWN"
}

// flagNames returns the names of the characteristics set in flags, sorted.
func flagNames(flags uint32) []string {
	var names []string
	for name, bit := range SectionCharacteristics {
		if flags&bit != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Info resolves exports, imports and debug information and summarizes the
// image.
func (img *Image) Info() Info {
	info := Info{
		Format:           img.formatName(),
		Machine:          img.machineName(),
		Base:             Hex(img.GetBase()),
		ImageBase:        Hex(img.GetImageBase()),
		EntryPoint:       Hex(img.GetEntryPoint()),
		ImageSize:        Hex(img.GetImageSize()),
		RoundedImageSize: Hex(img.GetRoundedImageSize()),
		Exports:          make(map[string]Hex),
		Forwarders:       img.GetForwarders(),
		Imports:          make(map[string][]ImportInfo),
	}
	for _, s := range img.sections {
		info.Sections = append(info.Sections, SectionInfo{
			Name:            s.NameString(),
			VirtualAddress:  Hex(s.VirtualAddress),
			VirtualSize:     Hex(s.VirtualSize),
			Characteristics: flagNames(s.Characteristics),
		})
	}
	for name, addr := range img.exportTable().byName {
		info.Exports[name] = Hex(addr)
	}
	for module, entries := range img.importTable().byModule {
		list := make([]ImportInfo, 0, len(entries))
		for _, e := range entries {
			list = append(list, ImportInfo{Symbol: e.Symbol.String(), Hint: e.Hint, Slot: Hex(e.Slot)})
		}
		info.Imports[module] = list
	}
	for _, d := range img.GetDebugInfo() {
		if key := d.SymbolServerKey(); key != "" {
			pdb := PdbInfo{Path: d.SymbolName, Key: key}
			switch {
			case d.InfoPdb70 != nil:
				guid := d.InfoPdb70.Signature
				pdb.Guid, pdb.Age = &guid, d.InfoPdb70.Age
			case d.InfoPdb20 != nil:
				pdb.Age = d.InfoPdb20.Age
			}
			info.Pdb = append(info.Pdb, pdb)
		}
	}
	return info
}

type dumper struct {
	w   io.Writer
	err error
}

func (d *dumper) printf(format string, args ...interface{}) {
	if d.err != nil {
		return
	}
	_, d.err = fmt.Fprintf(d.w, format, args...)
}

// DumpInfo writes a human readable description of the image to w. Exports
// are listed by address, forwarders and modules by name, and each module's
// imports in thunk order.
func (img *Image) DumpInfo(w io.Writer) error {
	d := &dumper{w: w}

	d.printf("[IMAGE]\n")
	d.printf("%-24s%s\n", "Format", img.formatName())
	d.printf("%-24s%s (0x%X)\n", "Machine", img.machineName(), img.Machine())
	d.printf("%-24s0x%X\n", "Base", img.GetBase())
	d.printf("%-24s0x%X\n", "ImageBase", img.GetImageBase())
	d.printf("%-24s0x%X\n", "EntryPoint", img.GetEntryPoint())
	d.printf("%-24s0x%X\n", "ImageSize", img.GetImageSize())
	d.printf("%-24s0x%X\n", "RoundedImageSize", img.GetRoundedImageSize())

	d.printf("\n[IMAGE_SECTION_HEADER]\n")
	for _, s := range img.sections {
		d.printf("%-8s\t0x%08X\t0x%08X\t%s\n", s.NameString(), s.VirtualAddress, s.VirtualSize,
			strings.Join(flagNames(s.Characteristics), " | "))
	}

	exports := img.exportTable()
	d.printf("\n[EXPORTS]\n")
	for _, sym := range exports.sorted {
		d.printf("0x%X\t%s\n", sym.addr, sym.name)
	}

	if len(exports.forwarders) > 0 {
		d.printf("\n[FORWARDERS]\n")
		names := make([]string, 0, len(exports.forwarders))
		for name := range exports.forwarders {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			d.printf("%s\t-> %s\n", name, exports.forwarders[name])
		}
	}

	imports := img.importTable()
	d.printf("\n[IMPORTS]\n")
	modules := make([]string, 0, len(imports.byModule))
	for module := range imports.byModule {
		modules = append(modules, module)
	}
	sort.Strings(modules)
	for _, module := range modules {
		d.printf("%s\n", module)
		for _, e := range imports.byModule[module] {
			d.printf("\t0x%X\t%s\n", e.Slot, e.Symbol)
		}
	}

	for _, dbg := range img.GetDebugInfo() {
		if key := dbg.SymbolServerKey(); key != "" {
			d.printf("\n[DEBUG]\n")
			d.printf("%-24s%s\n", "PdbPath", dbg.SymbolName)
			d.printf("%-24s%s\n", "SymbolServerKey", key)
		}
	}
	return d.err
}
