package pe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"maps"

	"github.com/mitchellh/copystructure"
	"go.uber.org/zap"

	"pemap/pkg/exe"
	"pemap/pkg/memview"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrTruncatedHeader  = errors.New("truncated header")
)

// ImageHeader is the decoded header set of a mapped image.
type ImageHeader struct {
	DosHeader      ImageDosHeader
	Signature      uint32
	FileHeader     ImageFileHeader
	OptionalHeader ImageOptionalHeader
}

// Is64 reports whether the image is PE32+.
func (h *ImageHeader) Is64() bool {
	return h.OptionalHeader.Magic == IMAGE_NT_OPTIONAL_HDR64_MAGIC
}

// DataDirectory returns directory entry i, or a zero entry if i is out of
// range.
func (h *ImageHeader) DataDirectory(i int) ImageDataDirectory {
	if i < 0 || i >= IMAGE_NUMBEROF_DIRECTORY_ENTRIES {
		return ImageDataDirectory{}
	}
	return h.OptionalHeader.DataDirectory[i]
}

func truncated(what string, addr uint64, err error) error {
	return fmt.Errorf("%s at 0x%x: %w: %w", what, addr, ErrTruncatedHeader, err)
}

// ParseHeaders decodes the DOS, NT, optional and section headers of the
// image mapped at base. The first read is always the 2-byte DOS magic, so
// a view that does not hold an MZ image is rejected after a single read.
func ParseHeaders(view memview.View, base uint64, opts ...Option) (*ImageHeader, []SectionHeader, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return parseHeaders(view, base, o.logger)
}

func parseHeaders(view memview.View, base uint64, logger *zap.Logger) (*ImageHeader, []SectionHeader, error) {
	hdr := new(ImageHeader)

	magic, err := memview.Uint16(view, base)
	if err != nil {
		return nil, nil, truncated("DOS magic", base, err)
	}
	if magic == IMAGE_DOSZM_SIGNATURE {
		return nil, nil, fmt.Errorf("probably a ZM Executable (not a PE file): %w", ErrInvalidSignature)
	}
	if magic != IMAGE_DOS_SIGNATURE {
		return nil, nil, fmt.Errorf("DOS Header magic not found (0x%04x): %w", magic, ErrInvalidSignature)
	}

	raw, err := view.Read(base, IMAGE_SIZEOF_DOS_HEADER)
	if err != nil {
		return nil, nil, truncated("DOS header", base, err)
	}
	hdr.DosHeader = decodeDosHeader(raw)

	ntAddr := base + uint64(int64(hdr.DosHeader.E_lfanew))
	if (hdr.DosHeader.E_lfanew >= 0) != (ntAddr >= base) {
		return nil, nil, fmt.Errorf("invalid e_lfanew value %d: %w", hdr.DosHeader.E_lfanew, ErrTruncatedHeader)
	}

	raw, err = view.Read(ntAddr, IMAGE_SIZEOF_NT_SIGNATURE+IMAGE_SIZEOF_FILE_HEADER)
	if err != nil {
		return nil, nil, truncated("NT headers", ntAddr, err)
	}
	hdr.Signature = binary.LittleEndian.Uint32(raw)
	switch hdr.Signature & 0xFFFF {
	case IMAGE_NE_SIGNATURE:
		return nil, nil, fmt.Errorf("invalid NT Headers signature (probably a NE file): %w", ErrInvalidSignature)
	case IMAGE_LE_SIGNATURE:
		return nil, nil, fmt.Errorf("invalid NT Headers signature (probably a LE file): %w", ErrInvalidSignature)
	case IMAGE_LX_SIGNATURE:
		return nil, nil, fmt.Errorf("invalid NT Headers signature (probably a LX file): %w", ErrInvalidSignature)
	case IMAGE_TE_SIGNATURE:
		return nil, nil, fmt.Errorf("invalid NT Headers signature (probably a TE file): %w", ErrInvalidSignature)
	}
	if hdr.Signature != IMAGE_NT_SIGNATURE {
		return nil, nil, fmt.Errorf("invalid NT headers signature 0x%08x: %w", hdr.Signature, ErrInvalidSignature)
	}
	hdr.FileHeader = decodeFileHeader(raw[IMAGE_SIZEOF_NT_SIGNATURE:])

	optAddr := ntAddr + IMAGE_SIZEOF_NT_SIGNATURE + IMAGE_SIZEOF_FILE_HEADER
	optMagic, err := memview.Uint16(view, optAddr)
	if err != nil {
		return nil, nil, truncated("optional header", optAddr, err)
	}
	fixed := optionalHeaderSize(optMagic)
	if fixed == 0 {
		return nil, nil, fmt.Errorf("no optional header found, magic 0x%x - invalid PE32 or PE32+ file: %w", optMagic, ErrInvalidSignature)
	}
	raw, err = view.Read(optAddr, uint64(fixed))
	if err != nil {
		return nil, nil, truncated("optional header", optAddr, err)
	}
	hdr.OptionalHeader = decodeOptionalHeader(raw)

	numDirs := hdr.OptionalHeader.NumberOfRvaAndSizes
	if numDirs > IMAGE_NUMBEROF_DIRECTORY_ENTRIES {
		logger.Warn("Suspicious NumberOfRvaAndSizes in the Optional Header, normal values are never larger than 16",
			zap.Uint32("NumberOfRvaAndSizes", numDirs))
		numDirs = IMAGE_NUMBEROF_DIRECTORY_ENTRIES
	}
	if dirsEnd := uint32(fixed) + numDirs*IMAGE_SIZEOF_DATA_DIRECTORY; dirsEnd > uint32(hdr.FileHeader.SizeOfOptionalHeader) {
		logger.Warn("data directories extend past SizeOfOptionalHeader",
			zap.Uint16("SizeOfOptionalHeader", hdr.FileHeader.SizeOfOptionalHeader),
			zap.Uint32("end", dirsEnd))
	}
	if numDirs > 0 {
		dirAddr := optAddr + uint64(fixed)
		raw, err = view.Read(dirAddr, uint64(numDirs)*IMAGE_SIZEOF_DATA_DIRECTORY)
		if err != nil {
			return nil, nil, truncated("data directories", dirAddr, err)
		}
		for i := uint32(0); i < numDirs; i++ {
			hdr.OptionalHeader.DataDirectory[i] = decodeDataDirectory(raw[i*IMAGE_SIZEOF_DATA_DIRECTORY:])
		}
	}

	sections, err := parseSections(view, optAddr+uint64(hdr.FileHeader.SizeOfOptionalHeader), hdr.FileHeader.NumberOfSections)
	if err != nil {
		return nil, nil, err
	}

	if ep := hdr.OptionalHeader.AddressOfEntryPoint; ep != 0 && sectionByRva(sections, ep) == nil {
		logger.Warn("AddressOfEntryPoint lies outside the section boundaries", zap.Uint32("AddressOfEntryPoint", ep))
	}

	return hdr, sections, nil
}

func parseSections(view memview.View, addr uint64, count uint16) ([]SectionHeader, error) {
	if count == 0 {
		return nil, nil
	}
	raw, err := view.Read(addr, uint64(count)*IMAGE_SIZEOF_SECTION_HEADER)
	if err != nil {
		return nil, truncated("section table", addr, err)
	}
	sections := make([]SectionHeader, count)
	for i := range sections {
		sections[i] = decodeSectionHeader(raw[i*IMAGE_SIZEOF_SECTION_HEADER:])
	}
	return sections, nil
}

func sectionByRva(sections []SectionHeader, rva uint32) *SectionHeader {
	for i := range sections {
		if sections[i].Contains(rva) {
			return &sections[i]
		}
	}
	return nil
}

// Image is a PE image already mapped into a memory view. Headers are parsed
// eagerly by New; export, import and debug tables are resolved on first use
// and cached for the lifetime of the Image.
type Image struct {
	view     memview.View
	base     uint64
	header   *ImageHeader
	sections []SectionHeader
	opts     options

	exports lazy[*exportTable]
	imports lazy[*importTable]
	debug   lazy[[]DebugDirectory]
}

var _ exe.Executable = (*Image)(nil)

// New parses the headers of the image mapped at base in view.
func New(view memview.View, base uint64, opts ...Option) (*Image, error) {
	img := &Image{
		view: view,
		base: base,
		opts: defaultOptions(),
	}
	for _, opt := range opts {
		opt(&img.opts)
	}
	img.opts.logger = img.opts.logger.With(zap.String("image", fmt.Sprintf("0x%x", base)))

	var err error
	img.header, img.sections, err = parseHeaders(view, base, img.opts.logger)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// GetBase returns the address the image is mapped at.
func (img *Image) GetBase() uint64 {
	return img.base
}

// GetImageBase returns the preferred load address from the optional header.
func (img *Image) GetImageBase() uint64 {
	return img.header.OptionalHeader.ImageBase
}

func (img *Image) GetImageSize() uint64 {
	return uint64(img.header.OptionalHeader.SizeOfImage)
}

func (img *Image) GetRoundedImageSize() uint64 {
	return RoundedImageSize(img.GetImageSize())
}

// GetEntryPoint returns the absolute entry point address.
func (img *Image) GetEntryPoint() uint64 {
	return img.base + uint64(img.header.OptionalHeader.AddressOfEntryPoint)
}

func (img *Image) Is64() bool {
	return img.header.Is64()
}

func (img *Image) Machine() uint16 {
	return img.header.FileHeader.Machine
}

// GetHeader returns a copy of the decoded headers.
func (img *Image) GetHeader() ImageHeader {
	return *img.header
}

// GetSections returns a copy of the section table in header order.
func (img *Image) GetSections() []SectionHeader {
	return append([]SectionHeader(nil), img.sections...)
}

func (img *Image) exportTable() *exportTable {
	return img.exports.get(img.parseExportDirectory)
}

func (img *Image) importTable() *importTable {
	return img.imports.get(img.parseImportDirectory)
}

// GetExports returns the named exports mapped to absolute addresses.
// Forwarded exports are not included; see GetForwarders.
func (img *Image) GetExports() map[string]uint64 {
	return maps.Clone(img.exportTable().byName)
}

// GetExportOrdinals returns every exported function by ordinal, named or
// not.
func (img *Image) GetExportOrdinals() map[uint16]uint64 {
	return maps.Clone(img.exportTable().byOrdinal)
}

// GetForwarders returns forwarded exports mapped to their forwarder
// strings, such as "NTDLL.RtlAllocateHeap".
func (img *Image) GetForwarders() map[string]string {
	return maps.Clone(img.exportTable().forwarders)
}

// LookupExport returns the address of the named export.
func (img *Image) LookupExport(name string) (uint64, bool) {
	addr, ok := img.exportTable().byName[name]
	return addr, ok
}

// SymbolAt returns the closest named export at or below addr together with
// the offset of addr from it. Addresses outside the image never resolve.
func (img *Image) SymbolAt(addr uint64) (string, uint64, bool) {
	if addr < img.base || addr >= img.base+img.GetImageSize() {
		return "", 0, false
	}
	return img.exportTable().symbolAt(addr)
}

// GetImports returns imported symbols grouped by module name.
func (img *Image) GetImports() map[string][]exe.ImportEntry {
	return copystructure.Must(copystructure.Copy(img.importTable().byModule)).(map[string][]exe.ImportEntry)
}

// GetImportIndex returns imported symbols keyed by name across all modules.
// When two modules import the same name the module whose import descriptor
// comes first is kept. Ordinal imports are indexed under their well-known
// name where one is known.
func (img *Image) GetImportIndex() map[string]exe.ImportEntry {
	return maps.Clone(img.importTable().index)
}

// LookupImport returns the import entry for name.
func (img *Image) LookupImport(name string) (exe.ImportEntry, bool) {
	entry, ok := img.importTable().index[name]
	return entry, ok
}

// GetDebugInfo returns the decoded debug directory entries.
func (img *Image) GetDebugInfo() []DebugDirectory {
	return append([]DebugDirectory(nil), img.debug.get(img.parseDebugDirectory)...)
}

func (img *Image) ExportsState() CacheState {
	return img.exports.State()
}

func (img *Image) ImportsState() CacheState {
	return img.imports.State()
}
