package pe

import (
	"encoding/binary"
	"strings"
)

// Layouts are decoded field by field from little-endian byte slices. Every
// decode function expects a slice of at least the matching IMAGE_SIZEOF_*
// length; callers read exactly that many bytes first.

//noinspection GoSnakeCaseUsage
const (
	IMAGE_DOS_SIGNATURE   = 0x5A4D // MZ
	IMAGE_DOSZM_SIGNATURE = 0x4D5A // ZM
	IMAGE_NT_SIGNATURE    = 0x00004550
	IMAGE_NE_SIGNATURE    = 0x454E
	IMAGE_LE_SIGNATURE    = 0x454C
	IMAGE_LX_SIGNATURE    = 0x584C
	IMAGE_TE_SIGNATURE    = 0x5A56

	IMAGE_NT_OPTIONAL_HDR32_MAGIC = 0x10b
	IMAGE_NT_OPTIONAL_HDR64_MAGIC = 0x20b

	IMAGE_SIZEOF_DOS_HEADER            = 64
	IMAGE_SIZEOF_FILE_HEADER           = 20
	IMAGE_SIZEOF_NT_SIGNATURE          = 4
	IMAGE_SIZEOF_OPTIONAL_HEADER32     = 96 // without data directories
	IMAGE_SIZEOF_OPTIONAL_HEADER64     = 112
	IMAGE_SIZEOF_DATA_DIRECTORY        = 8
	IMAGE_SIZEOF_SHORT_NAME            = 8
	IMAGE_SIZEOF_SECTION_HEADER        = 40
	IMAGE_SIZEOF_EXPORT_DIRECTORY      = 40
	IMAGE_SIZEOF_IMPORT_DESCRIPTOR     = 20
	IMAGE_SIZEOF_DEBUG_DIRECTORY       = 28
	IMAGE_NUMBEROF_DIRECTORY_ENTRIES   = 16
	IMAGE_SIZEOF_THUNK_DATA32          = 4
	IMAGE_SIZEOF_THUNK_DATA64          = 8
	IMAGE_ORDINAL_FLAG32               = 0x80000000
	IMAGE_ORDINAL_FLAG64               = 0x8000000000000000
	IMAGE_DEBUG_TYPE_CODEVIEW          = 2
	CV_PDB_70_SIGNATURE                = 0x53445352 // "RSDS"
	CV_PDB_20_SIGNATURE                = 0x3031424E // "NB10"
	CV_SIZEOF_PDB70_HEADER             = 24
	CV_SIZEOF_PDB20_HEADER             = 16
	IMAGE_FILE_MACHINE_I386            = 0x014c
	IMAGE_FILE_MACHINE_ARMNT           = 0x01c4
	IMAGE_FILE_MACHINE_IA64            = 0x0200
	IMAGE_FILE_MACHINE_AMD64           = 0x8664
	IMAGE_FILE_MACHINE_ARM64           = 0xaa64
	IMAGE_DIRECTORY_ENTRY_EXPORT       = 0
	IMAGE_DIRECTORY_ENTRY_IMPORT       = 1
	IMAGE_DIRECTORY_ENTRY_RESOURCE     = 2
	IMAGE_DIRECTORY_ENTRY_EXCEPTION    = 3
	IMAGE_DIRECTORY_ENTRY_SECURITY     = 4
	IMAGE_DIRECTORY_ENTRY_BASERELOC    = 5
	IMAGE_DIRECTORY_ENTRY_DEBUG        = 6
	IMAGE_DIRECTORY_ENTRY_ARCHITECTURE = 7
	IMAGE_DIRECTORY_ENTRY_GLOBALPTR    = 8
	IMAGE_DIRECTORY_ENTRY_TLS          = 9
	IMAGE_DIRECTORY_ENTRY_LOAD_CONFIG  = 10
	IMAGE_DIRECTORY_ENTRY_BOUND_IMPORT = 11
	IMAGE_DIRECTORY_ENTRY_IAT          = 12
	IMAGE_DIRECTORY_ENTRY_DELAY_IMPORT = 13
	IMAGE_DIRECTORY_ENTRY_COM          = 14
)

var DirectoryEntryTypes = map[int]string{
	IMAGE_DIRECTORY_ENTRY_EXPORT:       "IMAGE_DIRECTORY_ENTRY_EXPORT",
	IMAGE_DIRECTORY_ENTRY_IMPORT:       "IMAGE_DIRECTORY_ENTRY_IMPORT",
	IMAGE_DIRECTORY_ENTRY_RESOURCE:     "IMAGE_DIRECTORY_ENTRY_RESOURCE",
	IMAGE_DIRECTORY_ENTRY_EXCEPTION:    "IMAGE_DIRECTORY_ENTRY_EXCEPTION",
	IMAGE_DIRECTORY_ENTRY_SECURITY:     "IMAGE_DIRECTORY_ENTRY_SECURITY",
	IMAGE_DIRECTORY_ENTRY_BASERELOC:    "IMAGE_DIRECTORY_ENTRY_BASERELOC",
	IMAGE_DIRECTORY_ENTRY_DEBUG:        "IMAGE_DIRECTORY_ENTRY_DEBUG",
	IMAGE_DIRECTORY_ENTRY_ARCHITECTURE: "IMAGE_DIRECTORY_ENTRY_ARCHITECTURE",
	IMAGE_DIRECTORY_ENTRY_GLOBALPTR:    "IMAGE_DIRECTORY_ENTRY_GLOBALPTR",
	IMAGE_DIRECTORY_ENTRY_TLS:          "IMAGE_DIRECTORY_ENTRY_TLS",
	IMAGE_DIRECTORY_ENTRY_LOAD_CONFIG:  "IMAGE_DIRECTORY_ENTRY_LOAD_CONFIG",
	IMAGE_DIRECTORY_ENTRY_BOUND_IMPORT: "IMAGE_DIRECTORY_ENTRY_BOUND_IMPORT",
	IMAGE_DIRECTORY_ENTRY_IAT:          "IMAGE_DIRECTORY_ENTRY_IAT",
	IMAGE_DIRECTORY_ENTRY_DELAY_IMPORT: "IMAGE_DIRECTORY_ENTRY_DELAY_IMPORT",
	IMAGE_DIRECTORY_ENTRY_COM:          "IMAGE_DIRECTORY_ENTRY_COM_DESCRIPTOR",
}

var MachineTypes = map[uint16]string{
	IMAGE_FILE_MACHINE_I386:  "I386",
	IMAGE_FILE_MACHINE_ARMNT: "ARMNT",
	IMAGE_FILE_MACHINE_IA64:  "IA64",
	IMAGE_FILE_MACHINE_AMD64: "AMD64",
	IMAGE_FILE_MACHINE_ARM64: "ARM64",
}

var SectionCharacteristics = map[string]uint32{
	"IMAGE_SCN_CNT_CODE":               0x00000020,
	"IMAGE_SCN_CNT_INITIALIZED_DATA":   0x00000040,
	"IMAGE_SCN_CNT_UNINITIALIZED_DATA": 0x00000080,
	"IMAGE_SCN_MEM_DISCARDABLE":        0x02000000,
	"IMAGE_SCN_MEM_SHARED":             0x10000000,
	"IMAGE_SCN_MEM_EXECUTE":            0x20000000,
	"IMAGE_SCN_MEM_READ":               0x40000000,
	"IMAGE_SCN_MEM_WRITE":              0x80000000,
}

// DOS Header
//
//noinspection GoSnakeCaseUsage
type ImageDosHeader struct {
	E_magic    uint16
	E_cblp     uint16
	E_cp       uint16
	E_crlc     uint16
	E_cparhdr  uint16
	E_minalloc uint16
	E_maxalloc uint16
	E_ss       uint16
	E_sp       uint16
	E_csum     uint16
	E_ip       uint16
	E_cs       uint16
	E_lfarlc   uint16
	E_ovno     uint16
	E_res      [4]uint16
	E_oemid    uint16
	E_oeminfo  uint16
	E_res2     [10]uint16
	E_lfanew   int32
}

func decodeDosHeader(b []byte) (h ImageDosHeader) {
	le := binary.LittleEndian
	h.E_magic = le.Uint16(b[0:])
	h.E_cblp = le.Uint16(b[2:])
	h.E_cp = le.Uint16(b[4:])
	h.E_crlc = le.Uint16(b[6:])
	h.E_cparhdr = le.Uint16(b[8:])
	h.E_minalloc = le.Uint16(b[10:])
	h.E_maxalloc = le.Uint16(b[12:])
	h.E_ss = le.Uint16(b[14:])
	h.E_sp = le.Uint16(b[16:])
	h.E_csum = le.Uint16(b[18:])
	h.E_ip = le.Uint16(b[20:])
	h.E_cs = le.Uint16(b[22:])
	h.E_lfarlc = le.Uint16(b[24:])
	h.E_ovno = le.Uint16(b[26:])
	for i := range h.E_res {
		h.E_res[i] = le.Uint16(b[28+2*i:])
	}
	h.E_oemid = le.Uint16(b[36:])
	h.E_oeminfo = le.Uint16(b[38:])
	for i := range h.E_res2 {
		h.E_res2[i] = le.Uint16(b[40+2*i:])
	}
	h.E_lfanew = int32(le.Uint32(b[60:]))
	return h
}

// File Header
type ImageFileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

func decodeFileHeader(b []byte) (h ImageFileHeader) {
	le := binary.LittleEndian
	h.Machine = le.Uint16(b[0:])
	h.NumberOfSections = le.Uint16(b[2:])
	h.TimeDateStamp = le.Uint32(b[4:])
	h.PointerToSymbolTable = le.Uint32(b[8:])
	h.NumberOfSymbols = le.Uint32(b[12:])
	h.SizeOfOptionalHeader = le.Uint16(b[16:])
	h.Characteristics = le.Uint16(b[18:])
	return h
}

// Data directory
type ImageDataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// Contains reports whether rva falls inside the directory's range.
func (d ImageDataDirectory) Contains(rva uint32) bool {
	return rva >= d.VirtualAddress && uint64(rva) < uint64(d.VirtualAddress)+uint64(d.Size)
}

func decodeDataDirectory(b []byte) ImageDataDirectory {
	return ImageDataDirectory{
		VirtualAddress: binary.LittleEndian.Uint32(b[0:]),
		Size:           binary.LittleEndian.Uint32(b[4:]),
	}
}

// ImageOptionalHeader holds the optional header of both PE32 and PE32+
// images. Fields that are 32 bits wide in PE32 are widened; BaseOfData only
// exists in PE32 and stays zero for PE32+.
type ImageOptionalHeader struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	BaseOfData                  uint32
	ImageBase                   uint64
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint64
	SizeOfStackCommit           uint64
	SizeOfHeapReserve           uint64
	SizeOfHeapCommit            uint64
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
	DataDirectory               [IMAGE_NUMBEROF_DIRECTORY_ENTRIES]ImageDataDirectory
}

// optionalHeaderSize returns the size of the fixed part of the optional
// header for magic, or 0 if magic is not a PE32/PE32+ magic.
func optionalHeaderSize(magic uint16) int {
	switch magic {
	case IMAGE_NT_OPTIONAL_HDR32_MAGIC:
		return IMAGE_SIZEOF_OPTIONAL_HEADER32
	case IMAGE_NT_OPTIONAL_HDR64_MAGIC:
		return IMAGE_SIZEOF_OPTIONAL_HEADER64
	}
	return 0
}

// decodeOptionalHeader decodes the fixed part of the optional header. The
// layout forks at BaseOfData: PE32 has it and a 32-bit ImageBase, PE32+ has a
// 64-bit ImageBase in its place and 64-bit stack/heap sizes.
func decodeOptionalHeader(b []byte) (h ImageOptionalHeader) {
	le := binary.LittleEndian
	h.Magic = le.Uint16(b[0:])
	h.MajorLinkerVersion = b[2]
	h.MinorLinkerVersion = b[3]
	h.SizeOfCode = le.Uint32(b[4:])
	h.SizeOfInitializedData = le.Uint32(b[8:])
	h.SizeOfUninitializedData = le.Uint32(b[12:])
	h.AddressOfEntryPoint = le.Uint32(b[16:])
	h.BaseOfCode = le.Uint32(b[20:])
	if h.Magic == IMAGE_NT_OPTIONAL_HDR64_MAGIC {
		h.ImageBase = le.Uint64(b[24:])
	} else {
		h.BaseOfData = le.Uint32(b[24:])
		h.ImageBase = uint64(le.Uint32(b[28:]))
	}
	h.SectionAlignment = le.Uint32(b[32:])
	h.FileAlignment = le.Uint32(b[36:])
	h.MajorOperatingSystemVersion = le.Uint16(b[40:])
	h.MinorOperatingSystemVersion = le.Uint16(b[42:])
	h.MajorImageVersion = le.Uint16(b[44:])
	h.MinorImageVersion = le.Uint16(b[46:])
	h.MajorSubsystemVersion = le.Uint16(b[48:])
	h.MinorSubsystemVersion = le.Uint16(b[50:])
	h.Win32VersionValue = le.Uint32(b[52:])
	h.SizeOfImage = le.Uint32(b[56:])
	h.SizeOfHeaders = le.Uint32(b[60:])
	h.CheckSum = le.Uint32(b[64:])
	h.Subsystem = le.Uint16(b[68:])
	h.DllCharacteristics = le.Uint16(b[70:])
	if h.Magic == IMAGE_NT_OPTIONAL_HDR64_MAGIC {
		h.SizeOfStackReserve = le.Uint64(b[72:])
		h.SizeOfStackCommit = le.Uint64(b[80:])
		h.SizeOfHeapReserve = le.Uint64(b[88:])
		h.SizeOfHeapCommit = le.Uint64(b[96:])
		h.LoaderFlags = le.Uint32(b[104:])
		h.NumberOfRvaAndSizes = le.Uint32(b[108:])
	} else {
		h.SizeOfStackReserve = uint64(le.Uint32(b[72:]))
		h.SizeOfStackCommit = uint64(le.Uint32(b[76:]))
		h.SizeOfHeapReserve = uint64(le.Uint32(b[80:]))
		h.SizeOfHeapCommit = uint64(le.Uint32(b[84:]))
		h.LoaderFlags = le.Uint32(b[88:])
		h.NumberOfRvaAndSizes = le.Uint32(b[92:])
	}
	return h
}

// Image Section
//
//noinspection GoSnakeCaseUsage
type SectionHeader struct {
	Name                 [IMAGE_SIZEOF_SHORT_NAME]uint8
	VirtualSize          uint32 // union with PhysicalAddress
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

func decodeSectionHeader(b []byte) (s SectionHeader) {
	le := binary.LittleEndian
	copy(s.Name[:], b[:IMAGE_SIZEOF_SHORT_NAME])
	s.VirtualSize = le.Uint32(b[8:])
	s.VirtualAddress = le.Uint32(b[12:])
	s.SizeOfRawData = le.Uint32(b[16:])
	s.PointerToRawData = le.Uint32(b[20:])
	s.PointerToRelocations = le.Uint32(b[24:])
	s.PointerToLinenumbers = le.Uint32(b[28:])
	s.NumberOfRelocations = le.Uint16(b[32:])
	s.NumberOfLinenumbers = le.Uint16(b[34:])
	s.Characteristics = le.Uint32(b[36:])
	return s
}

// NameString returns the section name up to the first NUL. Names are not
// necessarily NUL-terminated when they use all eight bytes.
func (s *SectionHeader) NameString() string {
	name := s.Name[:]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	return strings.ToValidUTF8(string(name), "?")
}

// Contains reports whether rva lies inside the section once mapped.
func (s *SectionHeader) Contains(rva uint32) bool {
	size := s.VirtualSize
	if size == 0 {
		size = s.SizeOfRawData
	}
	return rva >= s.VirtualAddress && uint64(rva) < uint64(s.VirtualAddress)+uint64(size)
}

// Export Directory
type ImageExportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

func decodeExportDirectory(b []byte) (d ImageExportDirectory) {
	le := binary.LittleEndian
	d.Characteristics = le.Uint32(b[0:])
	d.TimeDateStamp = le.Uint32(b[4:])
	d.MajorVersion = le.Uint16(b[8:])
	d.MinorVersion = le.Uint16(b[10:])
	d.Name = le.Uint32(b[12:])
	d.Base = le.Uint32(b[16:])
	d.NumberOfFunctions = le.Uint32(b[20:])
	d.NumberOfNames = le.Uint32(b[24:])
	d.AddressOfFunctions = le.Uint32(b[28:])
	d.AddressOfNames = le.Uint32(b[32:])
	d.AddressOfNameOrdinals = le.Uint32(b[36:])
	return d
}

// Image Import Descriptor
type ImageImportDescriptor struct {
	OriginalFirstThunk uint32 // union with Characteristics
	TimeDateStamp      uint32
	ForwarderChain     uint32
	Name               uint32
	FirstThunk         uint32
}

func decodeImportDescriptor(b []byte) (d ImageImportDescriptor) {
	le := binary.LittleEndian
	d.OriginalFirstThunk = le.Uint32(b[0:])
	d.TimeDateStamp = le.Uint32(b[4:])
	d.ForwarderChain = le.Uint32(b[8:])
	d.Name = le.Uint32(b[12:])
	d.FirstThunk = le.Uint32(b[16:])
	return d
}

// IsZero reports whether d is the all-zero record terminating the
// descriptor array.
func (d ImageImportDescriptor) IsZero() bool {
	return d == ImageImportDescriptor{}
}

// DebugDirectory
type ImageDebugDirectory struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

func decodeDebugDirectory(b []byte) (d ImageDebugDirectory) {
	le := binary.LittleEndian
	d.Characteristics = le.Uint32(b[0:])
	d.TimeDateStamp = le.Uint32(b[4:])
	d.MajorVersion = le.Uint16(b[8:])
	d.MinorVersion = le.Uint16(b[10:])
	d.Type = le.Uint32(b[12:])
	d.SizeOfData = le.Uint32(b[16:])
	d.AddressOfRawData = le.Uint32(b[20:])
	d.PointerToRawData = le.Uint32(b[24:])
	return d
}

type CvInfoPdb20 struct {
	CvSignature uint32
	Offset      uint32
	Signature   uint32
	Age         uint32
}

func decodeCvInfoPdb20(b []byte) CvInfoPdb20 {
	le := binary.LittleEndian
	return CvInfoPdb20{
		CvSignature: le.Uint32(b[0:]),
		Offset:      le.Uint32(b[4:]),
		Signature:   le.Uint32(b[8:]),
		Age:         le.Uint32(b[12:]),
	}
}

type CvInfoPdb70 struct {
	CvSignature uint32
	Signature   GUID
	Age         uint32
}

func decodeCvInfoPdb70(b []byte) CvInfoPdb70 {
	var raw [16]byte
	copy(raw[:], b[4:20])
	return CvInfoPdb70{
		CvSignature: binary.LittleEndian.Uint32(b[0:]),
		Signature:   GuidFromWindowsArray(raw),
		Age:         binary.LittleEndian.Uint32(b[20:]),
	}
}
