package pe

import (
	"encoding/binary"
	"strconv"
	"strings"
	"testing"

	"pemap/pkg/memview"
)

// Layout of the synthetic images used throughout the tests:
//
//	0x0000 headers        e_lfanew 0x80, two sections
//	0x1000 .text          entry point
//	0x2000 .rdata         export directory (0x2000-0x2400), debug (0x2600)
//	0x3000                import descriptors, names and thunks
const (
	testBase         = 0x400000
	testLinkBase32   = 0x10000000
	testLinkBase64   = 0x180000000
	testImageSize    = 0x4000
	testLfanew       = 0x80
	testOptional     = testLfanew + IMAGE_SIZEOF_NT_SIGNATURE + IMAGE_SIZEOF_FILE_HEADER
	testEntryPoint   = 0x1000
	exportRva        = 0x2000
	exportSize       = 0x400
	exportFuncs      = exportRva + 0x40
	exportNames      = exportRva + 0x140
	exportOrdinals   = exportRva + 0x1c0
	exportStrings    = exportRva + 0x200
	exportForwarders = exportRva + 0x380
	debugRva         = 0x2600
	importRva        = 0x3000
)

type testImage struct {
	is64 bool
	buf  []byte
	next uint32
}

func newTestImage(is64 bool) *testImage {
	ti := &testImage{is64: is64, buf: make([]byte, testImageSize), next: importRva + 0x100}

	ti.put16(0, IMAGE_DOS_SIGNATURE)
	ti.put32(0x3c, testLfanew)
	ti.put32(testLfanew, IMAGE_NT_SIGNATURE)

	fileHeader := uint32(testLfanew + IMAGE_SIZEOF_NT_SIGNATURE)
	machine, magic := uint16(IMAGE_FILE_MACHINE_I386), uint16(IMAGE_NT_OPTIONAL_HDR32_MAGIC)
	if is64 {
		machine, magic = IMAGE_FILE_MACHINE_AMD64, IMAGE_NT_OPTIONAL_HDR64_MAGIC
	}
	ti.put16(fileHeader, machine)
	ti.put16(fileHeader+2, 2)
	ti.put16(fileHeader+16, uint16(ti.fixed()+IMAGE_NUMBEROF_DIRECTORY_ENTRIES*IMAGE_SIZEOF_DATA_DIRECTORY))
	ti.put16(fileHeader+18, 0x2102)

	opt := uint32(testOptional)
	ti.put16(opt, magic)
	ti.put32(opt+16, testEntryPoint)
	ti.put32(opt+20, 0x1000)
	if is64 {
		ti.put64(opt+24, testLinkBase64)
	} else {
		ti.put32(opt+28, testLinkBase32)
	}
	ti.put32(opt+32, 0x1000)
	ti.put32(opt+36, 0x200)
	ti.put32(opt+56, testImageSize)
	ti.put32(opt+60, 0x400)
	ti.put16(opt+68, 2)
	ti.setNumberOfRvaAndSizes(IMAGE_NUMBEROF_DIRECTORY_ENTRIES)

	ti.putSection(0, ".text", 0x1000, 0x1000, 0x60000020)
	ti.putSection(1, ".rdata", 0x2000, 0x2000, 0x40000040)
	return ti
}

func (ti *testImage) fixed() uint32 {
	if ti.is64 {
		return IMAGE_SIZEOF_OPTIONAL_HEADER64
	}
	return IMAGE_SIZEOF_OPTIONAL_HEADER32
}

func (ti *testImage) put16(off uint32, v uint16) { binary.LittleEndian.PutUint16(ti.buf[off:], v) }
func (ti *testImage) put32(off uint32, v uint32) { binary.LittleEndian.PutUint32(ti.buf[off:], v) }
func (ti *testImage) put64(off uint32, v uint64) { binary.LittleEndian.PutUint64(ti.buf[off:], v) }

func (ti *testImage) putString(off uint32, s string) {
	copy(ti.buf[off:], s)
	ti.buf[off+uint32(len(s))] = 0
}

func (ti *testImage) setNumberOfRvaAndSizes(n uint32) {
	ti.put32(testOptional+ti.fixed()-4, n)
}

func (ti *testImage) setDirectory(index int, rva, size uint32) {
	off := testOptional + ti.fixed() + uint32(index)*IMAGE_SIZEOF_DATA_DIRECTORY
	ti.put32(off, rva)
	ti.put32(off+4, size)
}

func (ti *testImage) sectionTable() uint32 {
	return testOptional + ti.fixed() + IMAGE_NUMBEROF_DIRECTORY_ENTRIES*IMAGE_SIZEOF_DATA_DIRECTORY
}

func (ti *testImage) putSection(i uint32, name string, va, size, characteristics uint32) {
	off := ti.sectionTable() + i*IMAGE_SIZEOF_SECTION_HEADER
	copy(ti.buf[off:off+IMAGE_SIZEOF_SHORT_NAME], name)
	ti.put32(off+8, size)
	ti.put32(off+12, va)
	ti.put32(off+16, size)
	ti.put32(off+20, va)
	ti.put32(off+36, characteristics)
}

// writeExports writes an export directory whose i-th name maps to
// AddressOfFunctions[ordinals[i]].
func (ti *testImage) writeExports(ordinalBase uint32, funcs []uint32, names []string, ordinals []uint16) {
	d := uint32(exportRva)
	ti.put32(d+12, exportForwarders-0x20)
	ti.putString(exportForwarders-0x20, "test.dll")
	ti.put32(d+16, ordinalBase)
	ti.put32(d+20, uint32(len(funcs)))
	ti.put32(d+24, uint32(len(names)))
	ti.put32(d+28, exportFuncs)
	ti.put32(d+32, exportNames)
	ti.put32(d+36, exportOrdinals)
	for i, f := range funcs {
		ti.put32(exportFuncs+4*uint32(i), f)
	}
	str := uint32(exportStrings)
	for i, name := range names {
		ti.put32(exportNames+4*uint32(i), str)
		ti.put16(exportOrdinals+2*uint32(i), ordinals[i])
		ti.putString(str, name)
		str += uint32(len(name)) + 1
	}
	ti.setDirectory(IMAGE_DIRECTORY_ENTRY_EXPORT, exportRva, exportSize)
}

type testImport struct {
	module string
	// symbols are import names, or "#N" for an import by ordinal N.
	symbols []string
}

func (ti *testImage) alloc(size, align uint32) uint32 {
	ti.next = alignUp(ti.next, align)
	off := ti.next
	ti.next += size
	if ti.next > uint32(len(ti.buf)) {
		panic("test image import area exhausted")
	}
	return off
}

func (ti *testImage) thunkWidth() uint32 {
	if ti.is64 {
		return IMAGE_SIZEOF_THUNK_DATA64
	}
	return IMAGE_SIZEOF_THUNK_DATA32
}

func (ti *testImage) putThunk(off uint32, v uint64) {
	if ti.is64 {
		ti.put64(off, v)
	} else {
		ti.put32(off, uint32(v))
	}
}

// writeImports writes one descriptor per module followed by the zero
// terminator and returns each module's FirstThunk RVA. Named imports get
// their index as hint.
func (ti *testImage) writeImports(imports []testImport) []uint32 {
	width := ti.thunkWidth()
	flag := uint64(IMAGE_ORDINAL_FLAG32)
	if ti.is64 {
		flag = IMAGE_ORDINAL_FLAG64
	}

	iats := make([]uint32, len(imports))
	for i, imp := range imports {
		nameRva := ti.alloc(uint32(len(imp.module))+1, 1)
		ti.putString(nameRva, imp.module)
		tableSize := uint32(len(imp.symbols)+1) * width
		ilt := ti.alloc(tableSize, width)
		iat := ti.alloc(tableSize, width)

		for j, sym := range imp.symbols {
			var v uint64
			if strings.HasPrefix(sym, "#") {
				ord, err := strconv.ParseUint(sym[1:], 10, 64)
				if err != nil {
					panic(err)
				}
				v = flag | ord
			} else {
				hintName := ti.alloc(uint32(len(sym))+3, 2)
				ti.put16(hintName, uint16(j))
				ti.putString(hintName+2, sym)
				v = uint64(hintName)
			}
			ti.putThunk(ilt+uint32(j)*width, v)
			ti.putThunk(iat+uint32(j)*width, v)
		}

		desc := importRva + uint32(i)*IMAGE_SIZEOF_IMPORT_DESCRIPTOR
		ti.put32(desc, ilt)
		ti.put32(desc+12, nameRva)
		ti.put32(desc+16, iat)
		iats[i] = iat
	}
	ti.setDirectory(IMAGE_DIRECTORY_ENTRY_IMPORT, importRva, uint32(len(imports)+1)*IMAGE_SIZEOF_IMPORT_DESCRIPTOR)
	return iats
}

// writeCodeView writes a single RSDS debug directory entry.
func (ti *testImage) writeCodeView(guid [16]byte, age uint32, path string) {
	raw := uint32(debugRva + 0x40)
	ti.put32(debugRva+12, IMAGE_DEBUG_TYPE_CODEVIEW)
	ti.put32(debugRva+16, CV_SIZEOF_PDB70_HEADER+uint32(len(path))+1)
	ti.put32(debugRva+20, raw)
	ti.put32(raw, CV_PDB_70_SIGNATURE)
	copy(ti.buf[raw+4:], guid[:])
	ti.put32(raw+20, age)
	ti.putString(raw+CV_SIZEOF_PDB70_HEADER, path)
	ti.setDirectory(IMAGE_DIRECTORY_ENTRY_DEBUG, debugRva, IMAGE_SIZEOF_DEBUG_DIRECTORY)
}

func (ti *testImage) view(base uint64) *memview.Buffer {
	return memview.NewBuffer(base, ti.buf)
}

func (ti *testImage) open(t *testing.T, base uint64, opts ...Option) *Image {
	t.Helper()
	img, err := New(ti.view(base), base, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return img
}
