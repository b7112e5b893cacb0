package pe

import (
	"encoding/binary"
	"sort"

	"go.uber.org/zap"

	"pemap/pkg/memview"
)

// Upper bounds on export table walks. A corrupt NumberOfNames must not turn
// into billions of reads against a live address space.
const (
	maxExportNames     = 0x10000
	maxExportFunctions = 0x10000
)

type exportSymbol struct {
	addr uint64
	name string
}

type exportTable struct {
	byName     map[string]uint64
	byOrdinal  map[uint16]uint64
	forwarders map[string]string
	sorted     []exportSymbol
}

func newExportTable() *exportTable {
	return &exportTable{
		byName:     make(map[string]uint64),
		byOrdinal:  make(map[uint16]uint64),
		forwarders: make(map[string]string),
	}
}

// symbolAt returns the nearest named export at or below addr.
func (t *exportTable) symbolAt(addr uint64) (string, uint64, bool) {
	i := sort.Search(len(t.sorted), func(i int) bool {
		return t.sorted[i].addr > addr
	})
	if i == 0 {
		return "", 0, false
	}
	sym := t.sorted[i-1]
	return sym.name, addr - sym.addr, true
}

// Parse the export directory.
//
// Every named export whose name, ordinal index and function RVA can all be
// read is bound to its absolute address. Exports whose RVA falls back inside
// the directory are forwarders and are recorded by their forwarder string
// instead. Any entry that fails to decode is dropped and the walk
// continues.
func (img *Image) parseExportDirectory() *exportTable {
	t := newExportTable()
	dir := img.header.DataDirectory(IMAGE_DIRECTORY_ENTRY_EXPORT)
	if dir.Size == 0 {
		return t
	}
	log := img.opts.logger.With(zap.String("directory", "export"))

	raw, err := img.view.Read(img.base+uint64(dir.VirtualAddress), IMAGE_SIZEOF_EXPORT_DIRECTORY)
	if err != nil {
		log.Debug("export directory unreadable", zap.Error(err))
		return t
	}
	exportDir := decodeExportDirectory(raw)

	numberOfNames := exportDir.NumberOfNames
	if numberOfNames > maxExportNames {
		log.Warn("Suspicious NumberOfNames in the export directory", zap.Uint32("NumberOfNames", numberOfNames))
		numberOfNames = maxExportNames
	}

	namesAddr := img.base + uint64(exportDir.AddressOfNames)
	ordinalsAddr := img.base + uint64(exportDir.AddressOfNameOrdinals)
	funcsAddr := img.base + uint64(exportDir.AddressOfFunctions)

	// a name that validates is taken even if its address is later dropped
	seen := make(map[string]bool)
	for i := uint64(0); i < uint64(numberOfNames); i++ {
		nameRva, err := memview.Uint32(img.view, namesAddr+4*i)
		if err != nil {
			log.Debug("export name RVA unreadable", zap.Uint64("index", i), zap.Error(err))
			continue
		}
		name, err := img.readSymbolName(nameRva)
		if err != nil {
			log.Debug("export name rejected", zap.Uint64("index", i), zap.Error(err))
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true

		ordIndex, err := memview.Uint16(img.view, ordinalsAddr+2*i)
		if err != nil {
			log.Debug("export ordinal unreadable", zap.String("name", name), zap.Error(err))
			continue
		}
		if uint32(ordIndex) >= exportDir.NumberOfFunctions {
			log.Debug("export ordinal out of range", zap.String("name", name), zap.Uint16("ordinal", ordIndex))
			continue
		}

		funcRva, err := memview.Uint32(img.view, funcsAddr+4*uint64(ordIndex))
		if err != nil {
			log.Debug("export address unreadable", zap.String("name", name), zap.Error(err))
			continue
		}
		if funcRva == 0 {
			continue
		}

		if dir.Contains(funcRva) {
			forwarder, err := ReadString(img.view, img.base+uint64(funcRva), img.opts.maxModuleName+img.opts.maxSymbolName)
			if err != nil {
				log.Debug("export forwarder unreadable", zap.String("name", name), zap.Error(err))
				continue
			}
			t.forwarders[name] = forwarder
			continue
		}
		t.byName[name] = img.base + uint64(funcRva)
	}

	img.parseExportOrdinals(t, exportDir, dir, log)

	t.sorted = make([]exportSymbol, 0, len(t.byName))
	for name, addr := range t.byName {
		t.sorted = append(t.sorted, exportSymbol{addr: addr, name: name})
	}
	sort.Slice(t.sorted, func(i, j int) bool {
		if t.sorted[i].addr != t.sorted[j].addr {
			return t.sorted[i].addr < t.sorted[j].addr
		}
		return t.sorted[i].name < t.sorted[j].name
	})

	log.Debug("exports resolved",
		zap.Int("named", len(t.byName)),
		zap.Int("ordinals", len(t.byOrdinal)),
		zap.Int("forwarders", len(t.forwarders)))
	return t
}

// parseExportOrdinals binds every non-forwarded entry of AddressOfFunctions
// to Base plus its index. The array is read in one piece when possible and
// entry by entry otherwise, so one faulting page only loses its own entries.
func (img *Image) parseExportOrdinals(t *exportTable, exportDir ImageExportDirectory, dir ImageDataDirectory, log *zap.Logger) {
	count := exportDir.NumberOfFunctions
	if count > maxExportFunctions {
		log.Warn("Suspicious NumberOfFunctions in the export directory", zap.Uint32("NumberOfFunctions", count))
		count = maxExportFunctions
	}
	if count == 0 {
		return
	}
	funcsAddr := img.base + uint64(exportDir.AddressOfFunctions)

	table, err := img.view.Read(funcsAddr, uint64(count)*4)
	bulk := err == nil
	for i := uint32(0); i < count; i++ {
		var rva uint32
		if bulk {
			rva = binary.LittleEndian.Uint32(table[4*i:])
		} else if rva, err = memview.Uint32(img.view, funcsAddr+4*uint64(i)); err != nil {
			continue
		}
		if rva == 0 || dir.Contains(rva) {
			continue
		}
		ordinal := uint64(exportDir.Base) + uint64(i)
		if ordinal > 0xFFFF {
			break
		}
		t.byOrdinal[uint16(ordinal)] = img.base + uint64(rva)
	}
}
