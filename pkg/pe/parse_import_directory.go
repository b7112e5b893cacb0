package pe

import (
	"go.uber.org/zap"

	"pemap/pkg/exe"
	"pemap/pkg/memview"
)

const (
	maxImportDescriptors = 0x1000
	maxImportThunks      = 0x10000
)

type importTable struct {
	byModule map[string][]exe.ImportEntry
	index    map[string]exe.ImportEntry
}

// Parse the import directory.
//
// Descriptors are read until the first all-zero record, a read failure or
// the descriptor cap. Each descriptor's module name must pass string
// validation; its thunk array is then walked until a zero thunk.
func (img *Image) parseImportDirectory() *importTable {
	t := &importTable{
		byModule: make(map[string][]exe.ImportEntry),
		index:    make(map[string]exe.ImportEntry),
	}
	dir := img.header.DataDirectory(IMAGE_DIRECTORY_ENTRY_IMPORT)
	if dir.Size == 0 || dir.VirtualAddress == 0 {
		return t
	}
	log := img.opts.logger.With(zap.String("directory", "import"))

	var modules []string
	addr := img.base + uint64(dir.VirtualAddress)
	for i := 0; i < maxImportDescriptors; i, addr = i+1, addr+IMAGE_SIZEOF_IMPORT_DESCRIPTOR {
		raw, err := img.view.Read(addr, IMAGE_SIZEOF_IMPORT_DESCRIPTOR)
		if err != nil {
			log.Debug("import descriptor unreadable", zap.Int("index", i), zap.Error(err))
			break
		}
		importDesc := decodeImportDescriptor(raw)
		if importDesc.IsZero() {
			break
		}

		module, err := img.readModuleName(importDesc.Name)
		if err != nil {
			log.Debug("import module name rejected", zap.Int("index", i), zap.Error(err))
			continue
		}

		thunks := importDesc.OriginalFirstThunk
		if thunks == 0 {
			thunks = importDesc.FirstThunk
		}
		if thunks == 0 {
			log.Debug("import descriptor has no thunk array", zap.String("module", module))
			continue
		}

		if _, ok := t.byModule[module]; !ok {
			modules = append(modules, module)
		}
		t.byModule[module] = append(t.byModule[module], img.parseThunks(module, thunks, importDesc.FirstThunk, log)...)
	}

	// Names are assumed unique across modules; on a clash the module whose
	// descriptor comes first keeps the index entry.
	for _, module := range modules {
		for _, entry := range t.byModule[module] {
			key := entry.Symbol.Name
			if entry.Symbol.ByOrdinal {
				key = OrdLookup(module, entry.Symbol.Ordinal, false)
				if key == "" {
					continue
				}
			}
			if prev, ok := t.index[key]; ok {
				if prev.Module != module {
					log.Debug("import name collision", zap.String("name", key),
						zap.String("kept", prev.Module), zap.String("dropped", module))
				}
				continue
			}
			t.index[key] = entry
		}
	}

	log.Debug("imports resolved", zap.Int("modules", len(t.byModule)), zap.Int("symbols", len(t.index)))
	return t
}

// parseThunks walks one thunk array. Thunks are pointer sized: 4 bytes in
// PE32 and 8 bytes in PE32+. A thunk with the ordinal flag set carries the
// ordinal in its low bits and is never dereferenced.
func (img *Image) parseThunks(module string, thunks, firstThunk uint32, log *zap.Logger) []exe.ImportEntry {
	width := uint64(IMAGE_SIZEOF_THUNK_DATA32)
	ordinalFlag := uint64(IMAGE_ORDINAL_FLAG32)
	if img.header.Is64() {
		width = IMAGE_SIZEOF_THUNK_DATA64
		ordinalFlag = IMAGE_ORDINAL_FLAG64
	}

	var entries []exe.ImportEntry
	for idx := uint64(0); idx < maxImportThunks; idx++ {
		addr := img.base + uint64(thunks) + idx*width

		var value uint64
		var err error
		if width == IMAGE_SIZEOF_THUNK_DATA64 {
			value, err = memview.Uint64(img.view, addr)
		} else {
			var v uint32
			v, err = memview.Uint32(img.view, addr)
			value = uint64(v)
		}
		if err != nil {
			log.Debug("import thunk unreadable", zap.String("module", module), zap.Uint64("index", idx), zap.Error(err))
			break
		}
		if value == 0 {
			break
		}

		var slot uint64
		if firstThunk != 0 {
			slot = img.base + uint64(firstThunk) + idx*width
		}

		if value&ordinalFlag != 0 {
			ordinal := value &^ ordinalFlag
			if ordinal > 0xFFFF {
				log.Debug("import ordinal out of range", zap.String("module", module), zap.Uint64("ordinal", ordinal))
				continue
			}
			entries = append(entries, exe.ImportEntry{
				Module: module,
				Symbol: exe.Ordinal(uint16(ordinal)),
				Slot:   slot,
			})
			continue
		}

		// IMAGE_IMPORT_BY_NAME: Hint u16 followed by the name.
		hintRva := uint32(value & 0x7fffffff)
		hint, err := memview.Uint16(img.view, img.base+uint64(hintRva))
		if err != nil {
			log.Debug("import hint unreadable", zap.String("module", module), zap.Uint64("index", idx), zap.Error(err))
			continue
		}
		name, err := img.readSymbolName(hintRva + 2)
		if err != nil {
			log.Debug("import name rejected", zap.String("module", module), zap.Uint64("index", idx), zap.Error(err))
			continue
		}
		entries = append(entries, exe.ImportEntry{
			Module: module,
			Symbol: exe.Named(name),
			Hint:   hint,
			Slot:   slot,
		})
	}
	return entries
}
