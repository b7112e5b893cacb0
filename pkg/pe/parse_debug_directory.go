package pe

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"pemap/pkg/memview"
)

const (
	maxDebugDirectories = 64
	maxPdbPathLength    = 0x400
)

// DebugDirectory is one debug directory entry. For CodeView entries the
// PDB identity is decoded from the mapped record at AddressOfRawData.
type DebugDirectory struct {
	ImageDebugDirectory
	InfoPdb70  *CvInfoPdb70
	InfoPdb20  *CvInfoPdb20
	SymbolName string
}

// SymbolServerKey returns the directory component symbol servers file the
// PDB under: the signature followed by the age, both upper case hex. It is
// empty for entries without CodeView information.
func (d *DebugDirectory) SymbolServerKey() string {
	switch {
	case d.InfoPdb70 != nil:
		guid, _ := d.InfoPdb70.Signature.ToString("N")
		return strings.ToUpper(guid) + fmt.Sprintf("%X", d.InfoPdb70.Age)
	case d.InfoPdb20 != nil:
		return fmt.Sprintf("%08X%X", d.InfoPdb20.Signature, d.InfoPdb20.Age)
	}
	return ""
}

// Parse the debug directory.
func (img *Image) parseDebugDirectory() []DebugDirectory {
	dir := img.header.DataDirectory(IMAGE_DIRECTORY_ENTRY_DEBUG)
	if dir.Size == 0 || dir.VirtualAddress == 0 {
		// Simply no debug directory exists.
		return nil
	}
	log := img.opts.logger.With(zap.String("directory", "debug"))

	count := dir.Size / IMAGE_SIZEOF_DEBUG_DIRECTORY
	if count > maxDebugDirectories {
		log.Warn("Suspicious debug directory size", zap.Uint32("Size", dir.Size))
		count = maxDebugDirectories
	}

	var dirs []DebugDirectory
	for i := uint32(0); i < count; i++ {
		addr := img.base + uint64(dir.VirtualAddress) + uint64(i)*IMAGE_SIZEOF_DEBUG_DIRECTORY
		raw, err := img.view.Read(addr, IMAGE_SIZEOF_DEBUG_DIRECTORY)
		if err != nil {
			log.Debug("debug directory unreadable", zap.Uint32("index", i), zap.Error(err))
			continue
		}
		debugDir := DebugDirectory{ImageDebugDirectory: decodeDebugDirectory(raw)}
		if debugDir.Type == IMAGE_DEBUG_TYPE_CODEVIEW && debugDir.AddressOfRawData != 0 {
			img.parseCodeView(&debugDir, log)
		}
		dirs = append(dirs, debugDir)
	}
	return dirs
}

// parseCodeView decodes the RSDS (PDB 7.0) or NB10 (PDB 2.0) record of a
// CodeView debug entry. A record that cannot be read leaves the entry
// without PDB information.
func (img *Image) parseCodeView(debugDir *DebugDirectory, log *zap.Logger) {
	addr := img.base + uint64(debugDir.AddressOfRawData)
	signature, err := memview.Uint32(img.view, addr)
	if err != nil {
		log.Debug("codeview signature unreadable", zap.Error(err))
		return
	}

	var headerSize uint32
	switch signature {
	case CV_PDB_70_SIGNATURE:
		headerSize = CV_SIZEOF_PDB70_HEADER
	case CV_PDB_20_SIGNATURE:
		headerSize = CV_SIZEOF_PDB20_HEADER
	default:
		log.Debug("unknown codeview signature", zap.Uint32("signature", signature))
		return
	}
	if debugDir.SizeOfData <= headerSize {
		log.Debug("corrupt codeview data", zap.Uint32("SizeOfData", debugDir.SizeOfData))
		return
	}

	raw, err := img.view.Read(addr, uint64(headerSize))
	if err != nil {
		log.Debug("codeview record unreadable", zap.Error(err))
		return
	}
	if signature == CV_PDB_70_SIGNATURE {
		info := decodeCvInfoPdb70(raw)
		debugDir.InfoPdb70 = &info
	} else {
		info := decodeCvInfoPdb20(raw)
		debugDir.InfoPdb20 = &info
	}

	// Get the symbol file name.
	maxLen := min(uint64(debugDir.SizeOfData-headerSize-1), maxPdbPathLength)
	name, err := ReadString(img.view, addr+uint64(headerSize), maxLen)
	if err != nil {
		log.Debug("pdb path rejected", zap.Error(err))
		return
	}
	debugDir.SymbolName = name
}
