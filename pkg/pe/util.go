package pe

import (
	"regexp"

	"golang.org/x/exp/constraints"
)

// PageSize is the granularity the loader maps images at.
const PageSize = 0x1000

// alignUp rounds x up to the next multiple of align, which must be a power
// of two.
func alignUp[T constraints.Unsigned](x, align T) T {
	return (x + align - 1) &^ (align - 1)
}

// RoundedImageSize returns size rounded up to a whole number of pages.
func RoundedImageSize(size uint64) uint64 {
	return alignUp(size, PageSize)
}

// Check if a imported name uses the valid accepted characters expected in mangled
// function names. If the symbol's characters don't fall within this charset
// we will assume the name is invalid.
var validFuncNameRegex = regexp.MustCompile(`^[\pL\pN_\?@$\(\)<>,.~*&:=+\-\[\] ]+$`)

func validFuncName(name string) bool {
	return validFuncNameRegex.MatchString(name)
}

// Valid FAT32 8.3 short filename characters according to:
//
//	http://en.wikipedia.org/wiki/8.3_filename
//
// This will help decide whether DLL ASCII names are likely
// to be valid or otherwise corrupt data
//
// The filename length is not checked because the DLLs filename
// can be longer that the 8.3.
var validDOSNameRegex = regexp.MustCompile("^[\\pL\\pN!$%&'\\(\\)`\\-@^_\\{\\}~+,.;=\\[\\]]+$")

func validDosFilename(name string) bool {
	return validDOSNameRegex.MatchString(name)
}
