package pe

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v3"
)

func dumpTestImage(t *testing.T) (*Image, []uint32) {
	t.Helper()
	ti := newTestImage(false)
	ti.writeExports(1, []uint32{0x1000, 0x1200, exportForwarders}, []string{"Foo", "Bar", "Fwd"}, []uint16{0, 1, 2})
	ti.putString(exportForwarders, "NTDLL.RtlFoo")
	iats := ti.writeImports([]testImport{
		{"USER32.dll", []string{"MessageBoxA"}},
		{"KERNEL32.dll", []string{"Sleep", "#7"}},
	})
	ti.writeCodeView(testGuidBytes, 2, "sample.pdb")
	return ti.open(t, testBase), iats
}

func diff(want, got string) string {
	d, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(want),
		B:        difflib.SplitLines(got),
		FromFile: "want",
		ToFile:   "got",
		Context:  2,
	})
	return d
}

func TestDumpInfo(t *testing.T) {
	img, iats := dumpTestImage(t)

	kv := func(k, v string) string { return fmt.Sprintf("%-24s%s\n", k, v) }
	want := "[IMAGE]\n" +
		kv("Format", "PE32") +
		kv("Machine", "I386 (0x14C)") +
		kv("Base", "0x400000") +
		kv("ImageBase", "0x10000000") +
		kv("EntryPoint", "0x401000") +
		kv("ImageSize", "0x4000") +
		kv("RoundedImageSize", "0x4000") +
		"\n[IMAGE_SECTION_HEADER]\n" +
		".text   \t0x00001000\t0x00001000\tIMAGE_SCN_CNT_CODE | IMAGE_SCN_MEM_EXECUTE | IMAGE_SCN_MEM_READ\n" +
		".rdata  \t0x00002000\t0x00002000\tIMAGE_SCN_CNT_INITIALIZED_DATA | IMAGE_SCN_MEM_READ\n" +
		"\n[EXPORTS]\n" +
		"0x401000\tFoo\n" +
		"0x401200\tBar\n" +
		"\n[FORWARDERS]\n" +
		"Fwd\t-> NTDLL.RtlFoo\n" +
		"\n[IMPORTS]\n" +
		"KERNEL32.dll\n" +
		fmt.Sprintf("\t0x%X\tSleep\n", testBase+iats[1]) +
		fmt.Sprintf("\t0x%X\t#7\n", testBase+iats[1]+4) +
		"USER32.dll\n" +
		fmt.Sprintf("\t0x%X\tMessageBoxA\n", testBase+iats[0]) +
		"\n[DEBUG]\n" +
		kv("PdbPath", "sample.pdb") +
		kv("SymbolServerKey", "12345678123456789ABCDEF0123456782")

	var buf bytes.Buffer
	if err := img.DumpInfo(&buf); err != nil {
		t.Fatalf("DumpInfo: %v", err)
	}
	if got := buf.String(); got != want {
		t.Errorf("DumpInfo mismatch:\n%s", diff(want, got))
	}
}

type failingWriter struct{}

var errWrite = errors.New("disk full")

func (failingWriter) Write([]byte) (int, error) { return 0, errWrite }

func TestDumpInfoWriteError(t *testing.T) {
	img, _ := dumpTestImage(t)
	if err := img.DumpInfo(failingWriter{}); !errors.Is(err, errWrite) {
		t.Errorf("DumpInfo error = %v, want %v", err, errWrite)
	}
}

func TestInfoYAML(t *testing.T) {
	img, iats := dumpTestImage(t)

	out, err := yaml.Marshal(img.Info())
	if err != nil {
		t.Fatalf("yaml.Marshal: %v", err)
	}

	var doc struct {
		Format     string                         `yaml:"format"`
		Machine    string                         `yaml:"machine"`
		Base       string                         `yaml:"base"`
		ImageBase  string                         `yaml:"image_base"`
		Exports    map[string]string              `yaml:"exports"`
		Forwarders map[string]string              `yaml:"forwarders"`
		Imports    map[string][]map[string]string `yaml:"imports"`
		Sections   []struct {
			Name            string   `yaml:"name"`
			Characteristics []string `yaml:"characteristics"`
		} `yaml:"sections"`
		Pdb []map[string]string `yaml:"pdb"`
	}
	if err := yaml.Unmarshal(out, &doc); err != nil {
		t.Fatalf("yaml.Unmarshal: %v\n%s", err, out)
	}

	if doc.Format != "PE32" || doc.Machine != "I386" {
		t.Errorf("format/machine = %s/%s", doc.Format, doc.Machine)
	}
	if doc.Base != "0x400000" || doc.ImageBase != "0x10000000" {
		t.Errorf("base/image_base = %s/%s", doc.Base, doc.ImageBase)
	}
	if doc.Exports["Foo"] != "0x401000" || doc.Exports["Bar"] != "0x401200" || len(doc.Exports) != 2 {
		t.Errorf("exports = %v", doc.Exports)
	}
	if doc.Forwarders["Fwd"] != "NTDLL.RtlFoo" {
		t.Errorf("forwarders = %v", doc.Forwarders)
	}
	kernel32 := doc.Imports["KERNEL32.dll"]
	if len(kernel32) != 2 || kernel32[0]["symbol"] != "Sleep" || kernel32[1]["symbol"] != "#7" {
		t.Errorf("KERNEL32.dll imports = %v", kernel32)
	}
	if got, want := kernel32[0]["slot"], fmt.Sprintf("0x%x", testBase+iats[1]); got != want {
		t.Errorf("Sleep slot = %s, want %s", got, want)
	}
	if len(doc.Sections) != 2 || doc.Sections[0].Name != ".text" || len(doc.Sections[0].Characteristics) != 3 {
		t.Errorf("sections = %+v", doc.Sections)
	}
	if len(doc.Pdb) != 1 || doc.Pdb[0]["path"] != "sample.pdb" || doc.Pdb[0]["age"] != "2" ||
		doc.Pdb[0]["guid"] != "12345678-1234-5678-9abc-def012345678" {
		t.Errorf("pdb = %+v", doc.Pdb)
	}
	if !strings.Contains(string(out), `rounded_image_size: "0x4000"`) {
		t.Errorf("YAML output lacks rounded_image_size:\n%s", out)
	}
}
