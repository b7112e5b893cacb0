/**
 * pemap
 * Copyright (c) 2026, The pemap Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 * @file main.go
 * @author The pemap Authors
 * @date 10/17/2026
 */

package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"pemap/pkg/config"
	"pemap/pkg/exe"
	"pemap/pkg/guest"
	"pemap/pkg/memview"
	"pemap/pkg/pe"
)

const pidPrefix = "pid:"

// openSource opens the address space named by source. Dump files are exposed
// so that their first byte lies at base.
func openSource(source string, base uint64) (memview.View, io.Closer, error) {
	if strings.HasPrefix(source, pidPrefix) {
		pid, err := strconv.Atoi(strings.TrimPrefix(source, pidPrefix))
		if err != nil {
			return nil, nil, fmt.Errorf("bad pid in %q: %w", source, err)
		}
		proc, err := memview.OpenProcess(pid)
		if err != nil {
			return nil, nil, err
		}
		return proc, io.NopCloser(nil), nil
	}

	// Check if the given dump path exists.
	if _, err := os.Stat(source); err != nil {
		return nil, nil, err
	}
	if strings.HasSuffix(source, memview.SnapshotExt) {
		buf, err := memview.LoadSnapshot(source, base)
		if err != nil {
			return nil, nil, err
		}
		return buf, io.NopCloser(nil), nil
	}
	mapped, err := memview.Map(source, base)
	if err != nil {
		return nil, nil, err
	}
	return mapped, mapped, nil
}

// openImage opens the image at base. PE images get the configured options;
// other formats are opened through the registry as is.
func openImage(view memview.View, base uint64, cfg *config.Config, logger *zap.Logger) (exe.Executable, error) {
	format, err := exe.Probe(view, base)
	if err != nil {
		return nil, err
	}
	if format.Name == pe.FormatName {
		return pe.New(view, base, cfg.ImageOptions(logger)...)
	}
	return format.Open(view, base)
}

func listModules(w io.Writer, view memview.View, peb uint64, logger *zap.Logger) error {
	modules, err := guest.ProcessModules(view, peb, guest.WithLogger(logger))
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "[MODULES]")
	for _, m := range modules {
		fmt.Fprintf(w, "0x%08X\t0x%08X\t%s\t%s\n", m.Base, m.Size, m.Name, m.Path)
	}
	fmt.Fprintln(w)
	return nil
}

func printImage(w io.Writer, img exe.Executable, format string) error {
	if format == config.FormatYAML {
		if p, ok := img.(*pe.Image); ok {
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			if err := enc.Encode(p.Info()); err != nil {
				return err
			}
			return enc.Close()
		}
	}
	return img.DumpInfo(w)
}

func help() {
	fmt.Println("Reconstructs the headers, exports and imports of a PE image mapped in memory.")
	fmt.Println("The address space is supplied by the `source` argument: a raw dump file,")
	fmt.Println("a snappy compressed dump ending in " + memview.SnapshotExt + ", or " + pidPrefix + "<n> for a live process.")
	fmt.Println("The image address is supplied by the `base` argument.")
	fmt.Println("An optional TOML configuration can be supplied by the `config` argument.")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("   ", filepath.Base(os.Args[0]), "source base [config]")
	fmt.Println("Example:")
	if runtime.GOOS == "linux" {
		fmt.Println("   ", filepath.Base(os.Args[0]), "pid:1234 0x400000 \"/etc/pemap.toml\"")
	}
	fmt.Println("   ", filepath.Base(os.Args[0]), "kernel32.dmp 0x7c800000")
	fmt.Println("")
	fmt.Println("Environment:")
	fmt.Println("   ", "PEMAP_FORMAT", "\t\t", "text or yaml")
	fmt.Println("   ", "PEMAP_LOG_LEVEL", "\t", "debug, info, warn or error")
	fmt.Println("   ", "PEMAP_STRICT_NAMES", "\t", "reject names outside the symbol character set")
	fmt.Println("   ", "PEMAP_DEVELOPMENT", "\t", "human readable logs")
	fmt.Println("")
	fmt.Println("Flags:")
	fmt.Println("   ", "-help", "\t", "display help information")
}

func main() {
	// Check given args
	nArgs := len(os.Args)
	if nArgs > 1 && (os.Args[1] == "-help" || os.Args[1] == "--help") {
		help()
		os.Exit(0)
	}
	// Make sure the source and base are given
	if nArgs < 3 {
		log.Println("source and base address not supplied")
		help()
		os.Exit(1)
	}

	base, err := strconv.ParseUint(os.Args[2], 0, 64)
	if err != nil {
		log.Fatalf("bad base address %q: %v", os.Args[2], err)
	}

	var cfgPath string
	if nArgs > 3 {
		cfgPath = os.Args[3]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	view, closer, err := openSource(os.Args[1], base)
	if err != nil {
		logger.Fatal("Cannot open source", zap.String("source", os.Args[1]), zap.Error(err))
	}
	defer closer.Close()

	if cfg.Peb != 0 {
		if err := listModules(os.Stdout, view, cfg.Peb, logger); err != nil {
			logger.Error("Cannot list guest modules", zap.Uint64("peb", cfg.Peb), zap.Error(err))
		}
	}

	img, err := openImage(view, base, cfg, logger)
	if err != nil {
		logger.Fatal("Cannot open image", zap.Uint64("base", base), zap.Error(err))
	}
	if err := printImage(os.Stdout, img, cfg.Format); err != nil {
		logger.Fatal("Cannot print image", zap.Error(err))
	}
}
