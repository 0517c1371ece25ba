package main

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	redirectDirective = "//go:redirect-from"

	// redirectTableSection is the ELF section reserved by the rt0 code for
	// the (src, dst) address pairs it patches at boot.
	redirectTableSection = ".goredirectstbl"
)

// redirect describes a runtime function (src) whose calls must be diverted
// to a kernel function (dst).
type redirect struct {
	src string
	dst string

	srcVMA uint64
	dstVMA uint64
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[redirects] error: %s\n", err.Error())
	os.Exit(1)
}

// modulePath returns the module path declared in the supplied go.mod file.
// Symbols in the kernel image are qualified with it.
func modulePath(goModFile string) (string, error) {
	data, err := os.ReadFile(goModFile)
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "module" {
			return strings.Trim(fields[1], `"`), nil
		}
	}

	return "", fmt.Errorf("%s: missing module directive", goModFile)
}

// collectGoFiles returns the non-test Go files below root.
func collectGoFiles(root string) ([]string, error) {
	var goFiles []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		switch {
		case err != nil:
			return err
		case info.IsDir():
			return nil
		case filepath.Ext(path) == ".go" && !strings.HasSuffix(path, "_test.go"):
			goFiles = append(goFiles, path)
		}
		return nil
	})

	return goFiles, err
}

// findRedirects scans the doc comments of the functions declared in goFiles
// for redirect directives. File paths must be relative to the module root.
// The result is sorted by source symbol.
func findRedirects(prefix string, goFiles []string) ([]*redirect, error) {
	var redirects []*redirect

	for _, goFile := range goFiles {
		f, err := parser.ParseFile(token.NewFileSet(), goFile, nil, parser.ParseComments)
		if err != nil {
			return nil, err
		}

		pkgPath := prefix + "/" + filepath.ToSlash(filepath.Dir(goFile))
		for _, decl := range f.Decls {
			fnDecl, ok := decl.(*ast.FuncDecl)
			if !ok || fnDecl.Doc == nil || fnDecl.Recv != nil {
				continue
			}

			for _, comment := range fnDecl.Doc.List {
				if !strings.HasPrefix(comment.Text, redirectDirective) {
					continue
				}

				dst := pkgPath + "." + fnDecl.Name.Name
				fields := strings.Fields(comment.Text)
				if len(fields) != 2 || fields[0] != redirectDirective {
					return nil, fmt.Errorf("%s: malformed %s directive for %q", goFile, redirectDirective, dst)
				}

				redirects = append(redirects, &redirect{src: fields[1], dst: dst})
			}
		}
	}

	sort.Slice(redirects, func(i, j int) bool { return redirects[i].src < redirects[j].src })
	return redirects, nil
}

// resolveSymbols fills in the virtual addresses of every redirect using the
// symbol table of the kernel image.
func resolveSymbols(redirects []*redirect, symbols []elf.Symbol) error {
	addrs := make(map[string]uint64, len(symbols))
	for _, symbol := range symbols {
		addrs[symbol.Name] = symbol.Value
	}

	for _, r := range redirects {
		r.srcVMA, r.dstVMA = addrs[r.src], addrs[r.dst]
		switch {
		case r.srcVMA == 0:
			return fmt.Errorf("could not locate address of %q", r.src)
		case r.dstVMA == 0:
			return fmt.Errorf("could not locate address of %q", r.dst)
		}
	}

	return nil
}

// encodeTable serializes the redirects as little-endian (src, dst) pairs.
// It fails if the table does not fit in capacity bytes.
func encodeTable(redirects []*redirect, capacity uint64) ([]byte, error) {
	table := make([]byte, 0, 16*len(redirects))
	for _, r := range redirects {
		table = binary.LittleEndian.AppendUint64(table, r.srcVMA)
		table = binary.LittleEndian.AppendUint64(table, r.dstVMA)
	}

	if uint64(len(table)) > capacity {
		return nil, fmt.Errorf("redirect table needs %d bytes but %s holds %d", len(table), redirectTableSection, capacity)
	}
	return table, nil
}

// populateTable resolves the redirect addresses in imgFile and writes the
// redirect table into its reserved section.
func populateTable(redirects []*redirect, imgFile string) error {
	img, err := elf.Open(imgFile)
	if err != nil {
		return err
	}

	section := img.Section(redirectTableSection)
	symbols, symErr := img.Symbols()
	_ = img.Close()
	switch {
	case section == nil:
		return fmt.Errorf("%s: missing %s section", imgFile, redirectTableSection)
	case symErr != nil:
		return fmt.Errorf("%s: %w", imgFile, symErr)
	}

	if err = resolveSymbols(redirects, symbols); err != nil {
		return fmt.Errorf("%s: %w", imgFile, err)
	}

	table, err := encodeTable(redirects, section.Size)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(imgFile, os.O_WRONLY, 0)
	if err != nil {
		return err
	}

	if _, err = f.WriteAt(table, int64(section.Offset)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func runTool() error {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "redirects: manage the runtime redirect table of the kernel image\n\n")
		fmt.Fprint(os.Stderr, "Usage: redirects count | list | populate-table kernel.elf\n")
	}
	flag.Parse()

	if matches, _ := filepath.Glob("kernel/"); len(matches) != 1 {
		return errors.New("this tool must be run from the module root folder")
	}

	cmd := flag.Arg(0)
	switch {
	case cmd == "count", cmd == "list":
	case cmd == "populate-table" && flag.NArg() == 2:
	case cmd == "populate-table":
		return errors.New("populate-table requires the path to the kernel image as an argument")
	case cmd == "":
		return errors.New("missing command")
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	prefix, err := modulePath("go.mod")
	if err != nil {
		return err
	}

	goFiles, err := collectGoFiles("kernel")
	if err != nil {
		return err
	}

	redirects, err := findRedirects(prefix, goFiles)
	if err != nil {
		return err
	}

	switch cmd {
	case "count":
		fmt.Printf("%d", len(redirects))
	case "list":
		for _, r := range redirects {
			fmt.Printf("%s -> %s\n", r.src, r.dst)
		}
	default:
		return populateTable(redirects, flag.Arg(1))
	}

	return nil
}

func main() {
	if err := runTool(); err != nil {
		exit(err)
	}
}
