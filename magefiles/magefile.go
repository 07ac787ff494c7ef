//go:build mage

// Package main contains Mage build targets for paper-census developer tooling.
package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

// workspaceDirs lists the directories the collection engine expects under
// the default base directory. The CLI creates them lazily; Init pre-creates
// them so a fresh checkout has the expected layout.
var workspaceDirs = []string{
	"census/sessions",
}

// Init creates the default census workspace layout.
func Init() error {
	for _, dir := range workspaceDirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		fmt.Println("  ", dir)
	}
	fmt.Println("Census workspace initialized.")
	return nil
}

const (
	binDir  = "bin"
	binName = "paper-census"
	cmdPkg  = "./cmd/paper-census"
)

// Build compiles the CLI binary into bin/.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	out := filepath.Join(binDir, binName)
	cmd := exec.Command("go", "build", "-o", out, cmdPkg)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Test runs the full test suite.
func Test() error {
	cmd := exec.Command("go", "test", "./...")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go test: %w", err)
	}
	return nil
}

// All runs the test suite and then builds the binary.
func All() {
	mg.SerialDeps(Test, Build)
}

// Stats prints non-blank Go line counts per top-level tree, split into
// production and test lines.
func Stats() error {
	trees := []string{"cmd", "internal", "pkg", "magefiles"}

	fmt.Printf("%-12s %10s %10s\n", "TREE", "PROD", "TEST")
	fmt.Println(strings.Repeat("-", 34))
	var totalProd, totalTest int
	for _, tree := range trees {
		prod, test, err := countGoLines(tree)
		if err != nil {
			return err
		}
		totalProd += prod
		totalTest += test
		fmt.Printf("%-12s %10d %10d\n", tree, prod, test)
	}
	fmt.Println(strings.Repeat("-", 34))
	fmt.Printf("%-12s %10d %10d\n", "total", totalProd, totalTest)
	return nil
}

// countGoLines walks root and counts non-blank lines in Go source files.
func countGoLines(root string) (prod, test int, err error) {
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".go" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		lines := 0
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) > 0 {
				lines++
			}
		}
		if strings.HasSuffix(path, "_test.go") {
			test += lines
		} else {
			prod += lines
		}
		return nil
	})
	return prod, test, err
}
