//go:build ignore

// build.go builds and tests licensectl.
// Usage: go run build.go [-target=TARGET] [-v]
// Targets: all, build, test, release, clean

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

const (
	module     = "github.com/christian-schlichtherle/truelicense-sub000"
	executable = "licensectl"
)

var (
	version = "dev"
	distDir = "dist"

	// release platforms as GOOS/GOARCH pairs
	platforms = [][2]string{
		{"linux", "amd64"},
		{"linux", "arm64"},
		{"darwin", "arm64"},
		{"windows", "amd64"},
	}

	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func main() {
	target := flag.String("target", "all", "Build target")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.StringVar(&version, "version", version, "Version stamped into the binaries")
	flag.Parse()

	if runtime.GOOS == "windows" {
		colorReset, colorRed, colorGreen, colorYellow, colorCyan = "", "", "", "", ""
	}

	start := time.Now()
	var err error
	switch *target {
	case "all":
		if err = runTests(*verbose); err == nil {
			err = build(runtime.GOOS, runtime.GOARCH, *verbose)
		}
	case "build":
		err = build(runtime.GOOS, runtime.GOARCH, *verbose)
	case "test":
		err = runTests(*verbose)
	case "release":
		err = release(*verbose)
	case "clean":
		err = os.RemoveAll(distDir)
	case "help":
		showHelp()
		return
	default:
		printError(fmt.Sprintf("Unknown target: %s", *target))
		showHelp()
		os.Exit(1)
	}
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("%s finished in %s", *target, time.Since(start).Round(time.Millisecond)))
}

func build(goos, goarch string, verbose bool) error {
	name := executable
	if goos == "windows" {
		name += ".exe"
	}
	out := filepath.Join(distDir, goos+"-"+goarch, name)
	printInfo(fmt.Sprintf("Building %s", out))

	ldflags := fmt.Sprintf("-s -w -X %s/internal/infrastructure.Version=%s", module, version)
	cmd := exec.Command("go", "build", "-trimpath", "-ldflags", ldflags, "-o", out, "./cmd/"+executable)
	cmd.Env = append(os.Environ(), "GOOS="+goos, "GOARCH="+goarch, "CGO_ENABLED=0")
	return run(cmd, verbose)
}

func runTests(verbose bool) error {
	printInfo("Running tests")
	args := []string{"test", "-race", "-count=1", "./..."}
	if verbose {
		args = append(args, "-v")
	}
	return run(exec.Command("go", args...), true)
}

func release(verbose bool) error {
	if version == "dev" {
		printWarning("Releasing without -version, binaries report \"dev\"")
	}
	for _, p := range platforms {
		if err := build(p[0], p[1], verbose); err != nil {
			return fmt.Errorf("%s/%s: %w", p[0], p[1], err)
		}
	}
	return nil
}

func run(cmd *exec.Cmd, verbose bool) error {
	if verbose {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func printInfo(msg string) {
	fmt.Printf("%s→ %s%s\n", colorCyan, msg, colorReset)
}

func printSuccess(msg string) {
	fmt.Printf("%s✓ %s%s\n", colorGreen, msg, colorReset)
}

func printError(msg string) {
	fmt.Printf("%s✗ %s%s\n", colorRed, msg, colorReset)
}

func printWarning(msg string) {
	fmt.Printf("%s! %s%s\n", colorYellow, msg, colorReset)
}

func showHelp() {
	fmt.Println(`Usage: go run build.go [-target=TARGET] [-v] [-version=VERSION]

Targets:
  all      run the tests, then build for this platform (default)
  build    build licensectl for this platform
  test     run the tests with the race detector
  release  cross-compile licensectl into dist/
  clean    remove dist/`)
}
