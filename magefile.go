//go:build mage

// Copyright 2021-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryName = "treviwise"
	modulePath = "github.com/treviwise/treviwise"
	coverFile  = "coverage.out"
)

// GOEXE overrides the go executable
var goexe = "go"

func init() {
	if exe := os.Getenv("GOEXE"); exe != "" {
		goexe = exe
	}
}

// Build the treviwise binary with the commit hash and build date stamped in
func Build() error {
	fmt.Println("Building", binaryName)
	args := append([]string{"build", "-o", binaryName, "-ldflags", ldflags()}, buildArgs()...)
	return sh.RunWith(versionEnv(), goexe, append(args, ".")...)
}

// Install the binary into $GOPATH/bin
func Install() error {
	args := append([]string{"install", "-ldflags", ldflags()}, buildArgs()...)
	return sh.RunWith(versionEnv(), goexe, append(args, ".")...)
}

// Clean removes build and coverage artifacts
func Clean() {
	for _, f := range []string{binaryName, coverFile, "profile.out", "trace.out"} {
		os.Remove(f)
	}
}

// Check runs the formatters, vet and the race-enabled tests
func Check() {
	mg.Deps(Fmt, Vet)
	mg.Deps(TestRace)
}

// Test runs every ginkgo suite
func Test() error {
	return runTests()
}

// TestRace runs every ginkgo suite with the race detector
func TestRace() error {
	return runTests("-race")
}

// Cover writes a coverage profile for all packages and opens the html report
func Cover() error {
	if err := runTests("-coverprofile="+coverFile, "-covermode=count"); err != nil {
		return err
	}
	return sh.Run(goexe, "tool", "cover", "-html="+coverFile)
}

// Fmt fails when any package file is not gofmt'ed
func Fmt() error {
	pkgs, err := packageDirs()
	if err != nil {
		return err
	}

	// gofmt recurses into directories, so hand it files to stay out of _examples
	args := []string{"-l"}
	for _, pkg := range pkgs {
		files, err := filepath.Glob(filepath.Join(pkg, "*.go"))
		if err != nil {
			return err
		}
		args = append(args, files...)
	}
	out, err := sh.Output("gofmt", args...)
	if err != nil {
		return err
	}
	if out != "" {
		fmt.Println("The following files are not gofmt'ed:")
		fmt.Println(out)
		return errors.New("improperly formatted go files")
	}
	return nil
}

// Vet runs go vet over the module
func Vet() error {
	if err := sh.Run(goexe, "vet", "./..."); err != nil {
		return fmt.Errorf("error running go vet: %w", err)
	}
	return nil
}

// DryRun builds the binary and previews a market data run without writing
func DryRun() error {
	mg.Deps(Build)
	return sh.RunV("./"+binaryName, "update", "--dry-run")
}

func runTests(extra ...string) error {
	args := append([]string{"test"}, buildArgs()...)
	args = append(args, extra...)
	args = append(args, "./...")

	if mg.Verbose() {
		return sh.RunV(goexe, args...)
	}

	out, err := sh.Output(goexe, args...)
	if err != nil {
		fmt.Fprintln(os.Stderr, out)
	}
	return err
}

func ldflags() string {
	return fmt.Sprintf("-X %[1]s/common.CommitHash=$COMMIT_HASH -X %[1]s/common.BuildDate=$BUILD_DATE", modulePath)
}

func buildArgs() []string {
	var args []string
	if runtime.GOOS == "windows" {
		args = append(args, "-buildmode", "exe")
	}
	if tags := os.Getenv("BUILD_TAGS"); tags != "" {
		args = append(args, "-tags", tags)
	}
	return args
}

func versionEnv() map[string]string {
	hash, _ := sh.Output("git", "rev-parse", "--short", "HEAD")
	return map[string]string{
		"COMMIT_HASH": hash,
		"BUILD_DATE":  time.Now().UTC().Format(time.RFC3339),
	}
}

// packageDirs lists the module's package directories relative to the root
func packageDirs() ([]string, error) {
	out, err := sh.Output(goexe, "list", "./...")
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, pkg := range strings.Split(out, "\n") {
		pkg = strings.TrimSpace(pkg)
		if pkg == "" {
			continue
		}
		dir := "." + strings.TrimPrefix(pkg, modulePath)
		dirs = append(dirs, dir)
	}
	return dirs, nil
}
