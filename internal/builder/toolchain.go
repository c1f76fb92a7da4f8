// Package builder compiles a frozen source snapshot across the
// optimization x variant matrix and emits a single authoritative build
// receipt (spec.md §4.1). Subprocess invocation follows the teacher's
// llvm.ClangToolchain: discover a compiler, shell out to it with
// os/exec, and capture stdout/stderr/exit code into a typed result.
package builder

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Toolchain wraps the host C compiler driver used to produce x86-64 ELF
// artifacts. Unlike the teacher's ClangToolchain (which targets the
// cucaracha ISA and auto-discovers an in-tree LLVM build), this toolchain
// targets the host triple directly: the synthetic programs are compiled
// for the same architecture Reforge runs the DWARF oracle and decompiler
// against.
type Toolchain struct {
	CompilerPath string
	StripPath    string
}

// DiscoverToolchain finds a compiler driver and a strip tool on PATH,
// preferring an explicit path if one was configured, exactly as
// llvm.DiscoverClang falls back from an explicit ClangPath to PATH lookup.
func DiscoverToolchain(explicitCompiler, explicitStrip string) (*Toolchain, error) {
	compiler := explicitCompiler
	if compiler == "" {
		var err error
		compiler, err = findCompiler()
		if err != nil {
			return nil, err
		}
	}

	stripTool := explicitStrip
	if stripTool == "" {
		path, err := exec.LookPath("strip")
		if err != nil {
			return nil, fmt.Errorf("strip tool not found on PATH: %w", err)
		}
		stripTool = path
	}

	return &Toolchain{CompilerPath: compiler, StripPath: stripTool}, nil
}

func findCompiler() (string, error) {
	for _, candidate := range []string{"cc", "gcc", "clang"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no C compiler (cc, gcc, clang) found on PATH")
}

// Version returns the first line of `<compiler> --version`.
func (t *Toolchain) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, t.CompilerPath, "--version")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	lines := strings.SplitN(string(out), "\n", 2)
	return strings.TrimSpace(lines[0]), nil
}

// SubprocessResult is the generic outcome of one subprocess phase,
// independent of what phase invoked it (compile/link/strip/preprocess).
type SubprocessResult struct {
	Command    string
	ExitCode   int
	Stdout     string
	Stderr     string
	TimedOut   bool
	Duration   time.Duration
}

// run executes name with args under a timeout, capturing stdout/stderr
// separately (rather than the teacher's CombinedOutput) so callers can
// report them independently in phase records.
func run(ctx context.Context, timeout time.Duration, name string, args ...string) (SubprocessResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := SubprocessResult{
		Command:  name + " " + strings.Join(args, " "),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		return result, fmt.Errorf("%s: timed out after %s", name, timeout)
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
		return result, fmt.Errorf("%s exited %d: %w", name, result.ExitCode, err)
	}
	if err != nil {
		return result, err
	}
	return result, nil
}
