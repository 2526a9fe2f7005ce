// Command etch is the reference driver for the embedding API (spec
// §6.2): it does not parse Etch source (out of scope per spec.md's
// Non-goals) and instead operates on already-compiled bytecode files,
// the same split the teacher's cmd/langlang draws between grammar
// front-end and generated-parser back-end.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	etch "github.com/kunitoki/etch-sub006"
)

const defaultHeapCapacity = 4096

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "etch",
		Short: "Reference driver for the Etch bytecode VM",
	}
	root.AddCommand(newRunCmd(), newDumpCmd(), newCallCmd(), newCompileOnlyCmd(), newBenchCmd(), newTestCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		release bool
		heapCap int
	)
	cmd := &cobra.Command{
		Use:   "run <program.etchbc>",
		Short: "Execute a compiled program from its entry point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext(args[0], heapCap)
			if err != nil {
				return err
			}
			code, err := ctx.Execute()
			if err != nil {
				return err
			}
			os.Exit(code)
			return nil
		},
	}
	cmd.Flags().BoolVar(&release, "release", false, "strip debug info before running (no-op at the VM: stripping happens at compile time)")
	cmd.Flags().IntVar(&heapCap, "heap", defaultHeapCapacity, "heap slot capacity")
	return cmd
}

func newCallCmd() *cobra.Command {
	var heapCap int
	cmd := &cobra.Command{
		Use:   "call <program.etchbc> <function>",
		Short: "Invoke a single function by its mangled name with no arguments",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext(args[0], heapCap)
			if err != nil {
				return err
			}
			result, err := ctx.Call(args[1], nil)
			if err != nil {
				return err
			}
			fmt.Println(result.String())
			return nil
		},
	}
	cmd.Flags().IntVar(&heapCap, "heap", defaultHeapCapacity, "heap slot capacity")
	return cmd
}

func newDumpCmd() *cobra.Command {
	var color bool
	cmd := &cobra.Command{
		Use:   "dump <program.etchbc>",
		Short: "Pretty-print a compiled program's bytecode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			prog, err := etch.DecodeProgram(data)
			if err != nil {
				return err
			}
			if color {
				fmt.Print(prog.DumpColor())
			} else {
				fmt.Print(prog.Dump())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&color, "color", false, "ANSI-highlight the disassembly")
	return cmd
}

func newCompileOnlyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile-only <in.etchbc> <out.etchbc>",
		Short: "Round-trip a program through decode/encode, validating the wire format",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			prog, err := etch.DecodeProgram(data)
			if err != nil {
				return err
			}
			out, err := etch.EncodeProgram(prog)
			if err != nil {
				return err
			}
			return os.WriteFile(args[1], out, 0o644)
		},
	}
	return cmd
}

func newBenchCmd() *cobra.Command {
	var (
		heapCap int
		iters   int
	)
	cmd := &cobra.Command{
		Use:   "bench <program.etchbc>",
		Short: "Run a program's entry point repeatedly and report instruction throughput",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var total int64
			for i := 0; i < iters; i++ {
				ctx, err := loadContext(args[0], heapCap)
				if err != nil {
					return err
				}
				if _, err := ctx.Execute(); err != nil {
					return err
				}
				total += ctx.InstructionCount()
			}
			fmt.Printf("%d runs, %d instructions total, %d avg/run\n", iters, total, total/int64(iters))
			return nil
		},
	}
	cmd.Flags().IntVar(&heapCap, "heap", defaultHeapCapacity, "heap slot capacity")
	cmd.Flags().IntVar(&iters, "iters", 10, "number of repetitions")
	return cmd
}

// newTestCmd implements spec §6.2's "test a single file or directory":
// each <name>.etchbc is expected to carry a companion <name>.pass or
// <name>.fail sidecar declaring whether running it should succeed.
// A directory argument is walked for every *.etchbc it contains.
func newTestCmd() *cobra.Command {
	var heapCap int
	cmd := &cobra.Command{
		Use:   "test <file-or-dir>",
		Short: "Run compiled programs against .pass/.fail sidecar expectations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			programs, err := collectBytecodeFiles(args[0])
			if err != nil {
				return err
			}
			failures := 0
			for _, path := range programs {
				wantPass, sidecar, err := expectedOutcome(path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "SKIP %s: %v\n", path, err)
					continue
				}
				ctx, err := loadContext(path, heapCap)
				var runErr error
				if err == nil {
					_, runErr = ctx.Execute()
				} else {
					runErr = err
				}
				gotPass := runErr == nil
				if gotPass == wantPass {
					fmt.Fprintf(cmd.OutOrStdout(), "PASS %s\n", path)
					continue
				}
				failures++
				fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s (expected %s, sidecar %s): %v\n", path, outcomeWord(wantPass), sidecar, runErr)
			}
			if failures > 0 {
				return fmt.Errorf("%d test(s) failed", failures)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&heapCap, "heap", defaultHeapCapacity, "heap slot capacity")
	return cmd
}

func outcomeWord(pass bool) string {
	if pass {
		return "pass"
	}
	return "fail"
}

func collectBytecodeFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}
	var out []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".etchbc") {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// expectedOutcome finds path's .pass or .fail sidecar (same base name,
// swapped extension) and reports which outcome it declares.
func expectedOutcome(path string) (wantPass bool, sidecar string, err error) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	passSidecar := base + ".pass"
	failSidecar := base + ".fail"
	if _, err := os.Stat(passSidecar); err == nil {
		return true, passSidecar, nil
	}
	if _, err := os.Stat(failSidecar); err == nil {
		return false, failSidecar, nil
	}
	return false, "", fmt.Errorf("no .pass or .fail sidecar for %s", path)
}

func loadContext(path string, heapCap int) (*etch.Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ctx := etch.NewContext(etch.Options{})
	if err := ctx.Load(data, heapCap); err != nil {
		return nil, err
	}
	return ctx, nil
}
