// monkeyc compiles Monkey source code into bytecode and runs it in a virtual
// machine. It can also build a source file into a self-contained executable
// by appending the serialized bytecode to a copy of itself.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/monkeyc-lang/monkeyc/bytecode"
	"github.com/monkeyc-lang/monkeyc/compiler"
	"github.com/monkeyc-lang/monkeyc/lexer"
	"github.com/monkeyc-lang/monkeyc/parser"
	"github.com/monkeyc-lang/monkeyc/repl"
	"github.com/monkeyc-lang/monkeyc/vm"
)

const version = "1.0.0"

func main() {
	// A built artifact carries its program in a trailer appended to this very
	// binary. When one is present, run it and skip command-line handling.
	if payload, ok := selfPayload(); ok {
		if err := runPayload(payload); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		return
	}

	cmd := &cli.Command{
		Name:    "monkeyc",
		Usage:   "compile and run Monkey programs",
		Version: version,
		Description: "monkeyc compiles Monkey source code into bytecode and runs it in a\n" +
			"virtual machine. Without arguments it starts an interactive REPL.",
		ArgsUsage: "[file.mon]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Aliases: []string{"d"},
				Usage:   "enable debug logging of the compile and run pipeline",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "disable colored output in the REPL",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "build",
				Usage:     "compile a source file into a self-contained executable",
				ArgsUsage: "<file.mon>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "output filename (default: input without .mon extension)",
					},
				},
				Action: buildAction,
			},
			{
				Name:  "version",
				Usage: "show version information",
				Action: func(_ context.Context, _ *cli.Command) error {
					fmt.Printf("monkeyc v%s\n", version)
					return nil
				},
			},
		},
		Action: rootAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// rootAction starts the REPL when no file is given, otherwise runs the file.
func rootAction(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		username := "unknown"
		if usr, err := user.Current(); err == nil {
			username = usr.Username
		}

		repl.Start(username, repl.Options{
			NoColor: cmd.Bool("no-color"),
			Debug:   cmd.Bool("debug"),
		})
		return nil
	}

	return runFile(cmd.Args().First(), newLogger(cmd.Bool("debug")))
}

// buildAction compiles a source file and writes a self-contained executable.
func buildAction(_ context.Context, cmd *cli.Command) error {
	input := cmd.Args().First()
	if input == "" {
		return errors.New("build requires an input file")
	}

	output := cmd.String("output")
	if output == "" {
		output = strings.TrimSuffix(input, ".mon")
	}
	if output == input {
		return fmt.Errorf("output %q would overwrite the input file", output)
	}

	logger := newLogger(cmd.Bool("debug"))

	bc, err := compileFile(input, logger)
	if err != nil {
		return err
	}

	payload, err := bytecode.Serialize(bc)
	if err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating own executable: %w", err)
	}
	image, err := os.ReadFile(exe)
	if err != nil {
		return fmt.Errorf("reading own executable: %w", err)
	}

	logger.Debug("writing build artifact",
		zap.String("output", output),
		zap.Int("image_bytes", len(image)),
		zap.Int("payload_bytes", len(payload)),
	)

	//nolint:gosec
	if err := os.WriteFile(output, bytecode.AppendTrailer(image, payload), 0o755); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}

	fmt.Printf("Built %s\n", output)
	return nil
}

// runFile compiles and runs a source file, printing the final value.
func runFile(filename string, logger *zap.Logger) error {
	bc, err := compileFile(filename, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	machine := vm.New(bc)
	if err := machine.Run(); err != nil {
		return fmt.Errorf("runtime error: %w", err)
	}
	logger.Debug("run finished", zap.Duration("elapsed", time.Since(start)))

	if top := machine.StackTop(); top != nil {
		fmt.Println(top.Inspect())
	}
	return nil
}

// compileFile reads, parses, and compiles a source file.
func compileFile(filename string, logger *zap.Logger) (*compiler.Bytecode, error) {
	cleaned := filepath.Clean(filename)
	if filepath.Ext(cleaned) != ".mon" {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: %q doesn't have a .mon extension\n", cleaned)
	}

	//nolint:gosec
	source, err := os.ReadFile(cleaned)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", cleaned, err)
	}

	return compileSource(string(source), logger)
}

// compileSource parses and compiles source text into bytecode.
func compileSource(source string, logger *zap.Logger) (*compiler.Bytecode, error) {
	start := time.Now()

	l := lexer.New(source)
	p := parser.New(l)
	program := p.ParseProgram()
	if len(p.Errors()) != 0 {
		return nil, errors.New("parse errors:\n\t" + strings.Join(p.Errors(), "\n\t"))
	}

	comp := compiler.New()
	if err := comp.Compile(program); err != nil {
		return nil, fmt.Errorf("compilation error: %w", err)
	}

	bc := comp.Bytecode()
	logger.Debug("compiled program",
		zap.Int("instruction_bytes", len(bc.Instructions)),
		zap.Int("constants", len(bc.Constants)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return bc, nil
}

// runPayload deserializes and executes an embedded program.
func runPayload(payload []byte) error {
	bc, err := bytecode.Deserialize(payload)
	if err != nil {
		return fmt.Errorf("corrupt embedded bytecode: %w", err)
	}

	machine := vm.New(bc)
	if err := machine.Run(); err != nil {
		return fmt.Errorf("runtime error: %w", err)
	}

	if top := machine.StackTop(); top != nil {
		fmt.Println(top.Inspect())
	}
	return nil
}

// selfPayload checks the running binary for an embedded bytecode trailer.
func selfPayload() ([]byte, bool) {
	exe, err := os.Executable()
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(exe)
	if err != nil {
		return nil, false
	}
	return bytecode.ExtractTrailer(data)
}

// newLogger returns a development logger when debug is set, a no-op logger
// otherwise.
func newLogger(debug bool) *zap.Logger {
	if !debug {
		return zap.NewNop()
	}
	return zap.Must(zap.NewDevelopment())
}
