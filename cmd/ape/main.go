// Command ape is the Ape language's CLI: run a script file, evaluate a
// one-line expression, or fall back to the interactive REPL.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dr8co/ape/ape"
	"github.com/dr8co/ape/object"
	"github.com/dr8co/ape/repl"
)

const version = "0.1.0"

func main() {
	var (
		file    = flag.String("f", "", "execute the script at this path")
		eval    = flag.String("e", "", "evaluate this expression and print its result")
		debug   = flag.Bool("d", false, "enable debug output")
		noColor = flag.Bool("no-color", false, "disable REPL syntax highlighting")
		showVer = flag.Bool("v", false, "print version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Println("ape", version)
		return
	}

	switch {
	case *file != "":
		os.Exit(executeFile(*file, *debug))
	case *eval != "":
		os.Exit(evaluateExpression(*eval, *debug))
	default:
		username := os.Getenv("USER")
		repl.Start(username, repl.Options{NoColor: *noColor, Debug: *debug})
	}
}

func executeFile(path string, debug bool) int {
	engine := ape.New(ape.WithStdout(os.Stdout))
	defer engine.Destroy()

	result, err := engine.ExecuteFile(path)
	return report(engine, result, err, debug)
}

func evaluateExpression(src string, debug bool) int {
	engine := ape.New(ape.WithStdout(os.Stdout))
	defer engine.Destroy()

	result, err := engine.Execute(src)
	return report(engine, result, err, debug)
}

func report(engine *ape.Ape, result object.Value, err error, debug bool) int {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if engine.HasErrors() {
		for i := 0; i < engine.ErrorsCount(); i++ {
			fmt.Fprintln(os.Stderr, engine.ErrorSerialize(engine.GetError(i)))
		}
		return 1
	}
	if debug {
		fmt.Fprintln(os.Stderr, "DEBUG: result type:", engine.ObjectTypeString(result))
	}
	fmt.Println(engine.Heap().Inspect(result))
	return 0
}
