package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/proximadb/proximadb/internal/engine"
	"github.com/proximadb/proximadb/pkg"
)

func main() {
	cwd, _ := os.Getwd()

	dataDir := flag.String("db", cwd+"/mdbql.data", "directory to store table data")
	debug := flag.Bool("debug", false, "show debug logs in addition to errors")
	quiet := flag.Bool("quiet", false, "suppress all logging")
	flag.Parse()

	switch {
	case *quiet:
		pkg.SetLogLevel(pkg.LogLevelNone)
	case *debug:
		pkg.SetLogLevel(pkg.LogLevelDebug)
	default:
		pkg.SetLogLevel(pkg.LogLevelErrOnly)
	}

	e := engine.New(*dataDir)

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("mdbql> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("mdbql> ")
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		res, err := e.Execute(line)
		if err != nil {
			fmt.Println("error:", err)
			fmt.Print("mdbql> ")
			continue
		}
		printResult(res)
		fmt.Print("mdbql> ")
	}
}

func printResult(res *engine.Result) {
	if len(res.Columns) > 0 {
		fmt.Println(strings.Join(res.Columns, "\t"))
	}
	for _, row := range res.Rows {
		fmt.Println(strings.Join(row, "\t"))
	}
	fmt.Printf("(%d rows, %s)\n", res.Count, res.Elapsed)
}
