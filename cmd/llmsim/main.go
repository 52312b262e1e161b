// llmsim simulates the OpenAI/Azure OpenAI HTTP API for integration testing:
// it serves shape-correct generated responses, or records real upstream
// traffic for byte-identical replay later.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	addr := flag.String("addr", ":8080", "address to listen on")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("llmsim", version)
		os.Exit(0)
	}

	if err := run(*addr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
