package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/chatbridge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chatbridge:", err)
		os.Exit(1)
	}
}
