package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/dialtask/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	if os.Getenv("DIALTASK_AUTORESTART") != "" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "dialtask:", err)
		os.Exit(1)
	}
}
