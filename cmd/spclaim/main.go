package main

import (
	"fmt"
	"os"

	logx "spclaim/pkg/logx"
)

func main() {
	cmd := newRootCmd()
	cmd.SetOut(logx.Stdout())
	cmd.SetErr(logx.Stderr())
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(logx.Stderr(), "fatal:", err)
		os.Exit(1)
	}
}
