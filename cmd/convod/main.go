package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/convo/internal/daemon"
	"github.com/matheus3301/convo/internal/session"
	"go.uber.org/fx"
)

func main() {
	homeFlag := flag.String("home", "", "data directory (overrides $"+session.HomeEnv+")")
	flag.Parse()

	if *homeFlag != "" {
		_ = os.Setenv(session.HomeEnv, *homeFlag)
	}
	if err := session.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{}),
	)

	app.Run()
}
