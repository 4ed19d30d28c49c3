package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"toaster/internal/config"
	"toaster/internal/daemon"
)

func main() {
	defPath, err := config.DefaultPath()
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	var cfgPath, socket string
	flag.StringVar(&cfgPath, "config", defPath, "path to config file (toml, yaml or json)")
	flag.StringVar(&socket, "socket", os.Getenv(config.EnvSocket), "control socket path (overrides control.socket)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfgPath, daemon.Options{Socket: strings.TrimSpace(socket)})
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	err = d.Start(ctx)
	_ = d.Close()
	if err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
}
