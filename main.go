package main

import (
	"flag"
	"fmt"
	"os"

	"restotrack/core/appbootstrap"
)

func main() {
	configPath := flag.String("config", "config.yml", "path to config file")
	flag.Parse()
	if err := appbootstrap.Run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "restotrack: %v\n", err)
		os.Exit(1)
	}
}
