package main

import (
	"os"

	"github.com/fahadfarid28/home-sub000/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
