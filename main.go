package main

import (
	"os"

	"github.com/The-Osiris-Labs/IBIS-AGI-TRADER-sub001/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
