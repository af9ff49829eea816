package main

import (
	"log"

	"github.com/jpavez/tender-scout/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
