package main

import (
	"fmt"
	"os"

	"eduff/ketch/cmd"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		fmt.Println("Error: ", err)
		os.Exit(1)
	}
}
