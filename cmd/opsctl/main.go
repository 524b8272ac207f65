package main

import (
	"github.com/supplyops/opsconsole/internal/cli"
)

func main() {
	cli.Execute()
}
