package main

import (
	"cmgdl/cmd/cmgdl/commands"
	"cmgdl/internal/components/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
