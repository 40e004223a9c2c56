package main

import (
	"context"
	"lmsync-backend/cmd/lmsync-cli/commands"
	"lmsync-backend/lib/telemetry"
)

func main() {
	telemetry.InitSlog(true)
	commands.ExecuteContext(context.Background())
}
