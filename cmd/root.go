package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "taskwright"}

	root.AddCommand(serveCMD(), workerCMD(), migrateCMD(), runCMD(), replayCMD())
	_ = root.Execute()
}
