package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vango-dev/hotreload/internal/config"
)

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"ext":           "extensions",
	"poll-interval": "pollInterval",
	"debounce":      "debounceWindow",
	"no-notify":     "notifyDisabled",
	"fallback":      "fallbackToScan",
	"max-tracked":   "maxTracked",
	"worker-id":     "workerID",
	"listen":        "listen",
	"signal-pid":    "reload.signal.pid",
	"signal":        "reload.signal.name",
	"broadcast":     "reload.broadcast",
	"s3-bucket":     "reload.s3.bucket",
	"s3-prefix":     "reload.s3.prefix",
	"s3-region":     "reload.s3.region",
}

func addFilterFlags(flags *pflag.FlagSet) {
	flags.StringSliceP("ext", "e", nil, "File extensions to watch, e.g. php,inc (default: all files)")
	flags.Int("max-tracked", 0, "Maximum number of tracked files (0 = unbounded)")
}

// loadConfig merges defaults, the config file, HOTRELOAD_* variables and
// flags. A root given as an argument overrides the configured one.
func loadConfig(cmd *cobra.Command, root string, exec []string) (*config.Config, error) {
	loader := config.NewLoader()
	if err := loader.BindFlags(cmd.Flags(), flagKeys); err != nil {
		return nil, err
	}
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		loader.Set("root", abs)
	}
	if len(exec) > 0 {
		loader.Set("reload.exec", exec)
	}

	if cfgFile != "" {
		return loader.LoadFile(cfgFile)
	}
	return loader.Load(".")
}

// splitArgs separates the optional root from a command given after "--".
func splitArgs(cmd *cobra.Command, args []string) (root string, exec []string) {
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		exec = args[dash:]
		args = args[:dash]
	}
	if len(args) > 0 {
		root = args[0]
	}
	return root, exec
}
