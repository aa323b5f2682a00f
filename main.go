package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/gemmars/model-compiler/cmd/cli/commands"
	"github.com/gemmars/model-compiler/pkg/config"
)

var log = logrus.New()

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	rootCmd := commands.NewRootCmd(log, cfg)
	rootCmd.SetArgs(append(createArgsFromEnv(), os.Args[1:]...))

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// createArgsFromEnv returns the extra flags set through GRMD_ARGS. They come
// before the command line, so flags given explicitly take precedence.
func createArgsFromEnv() []string {
	argsStr := os.Getenv(config.EnvArgs)
	if argsStr == "" {
		return nil
	}

	args, err := config.ExtraArgs(argsStr)
	if err != nil {
		log.Fatalf("%v", err)
		return nil
	}

	log.Infof("Using custom arguments: %v", args)
	return args
}
