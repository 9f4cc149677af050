package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cachetool/cache-tool/internal/common"
	"github.com/cachetool/cache-tool/internal/config"
	"github.com/cachetool/cache-tool/internal/stats"
	"github.com/cachetool/cache-tool/internal/store"
)

// runCLI parses and executes a management subcommand (everything other
// than a compiler invocation): `show`, `zero-stats`, `clear`, `limits`,
// `version`. These call into C10/C5 collaborators whose internal
// correctness is out of spec.md's core scope (§1), but they are real,
// wired commands rather than stubs.
func runCLI(args []string) int {
	root := newRootCommand()
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "cache-tool",
		Short: "A transparent cache for C/C++ compilation",
		Long: "cache-tool sits in front of a C/C++ compiler and replaces repeated\n" +
			"compilations of unchanged inputs with fast copies of previously\n" +
			"produced object files. Invoke it directly as `cache-tool <compiler>\n" +
			"<args...>`, or via a symlink named like the compiler.",
		Version:      common.GetVersion(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(
		newShowCommand(),
		newZeroStatsCommand(),
		newClearCommand(),
		newLimitsCommand(),
		newVersionCommand(),
	)
	return root
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show cache statistics and usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			st := store.New(cfg)
			usage, err := st.CurrentUsage()
			if err != nil {
				return err
			}
			fmt.Printf("cache directory    %s\n", cfg.CacheDir)
			fmt.Printf("cache size         %s\n", common.FormatHumanSize(usage.Bytes))
			fmt.Printf("files in cache     %d\n", usage.Files)
			fmt.Print(stats.Summary(cfg.CacheDir))
			return nil
		},
	}
}

func newZeroStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "zero-stats",
		Short: "Zero the cache statistics counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := stats.Zero(cfg.CacheDir); err != nil {
				return err
			}
			fmt.Println("statistics zeroed")
			return nil
		},
	}
}

func newClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the cache, removing all cached entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			st := store.New(cfg)
			removed, err := st.Clear()
			if err != nil {
				return err
			}
			fmt.Printf("removed %d files (%s)\n", removed.Files, common.FormatHumanSize(removed.Bytes))
			return nil
		},
	}
}

func newLimitsCommand() *cobra.Command {
	var maxSize string
	var maxFiles int64

	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Enforce or report the cache size/file-count limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			st := store.New(cfg)

			limitBytes := cfg.MaxSizeBytes
			if maxSize != "" {
				if n, err := common.ParseHumanSize(maxSize); err == nil {
					limitBytes = n
				}
			}
			limitFiles := cfg.MaxFiles
			if maxFiles > 0 {
				limitFiles = maxFiles
			}

			if !cmd.Flags().Changed("max-size") && !cmd.Flags().Changed("max-files") {
				usage, err := st.CurrentUsage()
				if err != nil {
					return err
				}
				fmt.Printf("max cache size     %s\n", common.FormatHumanSize(limitBytes))
				fmt.Printf("max files          %d\n", limitFiles)
				fmt.Printf("current size       %s\n", common.FormatHumanSize(usage.Bytes))
				fmt.Printf("current files      %d\n", usage.Files)
				return nil
			}

			removed, err := st.EvictToLimit(limitBytes, limitFiles)
			if err != nil {
				return err
			}
			fmt.Printf("evicted %d files (%s) to satisfy limits\n", removed.Files, common.FormatHumanSize(removed.Bytes))
			return nil
		},
	}

	common.BindEnvString(cmd.Flags(), &maxSize, "max-size", "", "CACHE_MAXSIZE", "maximum cache size (e.g. 5G), applies and evicts immediately")
	common.BindEnvInt64(cmd.Flags(), &maxFiles, "max-files", 0, "CACHE_MAXFILES", "maximum cache file count, applies and evicts immediately")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cache-tool version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(os.Stdout, "cache-tool", common.GetVersion())
			return nil
		},
	}
}
