package main

import (
	"github.com/spf13/cobra"

	"github.com/scoutline/picklist/internal/domain"
	"github.com/scoutline/picklist/internal/engine"
)

var generateFlags struct {
	position     string
	priorities   []string
	priorityFile string
	ownTeam      int
	exclude      []int
	cacheKey     string
	wait         bool
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a ranked picklist for a pick position",
	Example: `  picklist generate --position first --own-team 254 \
      --priority auto_points=5 --priority defense_rating=2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildService()
		if err != nil {
			return err
		}

		priorities, err := loadPriorities(generateFlags.priorities, generateFlags.priorityFile)
		if err != nil {
			return err
		}

		resp, err := svc.GeneratePicklist(cmd.Context(), engine.GenerateRequest{
			Position:      domain.PickPosition(generateFlags.position),
			Priorities:    priorities,
			OwnTeam:       generateFlags.ownTeam,
			ExcludedTeams: generateFlags.exclude,
			CacheKey:      generateFlags.cacheKey,
			Wait:          generateFlags.wait,
		})
		if err != nil {
			return printResponse(engine.ResponseFromError(err))
		}
		return printResponse(resp)
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateFlags.position, "position", "first",
		"pick position to rank for: first, second, or third")
	generateCmd.Flags().StringArrayVar(&generateFlags.priorities, "priority", nil,
		"metric=weight pair, repeatable")
	generateCmd.Flags().StringVar(&generateFlags.priorityFile, "priority-file", "",
		"YAML file of metric: weight entries, overridden by --priority flags")
	generateCmd.Flags().IntVar(&generateFlags.ownTeam, "own-team", 0,
		"requesting team's number")
	generateCmd.Flags().IntSliceVar(&generateFlags.exclude, "exclude", nil,
		"team numbers to leave out of the ranking")
	generateCmd.Flags().StringVar(&generateFlags.cacheKey, "cache-key", "",
		"extra cache partition key")
	generateCmd.Flags().BoolVar(&generateFlags.wait, "wait", true,
		"block until the ranking completes; the result cache lives in the "+
			"process, so --wait=false results are lost when the command exits")
	_ = generateCmd.MarkFlagRequired("own-team")

	rootCmd.AddCommand(generateCmd)
}
