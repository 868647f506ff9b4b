package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scoutline/picklist/internal/domain"
	"github.com/scoutline/picklist/internal/engine"
)

var rankMissingFlags struct {
	position     string
	priorities   []string
	priorityFile string
	ownTeam      int
	existing     []int
	rankingFile  string
}

var rankMissingCmd = &cobra.Command{
	Use:   "rank-missing",
	Short: "Rank dataset teams absent from an existing picklist",
	Long: "Ranks only the teams that appear in the dataset but not in the " +
		"existing ranking, so a picklist can be patched without regenerating " +
		"it. The existing ranking is given as --existing team numbers or as " +
		"a saved generate output via --ranking-file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildService()
		if err != nil {
			return err
		}

		priorities, err := loadPriorities(rankMissingFlags.priorities, rankMissingFlags.priorityFile)
		if err != nil {
			return err
		}

		existing := rankMissingFlags.existing
		if rankMissingFlags.rankingFile != "" {
			fromFile, err := teamsFromRankingFile(rankMissingFlags.rankingFile)
			if err != nil {
				return err
			}
			existing = append(existing, fromFile...)
		}

		resp, err := svc.RankMissingTeams(cmd.Context(), existing,
			domain.PickPosition(rankMissingFlags.position), priorities, rankMissingFlags.ownTeam)
		if err != nil {
			return printResponse(engine.ResponseFromError(err))
		}
		return printResponse(resp)
	},
}

// teamsFromRankingFile extracts team numbers from a saved response
// envelope.
func teamsFromRankingFile(path string) ([]int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ranking file: %w", err)
	}
	var saved engine.Response
	if err := json.Unmarshal(raw, &saved); err != nil {
		return nil, fmt.Errorf("parse ranking file: %w", err)
	}
	teams := make([]int, 0, len(saved.Ranking))
	for _, entry := range saved.Ranking {
		teams = append(teams, entry.TeamNumber)
	}
	return teams, nil
}

func init() {
	rankMissingCmd.Flags().StringVar(&rankMissingFlags.position, "position", "first",
		"pick position to rank for: first, second, or third")
	rankMissingCmd.Flags().StringArrayVar(&rankMissingFlags.priorities, "priority", nil,
		"metric=weight pair, repeatable")
	rankMissingCmd.Flags().StringVar(&rankMissingFlags.priorityFile, "priority-file", "",
		"YAML file of metric: weight entries, overridden by --priority flags")
	rankMissingCmd.Flags().IntVar(&rankMissingFlags.ownTeam, "own-team", 0,
		"requesting team's number")
	rankMissingCmd.Flags().IntSliceVar(&rankMissingFlags.existing, "existing", nil,
		"team numbers already in the picklist")
	rankMissingCmd.Flags().StringVar(&rankMissingFlags.rankingFile, "ranking-file", "",
		"saved generate output to read the existing ranking from")
	_ = rankMissingCmd.MarkFlagRequired("own-team")

	rootCmd.AddCommand(rankMissingCmd)
}
