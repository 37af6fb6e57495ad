package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"prediction-game-service/internal/config"
)

// NewRecalculateCmd re-grades and re-ranks a whole game once and exits.
func NewRecalculateCmd(configPath *string) *cobra.Command {
	var gameID string
	cmd := &cobra.Command{
		Use:   "recalculate",
		Short: "Re-grade every group of a game and rebuild its leaderboards",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(gameID)
			if err != nil {
				return fmt.Errorf("invalid --game: %w", err)
			}
			return runRecalculate(cmd.Context(), *configPath, id)
		},
	}
	cmd.Flags().StringVar(&gameID, "game", "", "game ID to recalculate")
	_ = cmd.MarkFlagRequired("game")
	return cmd
}

func runRecalculate(ctx context.Context, configPath string, gameID uuid.UUID) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	res, err := rt.service.RecalculateGame(ctx, gameID)
	if err != nil {
		return err
	}
	logger.Info("recalculation complete",
		zap.String("game_id", gameID.String()),
		zap.Int("graded", res.Graded),
		zap.Int("failed", len(res.Failed)))
	return nil
}
