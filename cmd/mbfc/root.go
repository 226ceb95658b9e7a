package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mastodon-follower-network/internal/adapters/notify"
	"mastodon-follower-network/internal/domain"
	"mastodon-follower-network/internal/usecase/report"
)

var (
	configPath string
	countOnly  bool
	reportTop  int
)

var rootCmd = &cobra.Command{
	Use:           "mbfc",
	Short:         "Сеть подписчиков Mastodon-аккаунтов, ссылающихся на домены MBFC",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Найти в архивах посты со ссылками на домены MBFC",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), domain.StageScan, func(a *app) error {
			_, err := runScan(cmd.Context(), a, countOnly)
			return err
		})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Определить домашние аккаунты авторов найденных постов",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), domain.StageResolve, func(a *app) error {
			_, err := runResolve(cmd.Context(), a)
			return err
		})
	},
}

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Свернуть посты в уникальные аккаунты",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), domain.StageDedup, func(a *app) error {
			_, err := runDedup(cmd.Context(), a)
			return err
		})
	},
}

var followersCmd = &cobra.Command{
	Use:   "followers",
	Short: "Выгрузить подписчиков уникальных аккаунтов",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), domain.StageFollowers, func(a *app) error {
			_, err := runFollowers(cmd.Context(), a)
			return err
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Сводная статистика по аудитории аккаунтов",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), domain.StageReport, func(a *app) error {
			_, err := runReport(cmd.Context(), a, reportTop)
			return err
		})
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Выполнить все этапы по порядку",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runAll(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML-файл конфигурации поверх переменных окружения")
	scanCmd.Flags().BoolVar(&countOnly, "count-only", false, "только посчитать ссылки, ничего не записывая")
	reportCmd.Flags().IntVar(&reportTop, "top", 20, "сколько крупнейших аккаунтов показать")
	runCmd.Flags().IntVar(&reportTop, "top", 20, "сколько крупнейших аккаунтов показать")

	rootCmd.AddCommand(scanCmd, resolveCmd, dedupCmd, followersCmd, reportCmd, runCmd)
}

// runAll выполняет этапы конвейера. После отмены ctx следующий этап не начинается.
func runAll(ctx context.Context) error {
	var summary report.RunSummary
	steps := []struct {
		stage domain.Stage
		run   func(*app) error
	}{
		{domain.StageScan, func(a *app) (err error) { summary.Scan, err = runScan(ctx, a, false); return }},
		{domain.StageResolve, func(a *app) (err error) { summary.Resolve, err = runResolve(ctx, a); return }},
		{domain.StageDedup, func(a *app) (err error) { summary.Dedup, err = runDedup(ctx, a); return }},
		{domain.StageFollowers, func(a *app) (err error) { summary.Followers, err = runFollowers(ctx, a); return }},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("остановлено перед этапом %s: %w", step.stage, err)
		}
		if err := withApp(ctx, step.stage, step.run); err != nil {
			return err
		}
	}
	summary.Render(os.Stdout)

	return withApp(ctx, domain.StageReport, func(a *app) error {
		r, err := runReport(ctx, a, reportTop)
		if err != nil {
			return err
		}
		tg := a.cfg.Telegram
		if tg.Token == "" || tg.ChatID == 0 {
			return nil
		}
		n, err := notify.NewTelegram(tg.Token, "", tg.ChatID, a.log.With().Str("component", "notify").Logger())
		if err != nil {
			a.log.Warn().Err(err).Msg("report: уведомление не отправлено")
			return nil
		}
		if err := n.Notify(ctx, summary.String()+"\n"+r.String()); err != nil {
			a.log.Warn().Err(err).Msg("report: уведомление не отправлено")
		}
		return nil
	})
}
