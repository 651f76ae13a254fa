package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/scm/infra/sitemock"
)

var (
	mockCfg      sitemock.Config
	mockGenerate int
	mockSeed     uint64
)

var sitemockCmd = &cobra.Command{
	Use:   "sitemock",
	Short: "Serve a development charging site API",
	RunE:  runSiteMock,
}

func init() {
	f := sitemockCmd.Flags()
	f.StringVar(&mockCfg.Address, "addr", ":8090", "listen address")
	f.Float64Var(&mockCfg.BudgetW, "budget", 22000, "constant budget in W for every group")
	f.Float64Var(&mockCfg.Voltage, "voltage", 0, "recommended voltage, none when 0")
	f.StringSliceVar(&mockCfg.Groups, "group", []string{"default"}, "site groups")
	f.BoolVar(&mockCfg.AccessLog, "access-log", true, "log every request")
	f.IntVar(&mockGenerate, "generate", 0, "add a random reservation every N seconds, disabled when 0")
	f.Uint64Var(&mockSeed, "seed", 0, "random generator seed")
	rootCmd.AddCommand(sitemockCmd)
}

func runSiteMock(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := sitemock.NewHub()
	srv := sitemock.NewServer(mockCfg, sitemock.NewSite(), hub)
	if mockGenerate > 0 {
		mockCfg.SetDefaults()
		gen := sitemock.NewGenerator(sitemock.GeneratorConfig{
			Group:           mockCfg.Groups[0],
			IntervalSeconds: mockGenerate,
			Seed:            mockSeed,
		}, srv.Site(), hub)
		go gen.Run(ctx)
	}
	return srv.Start(ctx)
}
