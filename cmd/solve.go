package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kilianp07/scm/core/algorithm"
	"github.com/kilianp07/scm/core/factory"
	"github.com/kilianp07/scm/qa/scenarios"
)

var (
	scenarioPath string
	solveAlg     string
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve a scenario file offline and check the allocation",
	RunE:  solveScenario,
}

func init() {
	solveCmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "scenario YAML file")
	solveCmd.Flags().StringVarP(&solveAlg, "algorithm", "a", "", "strategy ("+strings.Join(algorithm.Types(), "|")+"), all when empty")
	_ = solveCmd.MarkFlagRequired("scenario")
	rootCmd.AddCommand(solveCmd)
}

func solveScenario(cmd *cobra.Command, args []string) error {
	sc, err := scenarios.Load(scenarioPath)
	if err != nil {
		return err
	}
	names := algorithm.Types()
	if solveAlg != "" {
		names = []string{solveAlg}
	}
	out := cmd.OutOrStdout()
	failed := 0
	for _, name := range names {
		alg, err := algorithm.New(factory.ModuleConfig{Type: name})
		if err != nil {
			return err
		}
		res := scenarios.Run(sc, alg)
		printResult(out, sc, res)
		if sc.Expected.Applies(name) {
			for _, msg := range scenarios.Check(sc, res) {
				fmt.Fprintf(out, "  FAIL %s\n", msg)
				failed++
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d expectation(s) not met", failed)
	}
	return nil
}

func printResult(w io.Writer, sc *scenarios.Scenario, res scenarios.Result) {
	fmt.Fprintf(w, "%s [%s]\n", sc.Name, res.Algorithm)
	if res.Err != nil {
		fmt.Fprintf(w, "  error (%s): %v\n", res.ErrorKind(), res.Err)
		return
	}
	for _, e := range res.Allocation.Entries {
		vals := make([]string, len(e.Power))
		for t, v := range e.Power {
			vals[t] = fmt.Sprintf("%.0f", v)
		}
		fmt.Fprintf(w, "  %-12s %s  delivered=%.1fWh unmet=%.1fWh\n",
			e.Session.ID, strings.Join(vals, " "), res.Delivered[e.Session.ID], res.Unmet[e.Session.ID])
	}
	fmt.Fprintf(w, "  total unmet %.1f Wh\n", res.TotalUnmet())
}
