package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/gookit/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flowsim-dev/flowsim/compile"
	"github.com/flowsim-dev/flowsim/datamodel"
	"github.com/flowsim-dev/flowsim/interp"
	"github.com/flowsim-dev/flowsim/model"
	"github.com/flowsim-dev/flowsim/vm"
)

var (
	debugFlag  bool
	interpFlag bool
	outFlag    string
)

var runCmd = &cobra.Command{
	Use:   "run PROJECTFILE",
	Short: "Simulate a model and write results as CSV",
	Args:  cobra.MinimumNArgs(1),
	Run:   runCommand,
}

func init() {
	runCmd.Flags().BoolVar(&debugFlag, "debug", false, "Dump the compiled bytecode before running")
	runCmd.Flags().BoolVar(&interpFlag, "interp", false, "Run the reference interpreter instead of the VM")
	runCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Write results to a file instead of stdout")
}

func runCommand(cmd *cobra.Command, args []string) {
	comp := compileFile(args[0])
	printDiagnostics(comp.Errors)
	if comp.Program == nil {
		log.Fatal().Msg("Nothing to simulate")
	}
	if debugFlag {
		comp.Program.DebugPrint()
	}

	var results *vm.Results
	if interpFlag {
		sim := interp.NewSim(comp)
		if err := sim.RunToEnd(); err != nil {
			log.Fatal().Err(err).Msg("Simulation failed")
		}
		results = sim.Results()
	} else {
		sim := vm.NewSim(comp.Program)
		if err := sim.RunToEnd(); err != nil {
			log.Fatal().Err(err).Msg("Simulation failed")
		}
		results = sim.Results()
	}

	out := os.Stdout
	if outFlag != "" {
		f, err := os.Create(outFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Couldn't create output file")
		}
		defer f.Close()
		out = f
	}
	if err := writeCSV(out, results); err != nil {
		log.Fatal().Err(err).Msg("Couldn't write results")
	}
	fmt.Fprintln(os.Stderr, color.Green.Sprintf("✓ %d steps saved", results.Rows))
}

func compileFile(filename string) *compile.Compiled {
	proj, err := datamodel.LoadProjectFile(filename)
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't load project file")
	}
	return compile.Compile(model.Build(proj))
}

func printDiagnostics(errs datamodel.ErrorList) {
	for _, e := range errs {
		fmt.Fprintln(os.Stderr, color.Yellow.Sprint(e.Error()))
	}
}

// writeCSV emits one column per saved variable, time first, internal
// slots (dt and friends, synthesized builtin state) omitted.
func writeCSV(f *os.File, r *vm.Results) error {
	names := []string{"time"}
	for _, n := range r.Names() {
		switch n {
		case "time", "dt", "initial_time", "final_time":
			continue
		}
		names = append(names, n)
	}

	w := csv.NewWriter(f)
	if err := w.Write(names); err != nil {
		return err
	}
	cols := make([][]float64, len(names))
	for i, n := range names {
		cols[i], _ = r.Series(n)
	}
	row := make([]string, len(names))
	for i := 0; i < r.Rows; i++ {
		for j := range names {
			row[j] = strconv.FormatFloat(cols[j][i], 'g', -1, 64)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
