package main

import (
	"fmt"
	"os"

	"github.com/gookit/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flowsim-dev/flowsim/compile"
	"github.com/flowsim-dev/flowsim/datamodel"
	"github.com/flowsim-dev/flowsim/model"
	"github.com/flowsim-dev/flowsim/units"
)

var checkCmd = &cobra.Command{
	Use:   "check PROJECTFILE",
	Short: "Compile a model and report every diagnostic, including units",
	Args:  cobra.MinimumNArgs(1),
	Run:   checkCommand,
}

func checkCommand(cmd *cobra.Command, args []string) {
	proj, err := datamodel.LoadProjectFile(args[0])
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't load project file")
	}
	lowered := model.Build(proj)
	comp := compile.Compile(lowered)
	unitFindings := units.Check(lowered)

	for _, e := range comp.Errors {
		fmt.Fprintln(os.Stderr, color.Red.Sprint(e.Error()))
	}
	for _, e := range unitFindings {
		fmt.Fprintln(os.Stderr, color.Yellow.Sprint(e.Error()))
	}

	if len(comp.Errors) > 0 {
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, color.Green.Sprint("✓ Model compiles cleanly"))
}
