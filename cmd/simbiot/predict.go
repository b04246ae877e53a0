package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sbinet/npyio"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/LukaK/simbiot/internal/codec"
)

var predictFlags struct {
	data string
	file string
}

var predictCmd = &cobra.Command{
	Use:   "predict NAME",
	Short: "Cluster samples on a deployed endpoint",
	Long: `Predict sends samples to the deployment NAME and prints one cluster label
per sample; -1 marks noise.

Samples come from --data, a comma-separated list of single-feature values,
or from --file, a two-dimensional float64 .npy array.`,
	Example: `  simbiot predict clustering --data 1,2,3,20,21,22,100
  simbiot predict clustering --file samples.npy`,
	Args: cobra.ExactArgs(1),
	RunE: runPredict,
}

func init() {
	predictCmd.Flags().StringVar(&predictFlags.data, "data", "", "comma-separated sample values")
	predictCmd.Flags().StringVar(&predictFlags.file, "file", "", "path to a .npy matrix of samples")
	predictCmd.MarkFlagsMutuallyExclusive("data", "file")
	predictCmd.MarkFlagsOneRequired("data", "file")
}

func runPredict(cmd *cobra.Command, args []string) error {
	m, err := loadSamples(predictFlags.data, predictFlags.file)
	if err != nil {
		printError(err)
		return err
	}
	labels, err := app.orchestrator.Predict(cmd.Context(), args[0], m)
	if err != nil {
		printError(err)
		return fmt.Errorf("predict failed: %w", err)
	}
	printJSON(map[string]any{"deployment": args[0], "labels": labels})
	return nil
}

func loadSamples(data, file string) (*mat.Dense, error) {
	if file != "" {
		return readNPY(file)
	}
	values, err := parseValues(data)
	if err != nil {
		return nil, err
	}
	return codec.Column(values)
}

func parseValues(data string) ([]float64, error) {
	fields := strings.Split(data, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid sample %q: %w", f, err)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("no samples given")
	}
	return out, nil
}

func readNPY(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return &m, nil
}
