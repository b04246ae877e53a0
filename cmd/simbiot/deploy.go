package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/LukaK/simbiot/internal/hosting"
)

var deployFlags struct {
	kind           string
	name           string
	entryPoint     string
	sourceDir      string
	modelData      string
	imageURI       string
	instanceType   string
	memoryMB       int32
	maxConcurrency int32
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Train or load the model and deploy it to a serverless endpoint",
	Long: `Deploy runs the whole hosting flow once: it resolves the execution role,
uploads the entry point, trains the model (or uses --model-data for a
pretrained one) and waits for the endpoint to come into service.

Flags override the model and deployment sections of the config file.`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

func init() {
	addDeployFlags(deployCmd.Flags())
}

func addDeployFlags(f *pflag.FlagSet) {
	f.StringVar(&deployFlags.kind, "kind", "", `model kind: "trained" or "pretrained"`)
	f.StringVar(&deployFlags.name, "name", "", "deployment name")
	f.StringVar(&deployFlags.entryPoint, "entry-point", "", "inference script inside the source directory")
	f.StringVar(&deployFlags.sourceDir, "source-dir", "", "directory holding the entry point (default: bundled script)")
	f.StringVar(&deployFlags.modelData, "model-data", "", "s3:// URI of pretrained model artifacts")
	f.StringVar(&deployFlags.imageURI, "image-uri", "", "container image (default: scikit-learn image for the region)")
	f.StringVar(&deployFlags.instanceType, "instance-type", "", "training instance type")
	f.Int32Var(&deployFlags.memoryMB, "memory-mb", 0, "serverless memory size in MB")
	f.Int32Var(&deployFlags.maxConcurrency, "max-concurrency", 0, "serverless max concurrency")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	spec, dcfg, err := deployRequest(cmd.Flags(), app.defaults.Model, app.defaults.Deployment)
	if err != nil {
		printError(err)
		return err
	}

	ctx := cmd.Context()
	if app.defaults.DeployTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.defaults.DeployTimeout)
		defer cancel()
	}

	slog.InfoContext(ctx, "starting deployment", "deployment", spec.Name, "kind", spec.Kind)
	p, err := app.orchestrator.Deploy(ctx, spec, dcfg)
	if err != nil {
		printError(err)
		return fmt.Errorf("deploy failed: %w", err)
	}
	printJSON(p.Deployment())
	return nil
}

// deployRequest applies the flags that were set on top of the defaults.
func deployRequest(flags *pflag.FlagSet, spec hosting.ModelSpec, dcfg hosting.DeploymentConfig) (hosting.ModelSpec, hosting.DeploymentConfig, error) {
	if flags.Changed("kind") {
		kind, err := hosting.ParseKind(deployFlags.kind)
		if err != nil {
			return spec, dcfg, err
		}
		if kind != spec.Kind {
			spec.ModelData = ""
		}
		spec.Kind = kind
	}
	set := func(flag string, dst *string, v string) {
		if flags.Changed(flag) {
			*dst = v
		}
	}
	set("name", &spec.Name, deployFlags.name)
	set("entry-point", &spec.EntryPoint, deployFlags.entryPoint)
	set("source-dir", &spec.SourceDir, deployFlags.sourceDir)
	set("model-data", &spec.ModelData, deployFlags.modelData)
	set("image-uri", &spec.ImageURI, deployFlags.imageURI)
	set("instance-type", &spec.InstanceType, deployFlags.instanceType)
	if flags.Changed("memory-mb") {
		dcfg.MemoryMB = deployFlags.memoryMB
	}
	if flags.Changed("max-concurrency") {
		dcfg.MaxConcurrency = deployFlags.maxConcurrency
	}
	return spec, dcfg, nil
}
