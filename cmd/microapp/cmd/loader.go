package cmd

import (
	"context"

	"github.com/GoCodeAlone/microapp"
	"github.com/GoCodeAlone/microapp/config"
)

// configLoader resolves an application declared in the configuration file.
// Rendering happens elsewhere, so its lifecycle only reports each transition.
func configLoader(app config.App, logger microapp.Logger) microapp.Loader {
	return microapp.LoaderFunc(func(ctx context.Context, name string) (*microapp.Source, error) {
		step := func(stage microapp.Stage) microapp.LifecycleFunc {
			return func(ctx context.Context, props microapp.Props) error {
				logger.Info("Application lifecycle", "app", name, "stage", stage, "target", app.Target)
				return nil
			}
		}
		return &microapp.Source{
			Lifecycle: microapp.Lifecycle{
				Bootstrap: []microapp.LifecycleFunc{step(microapp.StageBootstrap)},
				Mount:     []microapp.LifecycleFunc{step(microapp.StageMount)},
				Unmount:   []microapp.LifecycleFunc{step(microapp.StageUnmount)},
				Update:    []microapp.LifecycleFunc{step(microapp.StageUpdate)},
				Unload:    []microapp.LifecycleFunc{step(microapp.StageUnload)},
			},
			Resources: app.Resources(),
		}, nil
	})
}
