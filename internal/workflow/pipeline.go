package workflow

import (
	"context"
	"sort"

	"github.com/deixis/overseer/internal/report"
)

// PipelineResult holds the full outcome of a pipeline run.
type PipelineResult struct {
	Run       *report.Run
	FailedIdx int // index of the first non-passing step; -1 if all passed
}

// Pipeline runs the named pipeline's steps in order. With fail_fast (the
// default) the first step that does not pass stops the pipeline and the
// remaining steps are marked skipped. Otherwise every step runs.
//
// The context is checked between steps; a cancelled pipeline skips the
// steps it did not start and returns the context error with the run.
func (e *Engine) Pipeline(ctx context.Context, name string) (*PipelineResult, error) {
	p, ok := e.Config.Pipelines[name]
	if !ok {
		return nil, ErrUnknownCommand{Kind: "pipeline", Name: name, Known: e.pipelineNames()}
	}

	run := e.newRun(report.Pipeline, name)
	run.Steps = make([]report.Step, len(p.Steps))
	for i, stepName := range p.Steps {
		run.Steps[i] = report.Step{Name: stepName, Status: report.Skipped, ExitCode: -1}
	}

	log := e.Log.With().Str("pipeline", name).Str("run_id", run.ID).Logger()
	log.Info().Int("steps", len(p.Steps)).Bool("fail_fast", p.StopOnFailure()).Msg("pipeline started")

	failedIdx := -1
	var ctxErr error
	for i, stepName := range p.Steps {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break
		}

		spec, err := e.Config.Command(stepName)
		if err != nil {
			run.Steps[i] = report.Step{Name: stepName, Status: report.Error, ExitCode: -1, Error: err.Error()}
		} else {
			run.Steps[i], _, _ = e.step(stepName, spec, 0)
		}

		if run.Steps[i].Status != report.Pass && failedIdx < 0 {
			failedIdx = i
			if p.StopOnFailure() {
				break
			}
		}
	}

	run.Status = report.Pass
	if failedIdx >= 0 {
		run.Status = run.Steps[failedIdx].Status
	} else if ctxErr != nil {
		run.Status = report.Skipped
	}
	e.save(run)

	log.Info().Str("status", string(run.Status)).Msg("pipeline finished")
	return &PipelineResult{Run: run, FailedIdx: failedIdx}, ctxErr
}

// PipelineNames returns the configured pipeline names, sorted.
func (e *Engine) PipelineNames() []string {
	return e.pipelineNames()
}

func (e *Engine) pipelineNames() []string {
	names := make([]string, 0, len(e.Config.Pipelines))
	for n := range e.Config.Pipelines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
