package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"milo/internal/bus"
	"milo/internal/task"
)

// missionCompleteMarker in a plan ends the mission explicitly.
const missionCompleteMarker = "MISSION COMPLETE"

// forceActionSteps is how many extra steps run with the force_action hint
// after the idle threshold trips, before the loop gives up.
const forceActionSteps = 2

// RunMission drives the orchestrator autonomously: each step is a planning
// sub-turn that writes a plan artifact, then an execution sub-turn carrying
// the plan text. The loop ends on explicit completion, idleness, or the
// step ceiling.
func (o *Orchestrator) RunMission(ctx context.Context, objective string) (map[string]any, error) {
	maxSteps := o.cfg.MissionMaxSteps
	if maxSteps <= 0 {
		maxSteps = 1
	}
	idleLimit := o.cfg.MissionIdleStepThreshold
	if idleLimit <= 0 {
		idleLimit = 1
	}

	o.log.Info("mission started: %s (max %d steps)", firstNonEmptyLine(objective), maxSteps)
	objLine := firstNonEmptyLine(objective)

	idle := 0
	forceRemaining := 0
	forcedOnce := false
	var last map[string]any

	for step := 1; step <= maxSteps; step++ {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		default:
		}

		mission := &task.MissionData{
			Objective:   objective,
			Step:        step,
			ForceAction: forceRemaining > 0,
		}
		o.events.Emit(bus.Event{
			Phase:   bus.PhaseThinking,
			Status:  bus.StatusProgress,
			Message: fmt.Sprintf("mission step %d/%d (idle %d/%d)", step, maxSteps, idle, idleLimit),
		})

		// Planning sub-turn.
		planState := &turnState{plan: true, planExpanded: true, mission: mission, objective: objLine}
		planResult, err := o.run(ctx, objective, planState)
		if err != nil {
			return last, err
		}
		planText := asString(planResult["plan"])
		if planText == "" {
			planText = asString(planResult["response"])
		}
		if missionDone(planResult, planText) {
			o.log.Info("mission complete after planning at step %d", step)
			return planResult, nil
		}
		if path, err := WritePlanArtifact(objective, planText, asString(planResult["thought"]), o.cfg.RunPolicy); err == nil {
			o.log.Debug("mission plan artifact: %s", path)
		}
		mission.PlanText = planText

		// Execution sub-turn.
		execState := &turnState{planExpanded: true, mission: mission, objective: objLine}
		execResult, err := o.run(ctx, objective, execState)
		if err != nil {
			return last, err
		}
		last = execResult
		if missionDone(execResult, "") {
			o.log.Info("mission complete at step %d", step)
			return execResult, nil
		}

		active := execState.appliedFiles > 0 || execState.ranCommands > 0 || execState.toolPasses > 0
		if active {
			idle = 0
		} else {
			idle++
		}
		if forceRemaining > 0 {
			forceRemaining--
			if forceRemaining == 0 && !active {
				o.notify("mission aborted: no progress even with forced action")
				return last, nil
			}
		}
		if idle >= idleLimit && forceRemaining == 0 {
			if forcedOnce {
				o.notify(fmt.Sprintf("mission aborted after %d idle steps", idle))
				return last, nil
			}
			forcedOnce = true
			forceRemaining = forceActionSteps
			idle = 0
			o.log.Warn("mission idle threshold hit; forcing action for %d steps", forceActionSteps)
		}
	}
	o.notify(fmt.Sprintf("mission stopped at step ceiling (%d)", maxSteps))
	return last, nil
}

func missionDone(result map[string]any, planText string) bool {
	if done, ok := result["mission_complete"].(bool); ok && done {
		return true
	}
	return strings.HasPrefix(strings.TrimSpace(planText), missionCompleteMarker)
}
