package pipeline

import (
	"github.com/ternarybob/pce/internal/models"
)

// StageRoute names the queue and job type that perform a stage's work
type StageRoute struct {
	Queue   string
	JobType string
}

var stageRoutes = map[models.Stage]StageRoute{
	models.StageOrderReceived: {Queue: models.QueuePipeline, JobType: models.JobTypeValidateOrder},
	models.StageRender:        {Queue: models.QueueRender, JobType: models.JobTypeRender2D},
	models.StageProduction:    {Queue: models.QueueProduction, JobType: models.JobTypeProductionSubmit},
	models.StageQualityCheck:  {Queue: models.QueueProduction, JobType: models.JobTypeQualityCheck},
	models.StageReadyToShip:   {Queue: models.QueueFulfillment, JobType: models.JobTypePrepareShipment},
	models.StageFulfillment:   {Queue: models.QueueFulfillment, JobType: models.JobTypeShipOrder},
}

// RouteFor returns the queue routing for a working stage. Terminal stages have none.
func RouteFor(stage models.Stage) (StageRoute, bool) {
	route, ok := stageRoutes[stage]
	return route, ok
}

// StageForJobType is the inverse of RouteFor
func StageForJobType(jobType string) (models.Stage, bool) {
	for stage, route := range stageRoutes {
		if route.JobType == jobType {
			return stage, true
		}
	}
	return "", false
}

// NextStage returns the stage that follows from in the canonical order
func NextStage(from models.Stage) (models.Stage, bool) {
	if from.IsTerminal() {
		return "", false
	}
	idx := from.Index()
	ordered := models.OrderedStages()
	if idx < 0 || idx+1 >= len(ordered) {
		return "", false
	}
	return ordered[idx+1], true
}

// CanTransition reports whether moving from -> to is legal for the trigger.
//
// Automatic moves go exactly one step forward. Manual moves may target the
// current stage or any later one. Retry re-enters the current stage. CANCELLED and
// FAILED are reachable from every non-terminal stage and nothing leaves a
// terminal stage.
func CanTransition(from, to models.Stage, trigger models.TriggeredBy) bool {
	if from.IsTerminal() || from.Index() < 0 {
		return false
	}
	if to == models.StageCancelled || to == models.StageFailed {
		return true
	}
	if to.Index() < 0 {
		return false
	}

	switch trigger {
	case models.TriggerAutomatic:
		return to.Index() == from.Index()+1
	case models.TriggerManual:
		return to.Index() >= from.Index()
	case models.TriggerRetry:
		return to == from
	}
	return false
}
