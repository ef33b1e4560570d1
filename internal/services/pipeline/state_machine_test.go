package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/pce/internal/models"
)

func TestNextStage(t *testing.T) {
	ordered := models.OrderedStages()
	for i := 0; i < len(ordered)-1; i++ {
		next, ok := NextStage(ordered[i])
		assert.True(t, ok, ordered[i])
		assert.Equal(t, ordered[i+1], next)
	}

	for _, terminal := range []models.Stage{models.StageCompleted, models.StageCancelled, models.StageFailed} {
		_, ok := NextStage(terminal)
		assert.False(t, ok, terminal)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    models.Stage
		to      models.Stage
		trigger models.TriggeredBy
		want    bool
	}{
		{"automatic one step", models.StageOrderReceived, models.StageRender, models.TriggerAutomatic, true},
		{"automatic into completed", models.StageFulfillment, models.StageCompleted, models.TriggerAutomatic, true},
		{"automatic skip", models.StageOrderReceived, models.StageProduction, models.TriggerAutomatic, false},
		{"automatic backwards", models.StageProduction, models.StageRender, models.TriggerAutomatic, false},
		{"automatic in place", models.StageRender, models.StageRender, models.TriggerAutomatic, false},
		{"manual skip", models.StageOrderReceived, models.StageReadyToShip, models.TriggerManual, true},
		{"manual in place", models.StageRender, models.StageRender, models.TriggerManual, true},
		{"manual backwards", models.StageQualityCheck, models.StageRender, models.TriggerManual, false},
		{"retry in place", models.StageProduction, models.StageProduction, models.TriggerRetry, true},
		{"retry forward", models.StageProduction, models.StageQualityCheck, models.TriggerRetry, false},
		{"cancel from working stage", models.StageRender, models.StageCancelled, models.TriggerManual, true},
		{"fail from working stage", models.StageProduction, models.StageFailed, models.TriggerAutomatic, true},
		{"cancel from completed", models.StageCompleted, models.StageCancelled, models.TriggerManual, false},
		{"leave cancelled", models.StageCancelled, models.StageRender, models.TriggerManual, false},
		{"leave failed", models.StageFailed, models.StageFailed, models.TriggerRetry, false},
		{"unknown target", models.StageRender, models.Stage("PAINT"), models.TriggerManual, false},
		{"unknown trigger", models.StageRender, models.StageProduction, models.TriggeredBy("cron"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to, tt.trigger))
		})
	}
}

func TestRouteFor(t *testing.T) {
	for _, stage := range models.OrderedStages() {
		route, ok := RouteFor(stage)
		if stage == models.StageCompleted {
			assert.False(t, ok)
			continue
		}
		assert.True(t, ok, stage)
		assert.NotEmpty(t, route.Queue)

		back, ok := StageForJobType(route.JobType)
		assert.True(t, ok)
		assert.Equal(t, stage, back)
	}

	route, _ := RouteFor(models.StageQualityCheck)
	assert.Equal(t, models.QueueProduction, route.Queue)

	_, ok := StageForJobType(models.JobTypeRetryStage)
	assert.False(t, ok)
}
