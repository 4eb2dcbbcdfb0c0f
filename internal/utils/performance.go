package utils

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// StepTiming holds timing information for a single step
type StepTiming struct {
	Name      string
	StartTime time.Time
	Duration  time.Duration
	SubSteps  []*StepTiming
}

// StepAggregate holds aggregate timing information for a step
type StepAggregate struct {
	Count    int
	Failures int
	Total    time.Duration
	Average  time.Duration
	Min      time.Duration
	Max      time.Duration
	StepName string
}

// PerformanceTracker tracks execution times of different steps.
// StartStep/EndStep build a nested tree for sequential work; Track records
// flat steps and is safe to call from concurrent fetches.
type PerformanceTracker struct {
	currentStep *StepTiming
	steps       []*StepTiming
	aggregates  map[string]*StepAggregate
	mu          sync.Mutex
}

func NewPerformanceTracker() *PerformanceTracker {
	return &PerformanceTracker{
		steps:      make([]*StepTiming, 0),
		aggregates: make(map[string]*StepAggregate),
	}
}

// StartStep begins timing a new step
func (pt *PerformanceTracker) StartStep(name string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	step := &StepTiming{
		Name:      name,
		StartTime: time.Now(),
	}

	if pt.currentStep != nil {
		pt.currentStep.SubSteps = append(pt.currentStep.SubSteps, step)
	} else {
		pt.steps = append(pt.steps, step)
	}
	pt.currentStep = step
}

// EndStep completes timing for the current step
func (pt *PerformanceTracker) EndStep() {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.currentStep != nil {
		pt.currentStep.Duration = time.Since(pt.currentStep.StartTime)
		pt.record(pt.currentStep.Name, pt.currentStep.Duration, false)

		// Move back to parent step if exists
		found := false
		for _, step := range pt.steps {
			if found = pt.findParentStep(step, pt.currentStep); found {
				break
			}
		}
		if !found {
			pt.currentStep = nil
		}
	}
}

// Track times fn under name and records whether it failed.
func (pt *PerformanceTracker) Track(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)

	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.steps = append(pt.steps, &StepTiming{Name: name, StartTime: start, Duration: d})
	pt.record(name, d, err != nil)
	return err
}

// findParentStep recursively finds the parent of a step
func (pt *PerformanceTracker) findParentStep(current *StepTiming, target *StepTiming) bool {
	for _, subStep := range current.SubSteps {
		if subStep == target {
			pt.currentStep = current
			return true
		}
		if pt.findParentStep(subStep, target) {
			return true
		}
	}
	return false
}

// GenerateReport creates a formatted performance report
func (pt *PerformanceTracker) GenerateReport() string {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	var sb strings.Builder
	sb.WriteString("\n=== Performance Report ===\n")

	for _, step := range pt.steps {
		pt.writeStepReport(&sb, step, 0)
	}

	return sb.String()
}

func (pt *PerformanceTracker) writeStepReport(sb *strings.Builder, step *StepTiming, level int) {
	indent := strings.Repeat("  ", level)
	sb.WriteString(fmt.Sprintf("%s%s: %v\n", indent, step.Name, step.Duration.Round(time.Millisecond)))

	for _, subStep := range step.SubSteps {
		pt.writeStepReport(sb, subStep, level+1)
	}
}

// record updates aggregate timing information. Callers hold pt.mu.
func (pt *PerformanceTracker) record(name string, d time.Duration, failed bool) {
	agg, exists := pt.aggregates[name]
	if !exists {
		agg = &StepAggregate{
			StepName: name,
			Min:      d,
			Max:      d,
		}
		pt.aggregates[name] = agg
	}

	agg.Count++
	if failed {
		agg.Failures++
	}
	agg.Total += d
	agg.Average = agg.Total / time.Duration(agg.Count)

	if d < agg.Min {
		agg.Min = d
	}
	if d > agg.Max {
		agg.Max = d
	}
}

// Aggregates returns a copy of the aggregates sorted by total time, largest first.
func (pt *PerformanceTracker) Aggregates() []StepAggregate {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	steps := make([]StepAggregate, 0, len(pt.aggregates))
	for _, agg := range pt.aggregates {
		steps = append(steps, *agg)
	}
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].Total == steps[j].Total {
			return steps[i].StepName < steps[j].StepName
		}
		return steps[i].Total > steps[j].Total
	})
	return steps
}

// GenerateAggregateReport generates an aggregate performance report
func (pt *PerformanceTracker) GenerateAggregateReport() string {
	var sb strings.Builder
	sb.WriteString("\n=== Aggregate Performance Report ===\n")

	for _, agg := range pt.Aggregates() {
		sb.WriteString(fmt.Sprintf(
			"Step: %s\n"+
				"  Count:    %d\n"+
				"  Failures: %d\n"+
				"  Total:    %v\n"+
				"  Average:  %v\n"+
				"  Min:      %v\n"+
				"  Max:      %v\n",
			agg.StepName,
			agg.Count,
			agg.Failures,
			agg.Total.Round(time.Millisecond),
			agg.Average.Round(time.Millisecond),
			agg.Min.Round(time.Millisecond),
			agg.Max.Round(time.Millisecond),
		))
	}

	return sb.String()
}
