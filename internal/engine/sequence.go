package engine

import (
	"context"

	"github.com/calyptra/planrun/internal/plan"
	"github.com/calyptra/planrun/internal/quant"
	"github.com/calyptra/planrun/internal/ref"
)

// Step identifies one stage of the fixed micro-pipeline.
type Step int

const (
	StepConfigureInput Step = iota
	StepPerceiveValues
	StepPerceiveCross
	StepPerceiveActuator
	StepActuate
	StepActuateMemory
	StepReturnReference
	StepConfigureOutput
)

var stepNames = [...]string{
	"input_configuration",
	"memorized_value_perception",
	"cross_group_perception",
	"actuator_perception",
	"tool_perception_actuation",
	"memory_actuation",
	"return_reference",
	"output_configuration",
}

func (s Step) String() string {
	if int(s) < len(stepNames) {
		return stepNames[s]
	}
	return "unknown"
}

// NodeState tracks where a node stands within one resolution attempt.
// Loops revisit the whole ladder on every re-entry.
type NodeState int

const (
	StatePending NodeState = iota
	StateConfiguringInput
	StatePerceiving
	StateActuating
	StateReturning
	StateFinalized
)

var stateNames = [...]string{"pending", "configuring_input", "perceiving", "actuating", "returning", "finalized"}

func (s NodeState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Outcome is what a resolution attempt tells the orchestrator.
type Outcome int

const (
	// OutcomeFinalized: the node's concept-to-infer is resolved; advance.
	OutcomeFinalized Outcome = iota
	// OutcomeReenter: mid-loop or inputs pending; re-enter this node on the
	// next cycle rather than advancing.
	OutcomeReenter
)

func (o Outcome) String() string {
	if o == OutcomeFinalized {
		return "finalized"
	}
	return "reenter"
}

// sequence is the closed per-step dispatch interface: one implementation
// per inference-sequence variant, one method per step kind. The pipeline
// calls these in fixed order.
type sequence interface {
	ConfigureInput(r *nodeRun) error
	PerceiveValues(ctx context.Context, r *nodeRun) error
	PerceiveCross(r *nodeRun) error
	PerceiveActuator(r *nodeRun) error
	Actuate(ctx context.Context, r *nodeRun) error
	ActuateMemory(r *nodeRun) error
	ReturnReference(r *nodeRun) error
	ConfigureOutput(r *nodeRun) (Outcome, error)
}

// actionKind tags the executable action descriptor produced by actuator
// perception.
type actionKind int

const (
	actionGenerate actionKind = iota
	actionGroupAnd
	actionGroupOr
	actionAssign
	actionGate
	actionLoop
)

// actionDescriptor is the parsed form of a node's function operator.
type actionDescriptor struct {
	kind   actionKind
	prompt string
	group  quant.GroupOptions
	quants *quant.Quantifier
}

// nodeRun is the working state of one resolution attempt.
type nodeRun struct {
	node     *plan.Node
	state    NodeState
	flags    plan.Flags // effective flags (Once variants already applied)
	values   []*ref.Reference
	contexts []*ref.Reference
	combined *ref.Reference
	action   *actionDescriptor
	raw      string
	rawSet   bool
	out      *ref.Reference
}
