package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/shopsync/internal/engine"
	"github.com/roach88/shopsync/internal/task"
)

// Scenario defines one reconciliation run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Orders is what the cloud lists as pending when the scenario starts.
	Orders []OrderSpec `yaml:"orders,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`

	// RetryAlertThreshold overrides the engine default when positive.
	RetryAlertThreshold int `yaml:"retry_alert_threshold,omitempty"`
}

// OrderSpec is a cloud order as written in a scenario.
type OrderSpec struct {
	ID          string      `yaml:"id"`
	OrderNumber string      `yaml:"order_number"`
	Items       []task.Item `yaml:"items,omitempty"`
	TotalAmount float64     `yaml:"total_amount,omitempty"`
}

// Step is one action of a scenario. Do selects the kind; the other fields
// are read only by the kinds that need them.
type Step struct {
	Do string `yaml:"do"`

	// Times repeats a tick step. Zero means once.
	Times int `yaml:"times,omitempty"`

	// Stage names the stage for a stage step.
	Stage string `yaml:"stage,omitempty"`

	OrderNumber string `yaml:"order_number,omitempty"`
	OrderID     string `yaml:"order_id,omitempty"`
	Invoice     string `yaml:"invoice,omitempty"`

	// File and Content are used by write_file.
	File    string `yaml:"file,omitempty"`
	Content string `yaml:"content,omitempty"`

	// Error is the failure to inject; empty clears it.
	Error string `yaml:"error,omitempty"`

	// Orders replaces the cloud listing for set_orders.
	Orders []OrderSpec `yaml:"orders,omitempty"`
}

// Step kinds.
const (
	StepTick       = "tick"
	StepStage      = "stage"
	StepBill       = "bill"
	StepWriteFile  = "write_file"
	StepTerminal   = "terminal"
	StepSetOrders  = "set_orders"
	StepFailFetch  = "fail_fetch"
	StepFailPush   = "fail_push"
	StepFailWrites = "fail_writes"
)

// Assertion validates the final state.
type Assertion struct {
	Type string `yaml:"type"`

	OrderNumber string `yaml:"order_number,omitempty"`
	OrderID     string `yaml:"order_id,omitempty"`
	Status      string `yaml:"status,omitempty"`

	// Invoice is checked when non-empty.
	Invoice string `yaml:"invoice,omitempty"`

	// RetryCount is checked when set.
	RetryCount *int `yaml:"retry_count,omitempty"`

	File  string `yaml:"file,omitempty"`
	Count *int   `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTaskStatus = "task_status"
	AssertTaskAbsent = "task_absent"
	AssertTaskCount  = "task_count"
	AssertFileExists = "file_exists"
	AssertFileAbsent = "file_absent"
	AssertPushed     = "pushed"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if err := validateOrders("orders", s.Orders); err != nil {
		return err
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateOrders(field string, orders []OrderSpec) error {
	for i, o := range orders {
		if o.ID == "" {
			return fmt.Errorf("%s[%d]: id is required", field, i)
		}
	}
	return nil
}

// validateStep validates a single step based on its kind.
func validateStep(index int, s *Step) error {
	if s.Times < 0 {
		return fmt.Errorf("steps[%d]: times must be non-negative", index)
	}

	switch s.Do {
	case StepTick, StepTerminal, StepFailFetch, StepFailWrites:
	case StepStage:
		if !knownStage(s.Stage) {
			return fmt.Errorf("steps[%d]: unknown stage %q", index, s.Stage)
		}
	case StepBill:
		if s.OrderNumber == "" || s.Invoice == "" {
			return fmt.Errorf("steps[%d]: order_number and invoice are required for bill", index)
		}
	case StepWriteFile:
		if s.File == "" {
			return fmt.Errorf("steps[%d]: file is required for write_file", index)
		}
	case StepSetOrders:
		if err := validateOrders(fmt.Sprintf("steps[%d].orders", index), s.Orders); err != nil {
			return err
		}
	case StepFailPush:
		if s.OrderID == "" {
			return fmt.Errorf("steps[%d]: order_id is required for fail_push", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: do is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown step %q", index, s.Do)
	}

	return nil
}

func knownStage(name string) bool {
	for _, st := range engine.Stages {
		if string(st) == name {
			return true
		}
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTaskStatus:
		if a.OrderNumber == "" {
			return fmt.Errorf("assertions[%d]: order_number is required for task_status", index)
		}
		if _, err := task.ParseStatus(a.Status); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertTaskAbsent:
		if a.OrderNumber == "" {
			return fmt.Errorf("assertions[%d]: order_number is required for task_absent", index)
		}
	case AssertTaskCount:
		if _, err := task.ParseStatus(a.Status); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for task_count", index)
		}
	case AssertFileExists, AssertFileAbsent:
		if a.File == "" {
			return fmt.Errorf("assertions[%d]: file is required for %s", index, a.Type)
		}
	case AssertPushed:
		if a.OrderID == "" {
			return fmt.Errorf("assertions[%d]: order_id is required for pushed", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for pushed", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
