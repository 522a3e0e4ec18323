package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/offsync/internal/ir"
)

// Scenario describes one end-to-end run of the client.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Online is the initial connectivity state.
	Online bool `yaml:"online"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Expect is checked against the final state.
	Expect Expect `yaml:"expect"`
}

// Step is a single scenario operation. Which fields apply depends on Op.
type Step struct {
	Op string `yaml:"op"`

	// book
	Patient string `yaml:"patient,omitempty"`
	Doctor  string `yaml:"doctor,omitempty"`
	Date    string `yaml:"date,omitempty"`
	Time    string `yaml:"time,omitempty"`
	Notes   string `yaml:"notes,omitempty"`

	// cancel, confirm, reject
	Appointment string `yaml:"appointment,omitempty"`
	Reason      string `yaml:"reason,omitempty"`

	// discard
	Action string `yaml:"action,omitempty"`

	// fail_next, fail_storage
	Count int `yaml:"count,omitempty"`

	// ExpectError is the ErrorKind the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Expect describes the final state of a scenario. Unset fields are not
// checked.
type Expect struct {
	QueueLen      *int                `yaml:"queue_len,omitempty"`
	RemoteApplied *int                `yaml:"remote_applied,omitempty"`
	Appointments  []AppointmentExpect `yaml:"appointments,omitempty"`
}

// AppointmentExpect checks one appointment, looked up by id or alias.
type AppointmentExpect struct {
	ID         string    `yaml:"id"`
	ResolvesTo string    `yaml:"resolves_to,omitempty"`
	Status     ir.Status `yaml:"status,omitempty"`
	Synced     *bool     `yaml:"synced,omitempty"`
}

// Step operations.
const (
	OpBook        = "book"
	OpCancel      = "cancel"
	OpOnline      = "online"
	OpOffline     = "offline"
	OpDrain       = "drain"
	OpRestart     = "restart"
	OpConfirm     = "confirm"
	OpReject      = "reject"
	OpDiscard     = "discard"
	OpFailNext    = "fail_next"
	OpFailStorage = "fail_storage"
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
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files under dir, optionally
// filtered by a glob matched against the file name without extension.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
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
	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Expect.Appointments {
		if a.ID == "" {
			return fmt.Errorf("expect.appointments[%d]: id is required", i)
		}
		if a.Status != "" && !a.Status.Valid() {
			return fmt.Errorf("expect.appointments[%d]: unknown status %q", i, a.Status)
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	switch s.Op {
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	case OpBook:
		if s.Patient == "" || s.Doctor == "" || s.Date == "" || s.Time == "" {
			return fmt.Errorf("steps[%d]: book requires patient, doctor, date and time", index)
		}
	case OpCancel, OpConfirm, OpReject:
		if s.Appointment == "" {
			return fmt.Errorf("steps[%d]: appointment is required for %s", index, s.Op)
		}
	case OpDiscard:
		if s.Action == "" {
			return fmt.Errorf("steps[%d]: action is required for discard", index)
		}
	case OpFailNext, OpFailStorage:
		if s.Count <= 0 {
			return fmt.Errorf("steps[%d]: count must be positive for %s", index, s.Op)
		}
	case OpOnline, OpOffline, OpDrain, OpRestart:
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
	return nil
}
