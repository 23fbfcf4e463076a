package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/netprep/internal/model"
	"github.com/sells-group/netprep/internal/network"
)

// ErrNotFound is wrapped by lookups and updates that match no row.
var ErrNotFound = eris.New("not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Bank   string          `json:"bank,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// ScenarioInfo describes a stored scenario without its network.
type ScenarioInfo struct {
	Bank      string    `json:"bank"`
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	Nodes     int       `json:"nodes"`
	Links     int       `json:"links"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines the persistence interface for preparation runs and the
// scenario banks they read and write.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, req model.RunRequest) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error
	ListPhases(ctx context.Context, runID string) ([]model.RunPhase, error)

	// Scenarios. LoadScenario returns nil without error for an empty slot.
	// SaveScenarios replaces every given slot in one transaction.
	LoadScenario(ctx context.Context, bank string, id int) (*network.Scenario, error)
	ListScenarios(ctx context.Context, bank string) ([]ScenarioInfo, error)
	SaveScenarios(ctx context.Context, bank string, scenarios []*network.Scenario) error
	DeleteScenario(ctx context.Context, bank string, id int) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// LoadBank reads every scenario of a bank into memory.
func LoadBank(ctx context.Context, s Store, name string) (*network.MemoryBank, error) {
	infos, err := s.ListScenarios(ctx, name)
	if err != nil {
		return nil, err
	}
	bank := network.NewMemoryBank(name)
	for _, info := range infos {
		sc, err := s.LoadScenario(ctx, name, info.ID)
		if err != nil {
			return nil, err
		}
		if sc == nil {
			continue
		}
		if err := bank.Add(sc); err != nil {
			return nil, err
		}
	}
	return bank, nil
}

// runStatusFor is the status recorded with a final result.
func runStatusFor(result *model.RunResult) model.RunStatus {
	if result.Failed() {
		return model.RunStatusFailed
	}
	return model.RunStatusComplete
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
