package storage

import (
	"database/sql"

	"github.com/rickybalin/SmartSim/internal/models"
	_ "modernc.org/sqlite"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS experiments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		name TEXT NOT NULL,
		spec_name TEXT NOT NULL,
		path TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		experiment_id INTEGER NOT NULL REFERENCES experiments(id),
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		exit_code INTEGER,
		pid INTEGER,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		output TEXT,
		error TEXT,
		sequence_num INTEGER NOT NULL,
		UNIQUE(experiment_id, sequence_num)
	);

	CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);
	CREATE INDEX IF NOT EXISTS idx_steps_experiment ON steps(experiment_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) CreateExperiment(exp *models.Experiment) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO experiments (name, spec_name, path, status, error)
		 VALUES (?, ?, ?, ?, ?)`,
		exp.Name, exp.SpecName, exp.Path, exp.Status, exp.Error,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) GetExperiment(id int64) (*models.Experiment, error) {
	row := s.db.QueryRow(
		`SELECT id, created_at, completed_at, name, spec_name, path, status, error
		 FROM experiments WHERE id = ?`, id,
	)

	var exp models.Experiment
	var completedAt sql.NullTime
	var errText sql.NullString

	err := row.Scan(
		&exp.ID, &exp.CreatedAt, &completedAt, &exp.Name,
		&exp.SpecName, &exp.Path, &exp.Status, &errText,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		exp.CompletedAt = &completedAt.Time
	}
	if errText.Valid {
		exp.Error = errText.String
	}

	return &exp, nil
}

func (s *Storage) UpdateExperiment(exp *models.Experiment) error {
	_, err := s.db.Exec(
		`UPDATE experiments SET completed_at = ?, status = ?, path = ?, error = ? WHERE id = ?`,
		exp.CompletedAt, exp.Status, exp.Path, exp.Error, exp.ID,
	)
	return err
}

func (s *Storage) ListExperiments(limit int) ([]*models.Experiment, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, completed_at, name, spec_name, path, status, error
		 FROM experiments ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exps []*models.Experiment
	for rows.Next() {
		var exp models.Experiment
		var completedAt sql.NullTime
		var errText sql.NullString

		err := rows.Scan(
			&exp.ID, &exp.CreatedAt, &completedAt, &exp.Name,
			&exp.SpecName, &exp.Path, &exp.Status, &errText,
		)
		if err != nil {
			return nil, err
		}

		if completedAt.Valid {
			exp.CompletedAt = &completedAt.Time
		}
		if errText.Valid {
			exp.Error = errText.String
		}

		exps = append(exps, &exp)
	}

	return exps, rows.Err()
}

func (s *Storage) CreateStep(step *models.Step) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO steps (experiment_id, name, status, exit_code, pid, started_at, completed_at, output, error, sequence_num)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ExperimentID, step.Name, step.Status, step.ExitCode, step.PID,
		step.StartedAt, step.CompletedAt, step.Output, step.Error, step.SequenceNum,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) UpdateStep(step *models.Step) error {
	_, err := s.db.Exec(
		`UPDATE steps SET status = ?, exit_code = ?, pid = ?, started_at = ?, completed_at = ?, output = ?, error = ?
		 WHERE id = ?`,
		step.Status, step.ExitCode, step.PID, step.StartedAt, step.CompletedAt,
		step.Output, step.Error, step.ID,
	)
	return err
}

func (s *Storage) UpdateStepPID(stepID int64, pid int) error {
	_, err := s.db.Exec(`UPDATE steps SET pid = ? WHERE id = ?`, pid, stepID)
	return err
}

func (s *Storage) GetStepsForExperiment(expID int64) ([]*models.Step, error) {
	rows, err := s.db.Query(
		`SELECT id, experiment_id, name, status, exit_code, pid, started_at, completed_at, output, error, sequence_num
		 FROM steps WHERE experiment_id = ? ORDER BY sequence_num`, expID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.Step
	for rows.Next() {
		var step models.Step
		var output, errText sql.NullString
		var exitCode, pid sql.NullInt64
		var startedAt, completedAt sql.NullTime

		err := rows.Scan(
			&step.ID, &step.ExperimentID, &step.Name, &step.Status,
			&exitCode, &pid, &startedAt, &completedAt, &output, &errText, &step.SequenceNum,
		)
		if err != nil {
			return nil, err
		}

		if exitCode.Valid {
			code := int(exitCode.Int64)
			step.ExitCode = &code
		}
		if pid.Valid {
			p := int(pid.Int64)
			step.PID = &p
		}
		if startedAt.Valid {
			step.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			step.CompletedAt = &completedAt.Time
		}
		if output.Valid {
			step.Output = output.String
		}
		if errText.Valid {
			step.Error = errText.String
		}

		steps = append(steps, &step)
	}

	return steps, rows.Err()
}

func (s *Storage) GetRunningStepForExperiment(expID int64) (*models.Step, error) {
	steps, err := s.GetStepsForExperiment(expID)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		if step.Status == models.StepStatusRunning {
			return step, nil
		}
	}
	return nil, nil
}

func (s *Storage) DeleteExperiment(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM steps WHERE experiment_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM experiments WHERE id = ?`, id); err != nil {
		return err
	}

	return tx.Commit()
}
