// Package db persists served predictions and training runs in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"irisapi/ml"
)

const schema = `
CREATE TABLE IF NOT EXISTS predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT,
    sepal_length REAL NOT NULL,
    sepal_width REAL NOT NULL,
    petal_length REAL NOT NULL,
    petal_width REAL NOT NULL,
    class_name TEXT NOT NULL,
    confidence REAL NOT NULL,
    model_version TEXT,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
CREATE TABLE IF NOT EXISTS training_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    model_version TEXT NOT NULL,
    model_type VARCHAR(50) NOT NULL,
    accuracy REAL,
    precision REAL,
    recall REAL,
    train_size INTEGER,
    test_size INTEGER,
    duration_ms INTEGER,
    trained_at DATETIME NOT NULL
);
`

type Store struct {
	db *sql.DB
}

// Open creates the database file and schema if needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	database, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database failed: %w", err)
	}
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("create tables failed: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type PredictionRecord struct {
	RequestID    string    `json:"request_id,omitempty"`
	SepalLength  float64   `json:"sepal_length"`
	SepalWidth   float64   `json:"sepal_width"`
	PetalLength  float64   `json:"petal_length"`
	PetalWidth   float64   `json:"petal_width"`
	ClassName    string    `json:"class_name"`
	Confidence   float64   `json:"confidence"`
	ModelVersion string    `json:"model_version,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Store) SavePrediction(ctx context.Context, p PredictionRecord) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO predictions (
            request_id, sepal_length, sepal_width, petal_length, petal_width,
            class_name, confidence, model_version, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.RequestID, p.SepalLength, p.SepalWidth, p.PetalLength, p.PetalWidth,
		p.ClassName, p.Confidence, p.ModelVersion, p.CreatedAt,
	)
	return err
}

// RecentPredictions returns up to limit predictions, newest first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]PredictionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT request_id, sepal_length, sepal_width, petal_length, petal_width,
               class_name, confidence, model_version, created_at
        FROM predictions
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0)
	for rows.Next() {
		var p PredictionRecord
		var requestID, version sql.NullString
		if err := rows.Scan(&requestID, &p.SepalLength, &p.SepalWidth, &p.PetalLength, &p.PetalWidth,
			&p.ClassName, &p.Confidence, &version, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.RequestID = requestID.String
		p.ModelVersion = version.String
		records = append(records, p)
	}
	return records, rows.Err()
}

type TrainingLog struct {
	ModelVersion string        `json:"model_version"`
	ModelType    string        `json:"model_type"`
	Accuracy     float64       `json:"accuracy"`
	Precision    float64       `json:"precision"`
	Recall       float64       `json:"recall"`
	TrainSize    int           `json:"train_size"`
	TestSize     int           `json:"test_size"`
	Duration     time.Duration `json:"duration"`
	TrainedAt    time.Time     `json:"trained_at"`
}

// NewTrainingLog summarizes a training run.
func NewTrainingLog(result *ml.TrainingResult) TrainingLog {
	return TrainingLog{
		ModelVersion: result.Info.Version,
		ModelType:    result.Info.ModelType,
		Accuracy:     result.Metrics.Accuracy,
		Precision:    result.Metrics.Precision,
		Recall:       result.Metrics.Recall,
		TrainSize:    result.TrainSize,
		TestSize:     result.TestSize,
		Duration:     result.Duration,
		TrainedAt:    result.Info.CreatedAt,
	}
}

func (s *Store) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	if log.TrainedAt.IsZero() {
		log.TrainedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (
            model_version, model_type, accuracy, precision, recall,
            train_size, test_size, duration_ms, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ModelVersion, log.ModelType, log.Accuracy, log.Precision, log.Recall,
		log.TrainSize, log.TestSize, log.Duration.Milliseconds(), log.TrainedAt,
	)
	return err
}

func (s *Store) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT model_version, model_type, accuracy, precision, recall,
               train_size, test_size, duration_ms, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		var durationMS int64
		if err := rows.Scan(&log.ModelVersion, &log.ModelType, &log.Accuracy, &log.Precision, &log.Recall,
			&log.TrainSize, &log.TestSize, &durationMS, &log.TrainedAt); err != nil {
			return nil, err
		}
		log.Duration = time.Duration(durationMS) * time.Millisecond
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
