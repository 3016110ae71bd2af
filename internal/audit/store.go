// Package audit keeps the append-only trail of apply invocations: one
// results file per invocation, never overwritten, plus a queryable SQLite
// index. The trail is what turns an aborted run into a verifiable record
// instead of silence.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"adpilot/internal/apply"
	"adpilot/internal/artifact"
	"adpilot/internal/config"
	"adpilot/internal/logger"
)

// invocationModel is the index row for one apply invocation.
type invocationModel struct {
	ID            uint           `gorm:"primaryKey;autoIncrement"`
	InvocationID  string         `gorm:"column:invocation_id;uniqueIndex"`
	PlanID        string         `gorm:"column:plan_id;index"`
	SnapshotID    string         `gorm:"column:snapshot_id"`
	Mode          string         `gorm:"column:mode"`
	State         string         `gorm:"column:state;index"`
	StartedUTC    string         `gorm:"column:started_utc"`
	FinishedUTC   string         `gorm:"column:finished_utc"`
	TotalOps      int            `gorm:"column:total_ops"`
	AppliedOps    int            `gorm:"column:applied_ops"`
	FailedOps     int            `gorm:"column:failed_ops"`
	BatchesIssued int            `gorm:"column:batches_issued"`
	AbortReason   string         `gorm:"column:abort_reason"`
	Guardrails    datatypes.JSON `gorm:"column:guardrails;type:TEXT"`
	ResultPath    string         `gorm:"column:result_path"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
}

func (invocationModel) TableName() string { return "apply_invocations" }

// InvocationRecord is the read-side view of one index row.
type InvocationRecord struct {
	InvocationID string
	PlanID       string
	SnapshotID   string
	Mode         string
	State        string
	StartedUTC   string
	FinishedUTC  string
	TotalOps     int
	AppliedOps   int
	FailedOps    int
	AbortReason  string
	ResultPath   string
}

// Store satisfies apply.Recorder.
type Store struct {
	db   *gorm.DB
	root string
}

// NewStore opens (creating if needed) the audit root and its SQLite index.
func NewStore(cfg config.AuditConfig) (*Store, error) {
	root := strings.TrimSpace(cfg.Root)
	if root == "" {
		return nil, fmt.Errorf("audit root not configured")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", cfg.DBPath)
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening audit index: %w", err)
	}
	if err := db.AutoMigrate(&invocationModel{}); err != nil {
		return nil, fmt.Errorf("migrating audit index: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db, root: root}, nil
}

// Record persists res as <invocation_id>.results.json plus a markdown
// rendering, then indexes it. An existing results file is a hard error: the
// trail is append-only and a collision means the invocation id is not doing
// its job.
func (s *Store) Record(ctx context.Context, res *apply.Result) error {
	jsonPath := filepath.Join(s.root, res.InvocationID+".results.json")
	if _, err := os.Stat(jsonPath); err == nil {
		return fmt.Errorf("audit record %s already exists", jsonPath)
	}
	if err := artifact.WriteJSON(jsonPath, res); err != nil {
		return err
	}
	mdPath := filepath.Join(s.root, res.InvocationID+".results.md")
	if err := artifact.WriteFile(mdPath, []byte(renderResult(res))); err != nil {
		return err
	}

	guardrails, err := json.Marshal(res.Guardrails)
	if err != nil {
		return err
	}
	counts := res.Counts()
	row := invocationModel{
		InvocationID:  res.InvocationID,
		PlanID:        res.PlanID,
		SnapshotID:    res.SnapshotID,
		Mode:          string(res.Mode),
		State:         string(res.State),
		StartedUTC:    res.StartedUTC,
		FinishedUTC:   res.FinishedUTC,
		TotalOps:      len(res.Outcomes),
		AppliedOps:    counts[apply.OutcomeApplied],
		FailedOps:     counts[apply.OutcomeFailed],
		BatchesIssued: res.BatchesIssued,
		AbortReason:   res.AbortReason,
		Guardrails:    datatypes.JSON(guardrails),
		ResultPath:    jsonPath,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("indexing audit record %s: %w", res.InvocationID, err)
	}
	logger.Infof("audit record %s written (%s)", res.InvocationID, res.State)
	return nil
}

// Invocations lists the recorded invocations for planID, newest first. An
// empty planID lists everything.
func (s *Store) Invocations(ctx context.Context, planID string) ([]InvocationRecord, error) {
	q := s.db.WithContext(ctx).Model(&invocationModel{}).Order("id DESC")
	if planID != "" {
		q = q.Where("plan_id = ?", planID)
	}
	var rows []invocationModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]InvocationRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, InvocationRecord{
			InvocationID: r.InvocationID,
			PlanID:       r.PlanID,
			SnapshotID:   r.SnapshotID,
			Mode:         r.Mode,
			State:        r.State,
			StartedUTC:   r.StartedUTC,
			FinishedUTC:  r.FinishedUTC,
			TotalOps:     r.TotalOps,
			AppliedOps:   r.AppliedOps,
			FailedOps:    r.FailedOps,
			AbortReason:  r.AbortReason,
			ResultPath:   r.ResultPath,
		})
	}
	return out, nil
}

// Close closes the index database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ apply.Recorder = (*Store)(nil)
