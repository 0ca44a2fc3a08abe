package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONB stores an arbitrary JSON document in a single column.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (JSONB) GormDataType() string {
	return "json"
}

func (JSONB) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "JSONB"
	}
	return "JSON"
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("JSONB: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, j)
}

// ResultRecord is the persisted form of a PipelineResult used for history.
type ResultRecord struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	Filename    string    `json:"filename" gorm:"not null;uniqueIndex:idx_result_file_time"`
	ProcessedAt time.Time `json:"processedAt" gorm:"not null;uniqueIndex:idx_result_file_time;index"`
	Origin      Origin    `json:"origin" gorm:"type:varchar(16)"`
	IssueCount  int       `json:"issueCount"`
	Error       string    `json:"error" gorm:"type:text"`
	Result      JSONB     `json:"result"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (ResultRecord) TableName() string {
	return "pipeline_results"
}

// NewResultRecord flattens a result into its storable form.
func NewResultRecord(id string, result PipelineResult) (ResultRecord, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return ResultRecord{}, fmt.Errorf("marshal result: %w", err)
	}
	var doc JSONB
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ResultRecord{}, fmt.Errorf("unmarshal result document: %w", err)
	}
	return ResultRecord{
		ID:          id,
		Filename:    result.SourceFilename,
		ProcessedAt: result.ProcessedAt,
		Origin:      result.Origin,
		IssueCount:  len(result.Issues),
		Error:       result.Error,
		Result:      doc,
	}, nil
}

// PipelineResult decodes the stored document back into a result.
func (r ResultRecord) PipelineResult() (PipelineResult, error) {
	var result PipelineResult
	raw, err := json.Marshal(r.Result)
	if err != nil {
		return result, fmt.Errorf("marshal stored document: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("decode stored result %s: %w", r.ID, err)
	}
	return result, nil
}
