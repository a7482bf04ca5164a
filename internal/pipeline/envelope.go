package pipeline

import (
	"time"

	"github.com/joseph-ayodele/docparse/constants"
	"github.com/joseph-ayodele/docparse/internal/classify"
	"github.com/joseph-ayodele/docparse/internal/extractor"
	"github.com/joseph-ayodele/docparse/internal/quality"
)

// Stage names the coordinator's progress through one document.
type Stage string

const (
	StageReceived     Stage = "received"
	StageBasicInfo    Stage = "basic-info-extracted"
	StageText         Stage = "text-extracted"
	StageOCR          Stage = "ocr-augmented"
	StageClassified   Stage = "classified"
	StageExtracted    Stage = "category-extracted"
	StageStandardized Stage = "standardized"
	StageScored       Stage = "scored"
	StageDone         Stage = "done"
)

// stageProgress is the task progress reported when a stage completes.
var stageProgress = map[Stage]int{
	StageReceived:     5,
	StageBasicInfo:    10,
	StageText:         30,
	StageOCR:          40,
	StageClassified:   50,
	StageExtracted:    70,
	StageStandardized: 80,
	StageScored:       90,
	StageDone:         100,
}

// Progress returns the percentage associated with s.
func (s Stage) Progress() int {
	return stageProgress[s]
}

// Document identifies one input to the coordinator.
type Document struct {
	SourceRef    string `json:"source_ref"`
	Path         string `json:"path"`
	CategoryHint string `json:"category_hint"`
}

type BasicInfo struct {
	Filename  string   `json:"filename"`
	FileSize  int64    `json:"file_size"`
	PageCount int      `json:"page_count"`
	Format    string   `json:"format"`
	OCRUsed   bool     `json:"ocr_used"`
	SourceRef string   `json:"source_ref,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Envelope is the final artifact of one document run. Status is always
// completed or failed.
type Envelope struct {
	BasicInfo      BasicInfo            `json:"basic_info"`
	ExtractedData  *extractor.Record    `json:"extracted_data,omitempty"`
	QualityScore   float64              `json:"quality_score"`
	Quality        *quality.Breakdown   `json:"quality,omitempty"`
	Category       constants.Category   `json:"category"`
	Classification *classify.Result     `json:"classification,omitempty"`
	Status         constants.TaskStatus `json:"status"`
	Stage          Stage                `json:"stage"`
	ProcessedAt    time.Time            `json:"processed_at"`
	Error          string               `json:"error,omitempty"`
}

// Succeeded reports whether the run completed.
func (e Envelope) Succeeded() bool {
	return e.Status == constants.TaskCompleted
}
