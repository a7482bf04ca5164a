package tasks

import (
	"github.com/joseph-ayodele/docparse/internal/broker"
	"github.com/joseph-ayodele/docparse/internal/common"
)

const (
	maxRefLength      = 1024
	maxHintLength     = 64
	maxBatchDocuments = 500
)

// SubmitRequest asks for one document to be parsed.
type SubmitRequest struct {
	SourceRef    string `json:"source_ref"`
	CategoryHint string `json:"category_hint"`
	CallbackRef  string `json:"callback_ref,omitempty"`
}

func (r SubmitRequest) validate() error {
	v := common.NewValidator()
	v.Field("source_ref", r.SourceRef, common.Required, common.MaxLength(maxRefLength))
	v.Field("category_hint", r.CategoryHint, common.MaxLength(maxHintLength))
	v.Field("callback_ref", r.CallbackRef, common.HTTPURL, common.MaxLength(maxRefLength))
	return v.Error()
}

// BatchRequest asks for several documents to be parsed as one task.
// An empty BatchID is replaced by a generated one.
type BatchRequest struct {
	BatchID     string            `json:"batch_id,omitempty"`
	Documents   []broker.Document `json:"documents"`
	CallbackRef string            `json:"callback_ref,omitempty"`
}

func (r BatchRequest) validate() error {
	v := common.NewValidator()
	v.Field("documents", len(r.Documents), common.IntRange(1, maxBatchDocuments))
	v.Field("batch_id", r.BatchID, common.MaxLength(maxHintLength))
	v.Field("callback_ref", r.CallbackRef, common.HTTPURL, common.MaxLength(maxRefLength))
	for _, d := range r.Documents {
		v.Field("documents.source_ref", d.SourceRef, common.Required, common.MaxLength(maxRefLength))
		v.Field("documents.category_hint", d.CategoryHint, common.MaxLength(maxHintLength))
	}
	return v.Error()
}
