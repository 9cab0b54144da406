package models

// DocumentStatus is a node of the ingestion state machine.
type DocumentStatus string

const (
	StatusUploaded       DocumentStatus = "UPLOADED"
	StatusProcessing     DocumentStatus = "PROCESSING"
	StatusExtracting     DocumentStatus = "EXTRACTING"
	StatusNormalizing    DocumentStatus = "NORMALIZING"
	StatusChunking       DocumentStatus = "CHUNKING"
	StatusEmbedding      DocumentStatus = "EMBEDDING"
	StatusIndexing       DocumentStatus = "INDEXING"
	StatusIndexed        DocumentStatus = "INDEXED"
	StatusRetryScheduled DocumentStatus = "RETRY_SCHEDULED"
	StatusFailed         DocumentStatus = "FAILED"
)

// PipelineStages lists the working stages in execution order.
var PipelineStages = []DocumentStatus{
	StatusExtracting,
	StatusNormalizing,
	StatusChunking,
	StatusEmbedding,
	StatusIndexing,
}

// IsStage reports whether s is one of the working pipeline stages.
func (s DocumentStatus) IsStage() bool {
	for _, st := range PipelineStages {
		if st == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s only leaves through the operator retry edge (or never).
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusIndexed || s == StatusFailed
}

// Next returns the status that follows a successful stage.
func (s DocumentStatus) Next() DocumentStatus {
	for i, st := range PipelineStages {
		if st == s {
			if i == len(PipelineStages)-1 {
				return StatusIndexed
			}
			return PipelineStages[i+1]
		}
	}
	return ""
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to DocumentStatus) bool {
	switch from {
	case StatusUploaded, StatusProcessing:
		return to == StatusExtracting || to == StatusFailed
	case StatusRetryScheduled:
		return to.IsStage() || to == StatusFailed
	case StatusFailed:
		return to == StatusProcessing
	case StatusIndexed:
		return false
	}
	if !from.IsStage() {
		return false
	}
	return to == from.Next() || to == StatusFailed || to == StatusRetryScheduled
}
