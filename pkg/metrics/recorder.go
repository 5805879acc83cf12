// Package metrics keeps a short history of inspections per model.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/docker/model-mem/pkg/logging"
)

// maxRecordsPerModel bounds the history kept for each model.
const maxRecordsPerModel = 10

// Inspection records the outcome of one inspection.
type Inspection struct {
	ID         string        `json:"id"`
	Model      string        `json:"model"`
	Revision   string        `json:"revision"`
	Layout     string        `json:"layout,omitempty"`
	ParamCount int64         `json:"param_count"`
	BytesCount float64       `json:"bytes_count"`
	Error      string        `json:"error,omitempty"`
	StatusCode int           `json:"status_code"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Recorder stores recent inspections keyed by model ID.
type Recorder struct {
	log     logging.Logger
	records map[string][]*Inspection
	m       sync.RWMutex
}

func NewRecorder(log logging.Logger) *Recorder {
	return &Recorder{
		log:     log,
		records: make(map[string][]*Inspection),
	}
}

// Record appends rec to the history of its model, evicting the oldest entry
// once the history is full. It returns the assigned record ID.
func (r *Recorder) Record(rec Inspection) string {
	r.m.Lock()
	defer r.m.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.ID = fmt.Sprintf("%s_%d", rec.Model, rec.Timestamp.UnixNano())

	records := append(r.records[rec.Model], &rec)
	if len(records) > maxRecordsPerModel {
		records = records[len(records)-maxRecordsPerModel:]
	}
	r.records[rec.Model] = records
	return rec.ID
}

// GetRecordsByModel returns a copy of the history of model, oldest first, or
// nil when nothing was recorded.
func (r *Recorder) GetRecordsByModel(model string) []*Inspection {
	r.m.RLock()
	defer r.m.RUnlock()

	if modelRecords, exists := r.records[model]; exists {
		result := make([]*Inspection, len(modelRecords))
		copy(result, modelRecords)
		return result
	}
	return nil
}

// RemoveModel drops the history of model. It reports whether there was any.
func (r *Recorder) RemoveModel(model string) bool {
	r.m.Lock()
	defer r.m.Unlock()

	if _, exists := r.records[model]; !exists {
		return false
	}
	delete(r.records, model)
	r.log.Infof("Removed records for model: %s", logging.SanitizeForLog(model))
	return true
}

// RemoveModelHandler clears the history of the model named by the "model"
// query parameter.
func (r *Recorder) RemoveModelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		model := req.URL.Query().Get("model")
		if model == "" {
			http.Error(w, "A 'model' query parameter is required", http.StatusBadRequest)
			return
		}
		if !r.RemoveModel(model) {
			http.Error(w, fmt.Sprintf("No records found for model '%s'", model), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GetRecordsByModelHandler serves the history of the model named by the
// "model" query parameter.
func (r *Recorder) GetRecordsByModelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		model := req.URL.Query().Get("model")
		if model == "" {
			http.Error(w, "A 'model' query parameter is required", http.StatusBadRequest)
			return
		}

		records := r.GetRecordsByModel(model)
		if records == nil {
			http.Error(w, fmt.Sprintf("No records found for model '%s'", model), http.StatusNotFound)
			return
		}

		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"model":   model,
			"records": records,
			"count":   len(records),
		}); err != nil {
			http.Error(w, fmt.Sprintf("Failed to encode records for model '%s': %v", model, err),
				http.StatusInternalServerError)
		}
	}
}
