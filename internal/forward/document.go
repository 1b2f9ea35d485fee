package forward

import (
	"encoding/json"
	"time"

	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

// Document flattens a record into an index document. Payload keys win over
// record fields of the same name.
func Document(rec types.ConsolidatedRecord) map[string]any {
	doc := map[string]any{
		"jid":        string(rec.JobID),
		"minion_id":  string(rec.ResponderID),
		"start_time": rec.StartTime.Format(time.RFC3339Nano),
		"end_time":   rec.EndTime.Format(time.RFC3339Nano),
		"duration":   rec.Duration.Seconds(),
	}
	if rec.Function != "" {
		doc["fun"] = rec.Function
	}
	if rec.Attributes != nil {
		doc["grains"] = rec.Attributes
	}
	for k, v := range rec.Payload {
		doc[k] = v
	}

	// "return" is always JSON text so differently shaped returns share one mapping.
	if ret, ok := doc["return"]; ok {
		if b, err := json.Marshal(ret); err == nil {
			doc["return"] = string(b)
		}
	}
	doc["@timestamp"] = rec.StartTime.Format(time.RFC3339Nano)
	return doc
}
