package bus

import (
	"encoding/json"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flockwatch/aggregator/internal/model"
)

const unknownStatusCacheSize = 256

// Decoder turns status topic payloads into enum values. Unknown wire
// strings map to the safe default and are logged once per distinct
// subject/value pair; decoding never fails.
type Decoder struct {
	logger *slog.Logger
	seen   *lru.Cache[string, bool]
}

// NewDecoder creates a Decoder logging through logger.
func NewDecoder(logger *slog.Logger) *Decoder {
	seen, _ := lru.New[string, bool](unknownStatusCacheSize)
	return &Decoder{logger: logger, seen: seen}
}

// SubsystemStatus decodes a subsystem status payload. Unknown values map
// to idle.
func (d *Decoder) SubsystemStatus(subject string, data []byte) model.SubsystemStatus {
	raw := statusString(data)
	status, ok := model.ParseSubsystemStatus(raw)
	if !ok {
		d.warnOnce(subject, raw, string(status))
	}
	return status
}

// ScanStatus decodes a scan status payload. Unknown values map to idle.
func (d *Decoder) ScanStatus(subject string, data []byte) model.ScanStatus {
	raw := statusString(data)
	status, ok := model.ParseScanStatus(raw)
	if !ok {
		d.warnOnce(subject, raw, string(status))
	}
	return status
}

// EnvironmentStatus decodes an environment grading payload. Unknown values
// map to unknown.
func (d *Decoder) EnvironmentStatus(subject string, data []byte) model.EnvironmentStatus {
	raw := statusString(data)
	status, ok := model.ParseEnvironmentStatus(raw)
	if !ok {
		d.warnOnce(subject, raw, string(status))
	}
	return status
}

// Bool decodes a JSON boolean payload. Malformed payloads report ok=false
// and are logged once.
func (d *Decoder) Bool(subject string, data []byte) (bool, bool) {
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		d.warnOnce(subject, string(data), "drop")
		return false, false
	}
	return v, true
}

func (d *Decoder) warnOnce(subject, raw, fallback string) {
	key := subject + "|" + raw
	if _, dup := d.seen.Get(key); dup {
		return
	}
	d.seen.Add(key, true)
	d.logger.Warn("Unknown status value", "subject", subject, "value", raw, "fallback", fallback)
}

// statusString extracts the candidate status string from a payload that is
// normally a JSON string. Non-JSON payloads are passed through verbatim so
// the mapping table still decides.
func statusString(data []byte) string {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return string(data)
	}
	return s
}
