/*
Presets for common leave types, as JSON accepted by the factory package.

They build JSON directly to avoid an import cycle with the factory package.

USAGE:
  jsonStr := timeoff.CatalogJSON(
      timeoff.AnnualLeaveJSON("annual", "Annual Leave", 20),
      timeoff.SubLeaveJSON("study", "Study Leave", "annual", 10),
  )
  types, err := factory.NewLeaveTypeFactory().ParseCatalog(jsonStr)
*/
package timeoff

import (
	"encoding/json"
)

// AnnualLeaveJSON is a scaled, transferable yearly allowance.
func AnnualLeaveJSON(id, name string, days float64) string {
	return marshalPreset(map[string]interface{}{
		"id":           id,
		"name":         name,
		"kind":         string(KindOrdinary),
		"entitlement":  days,
		"scaled":       true,
		"transferable": true,
	})
}

// UseItOrLoseItJSON is a fixed allowance that never carries over.
func UseItOrLoseItJSON(id, name string, days float64) string {
	return marshalPreset(map[string]interface{}{
		"id":          id,
		"name":        name,
		"kind":        string(KindOrdinary),
		"entitlement": days,
	})
}

// SickLeaveJSON is a fixed allowance not tied to tenure.
func SickLeaveJSON(id, name string, days float64) string {
	return UseItOrLoseItJSON(id, name, days)
}

// UnlimitedLeaveJSON has no entitlement; only usage is tracked.
func UnlimitedLeaveJSON(id, name string) string {
	return marshalPreset(map[string]interface{}{
		"id":          id,
		"name":        name,
		"kind":        string(KindOrdinary),
		"entitlement": nil,
	})
}

// SubLeaveJSON is a child type capped by its parent's availability.
func SubLeaveJSON(id, name, parentID string, days float64) string {
	return marshalPreset(map[string]interface{}{
		"id":          id,
		"name":        name,
		"kind":        string(KindOrdinary),
		"entitlement": days,
		"parent_id":   parentID,
	})
}

// CompensatoryLeaveJSON is earned by attended work on holidays and weekends.
func CompensatoryLeaveJSON(id, name string) string {
	return marshalPreset(map[string]interface{}{
		"id":   id,
		"name": name,
		"kind": string(KindCompensatory),
	})
}

// CatalogJSON wraps preset JSON objects into a catalog document.
func CatalogJSON(types ...string) string {
	raw := make([]json.RawMessage, len(types))
	for i, t := range types {
		raw[i] = json.RawMessage(t)
	}
	return marshalPreset(map[string]interface{}{"leave_types": raw})
}

func marshalPreset(v map[string]interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
