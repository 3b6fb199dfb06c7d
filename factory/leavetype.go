/*
Package factory converts JSON leave type definitions into timeoff.LeaveType.

PURPOSE:
  The leave type catalog is configuration. HR tooling or the admin API
  posts JSON, the factory validates it and produces the Go structs the
  engine reads.

JSON SCHEMA:
  {
    "leave_types": [
      {"id": "annual", "name": "Annual Leave", "entitlement": 20,
       "scaled": true, "transferable": true},
      {"id": "study", "name": "Study Leave", "entitlement": 10,
       "parent_id": "annual"},
      {"id": "comp", "name": "Compensatory Time", "kind": "compensatory"}
    ]
  }

  entitlement omitted or null means unlimited. kind defaults to ordinary.
  Compensatory types ignore entitlement, scaled and transferable.

VALIDATION:
  - struct tags checked by go-playground/validator
  - entitlement must not be negative
  - ids are unique within one catalog
  - parent chains inside one catalog must not loop; a parent that is not
    part of the catalog is allowed (it may already be stored)

SEE ALSO:
  - timeoff/factory.go: JSON presets for common leave types
  - timeoff/hierarchy.go: Runtime ancestry and cycle detection
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// LeaveTypeJSON is the JSON representation of a leave type.
type LeaveTypeJSON struct {
	ID           string           `json:"id" validate:"required,max=64,excludesall=/:"`
	Name         string           `json:"name" validate:"required,max=128"`
	Kind         string           `json:"kind,omitempty" validate:"omitempty,oneof=ordinary compensatory"`
	Entitlement  *decimal.Decimal `json:"entitlement"`
	Scaled       bool             `json:"scaled,omitempty"`
	Transferable bool             `json:"transferable,omitempty"`
	ParentID     string           `json:"parent_id,omitempty" validate:"omitempty,max=64,nefield=ID"`
}

// CatalogJSON is a batch of leave types.
type CatalogJSON struct {
	LeaveTypes []LeaveTypeJSON `json:"leave_types" validate:"required,min=1,dive"`
}

// =============================================================================
// LEAVE TYPE FACTORY
// =============================================================================

type LeaveTypeFactory struct {
	validate *validator.Validate
}

func NewLeaveTypeFactory() *LeaveTypeFactory {
	v := validator.New()
	// Report JSON field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &LeaveTypeFactory{validate: v}
}

// ParseLeaveType parses one JSON leave type.
func (f *LeaveTypeFactory) ParseLeaveType(jsonStr string) (timeoff.LeaveType, error) {
	var lj LeaveTypeJSON
	if err := json.Unmarshal([]byte(jsonStr), &lj); err != nil {
		return timeoff.LeaveType{}, fmt.Errorf("%w: %v", generic.ErrInvalidLeaveType, err)
	}
	return f.FromJSON(lj)
}

// ParseCatalog parses a JSON catalog. Either every type is valid or none is
// returned.
func (f *LeaveTypeFactory) ParseCatalog(jsonStr string) ([]timeoff.LeaveType, error) {
	var cj CatalogJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("%w: %v", generic.ErrInvalidLeaveType, err)
	}
	return f.FromCatalogJSON(cj)
}

func (f *LeaveTypeFactory) FromCatalogJSON(cj CatalogJSON) ([]timeoff.LeaveType, error) {
	if err := f.validate.Struct(cj); err != nil {
		return nil, validationError(err)
	}

	out := make([]timeoff.LeaveType, 0, len(cj.LeaveTypes))
	byID := make(map[timeoff.LeaveTypeID]timeoff.LeaveType, len(cj.LeaveTypes))
	for _, lj := range cj.LeaveTypes {
		lt, err := f.FromJSON(lj)
		if err != nil {
			return nil, err
		}
		if _, dup := byID[lt.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", generic.ErrInvalidLeaveType, lt.ID)
		}
		byID[lt.ID] = lt
		out = append(out, lt)
	}

	for _, lt := range out {
		if err := checkChain(lt.ID, byID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FromJSON validates lj and converts it.
func (f *LeaveTypeFactory) FromJSON(lj LeaveTypeJSON) (timeoff.LeaveType, error) {
	if err := f.validate.Struct(lj); err != nil {
		return timeoff.LeaveType{}, validationError(err)
	}
	if lj.Entitlement != nil && lj.Entitlement.IsNegative() {
		return timeoff.LeaveType{}, fmt.Errorf("%w: entitlement must not be negative", generic.ErrInvalidLeaveType)
	}

	lt := timeoff.LeaveType{
		ID:   timeoff.LeaveTypeID(lj.ID),
		Name: lj.Name,
		Kind: timeoff.KindOrdinary,
	}
	if lj.Kind == string(timeoff.KindCompensatory) {
		lt.Kind = timeoff.KindCompensatory
	} else {
		lt.Entitlement = lj.Entitlement
		lt.Scaled = lj.Scaled
		lt.Transferable = lj.Transferable
	}
	if lj.ParentID != "" {
		parent := timeoff.LeaveTypeID(lj.ParentID)
		lt.ParentID = &parent
	}
	return lt, nil
}

// ToJSON converts a LeaveType back to its JSON form.
func (f *LeaveTypeFactory) ToJSON(lt timeoff.LeaveType) LeaveTypeJSON {
	lj := LeaveTypeJSON{
		ID:           string(lt.ID),
		Name:         lt.Name,
		Kind:         string(lt.Kind),
		Entitlement:  lt.Entitlement,
		Scaled:       lt.Scaled,
		Transferable: lt.Transferable,
	}
	if lj.Kind == "" {
		lj.Kind = string(timeoff.KindOrdinary)
	}
	if lt.ParentID != nil {
		lj.ParentID = string(*lt.ParentID)
	}
	return lj
}

// =============================================================================
// HELPERS
// =============================================================================

func checkChain(start timeoff.LeaveTypeID, byID map[timeoff.LeaveTypeID]timeoff.LeaveType) error {
	seen := map[timeoff.LeaveTypeID]bool{start: true}
	path := []string{string(start)}
	cur := byID[start]
	for cur.ParentID != nil {
		next := *cur.ParentID
		path = append(path, string(next))
		if seen[next] {
			return fmt.Errorf("%w: %w", generic.ErrInvalidLeaveType, &generic.CycleError{TypeID: string(start), Path: path})
		}
		parent, ok := byID[next]
		if !ok {
			return nil
		}
		seen[next] = true
		cur = parent
	}
	return nil
}

func validationError(err error) error {
	var errs validator.ValidationErrors
	if errors.As(err, &errs) && len(errs) > 0 {
		e := errs[0]
		switch e.Tag() {
		case "required":
			return fmt.Errorf("%w: %s is required", generic.ErrInvalidLeaveType, e.Field())
		default:
			return fmt.Errorf("%w: %s is invalid (%s)", generic.ErrInvalidLeaveType, e.Field(), e.Tag())
		}
	}
	return fmt.Errorf("%w: %v", generic.ErrInvalidLeaveType, err)
}
