package factory_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/timeoff"
)

func TestParseCatalog_Presets(t *testing.T) {
	// GIVEN a catalog built from presets
	jsonStr := timeoff.CatalogJSON(
		timeoff.AnnualLeaveJSON("annual", "Annual Leave", 20),
		timeoff.SubLeaveJSON("study", "Study Leave", "annual", 10),
		timeoff.UnlimitedLeaveJSON("unpaid", "Unpaid Leave"),
		timeoff.CompensatoryLeaveJSON("comp", "Compensatory Time"),
	)

	// WHEN it is parsed
	types, err := factory.NewLeaveTypeFactory().ParseCatalog(jsonStr)

	// THEN every type is converted with its flags
	require.NoError(t, err)
	require.Len(t, types, 4)

	annual := types[0]
	assert.Equal(t, timeoff.KindOrdinary, annual.Kind)
	require.NotNil(t, annual.Entitlement)
	assert.True(t, annual.Entitlement.Equal(decimal.NewFromInt(20)))
	assert.True(t, annual.Scaled)
	assert.True(t, annual.Transferable)
	assert.Nil(t, annual.ParentID)

	study := types[1]
	require.NotNil(t, study.ParentID)
	assert.Equal(t, timeoff.LeaveTypeID("annual"), *study.ParentID)
	assert.False(t, study.Transferable)

	assert.Nil(t, types[2].Entitlement, "null entitlement is unlimited")

	comp := types[3]
	assert.True(t, comp.IsCompensatory())
	assert.Nil(t, comp.Entitlement)
}

func TestParseLeaveType_HalfDays(t *testing.T) {
	lt, err := factory.NewLeaveTypeFactory().ParseLeaveType(`{"id":"care","name":"Care","entitlement":"2.5"}`)

	require.NoError(t, err)
	require.NotNil(t, lt.Entitlement)
	assert.True(t, lt.Entitlement.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, timeoff.KindOrdinary, lt.Kind)
}

func TestParseLeaveType_CompensatoryIgnoresAllowanceFlags(t *testing.T) {
	lt, err := factory.NewLeaveTypeFactory().ParseLeaveType(
		`{"id":"comp","name":"Comp","kind":"compensatory","entitlement":5,"scaled":true,"transferable":true}`)

	require.NoError(t, err)
	assert.Nil(t, lt.Entitlement)
	assert.False(t, lt.Scaled)
	assert.False(t, lt.Transferable)
}

func TestParseLeaveType_Rejects(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{"malformed", `{"id":`},
		{"missing id", `{"name":"Annual"}`},
		{"missing name", `{"id":"annual"}`},
		{"unknown kind", `{"id":"a","name":"A","kind":"bonus"}`},
		{"negative entitlement", `{"id":"a","name":"A","entitlement":-1}`},
		{"own parent", `{"id":"a","name":"A","parent_id":"a"}`},
		{"slash in id", `{"id":"a/b","name":"A"}`},
	}

	f := factory.NewLeaveTypeFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseLeaveType(tt.json)
			require.Error(t, err)
			assert.True(t, errors.Is(err, generic.ErrInvalidLeaveType), "got %v", err)
			assert.True(t, generic.IsClientError(err))
		})
	}
}

func TestParseCatalog_RejectsDuplicatesAndCycles(t *testing.T) {
	f := factory.NewLeaveTypeFactory()

	_, err := f.ParseCatalog(timeoff.CatalogJSON(
		timeoff.SickLeaveJSON("sick", "Sick", 5),
		timeoff.SickLeaveJSON("sick", "Sick again", 5),
	))
	assert.ErrorIs(t, err, generic.ErrInvalidLeaveType)

	_, err = f.ParseCatalog(timeoff.CatalogJSON(
		timeoff.SubLeaveJSON("a", "A", "b", 1),
		timeoff.SubLeaveJSON("b", "B", "a", 1),
	))
	assert.ErrorIs(t, err, generic.ErrHierarchyCycle)
	assert.ErrorIs(t, err, generic.ErrInvalidLeaveType)

	_, err = f.ParseCatalog(`{"leave_types":[]}`)
	assert.ErrorIs(t, err, generic.ErrInvalidLeaveType)
}

func TestParseCatalog_AllowsParentOutsideCatalog(t *testing.T) {
	types, err := factory.NewLeaveTypeFactory().ParseCatalog(timeoff.CatalogJSON(
		timeoff.SubLeaveJSON("exam", "Exam Leave", "study", 3),
	))

	require.NoError(t, err)
	require.Len(t, types, 1)
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := factory.NewLeaveTypeFactory()
	parent := timeoff.LeaveTypeID("annual")
	lt := timeoff.LeaveType{
		ID:          "study",
		Name:        "Study Leave",
		Kind:        timeoff.KindOrdinary,
		Entitlement: generic.Ptr(decimal.NewFromInt(10)),
		ParentID:    &parent,
	}

	back, err := f.FromJSON(f.ToJSON(lt))

	require.NoError(t, err)
	assert.Equal(t, lt, back)
}
