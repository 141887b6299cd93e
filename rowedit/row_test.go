package rowedit_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iotfleet/fleetadmin/credentials"
	"github.com/iotfleet/fleetadmin/entities"
	"github.com/iotfleet/fleetadmin/mutation"
	"github.com/iotfleet/fleetadmin/rowedit"
	"github.com/stretchr/testify/require"
)

type fakeUserOps struct {
	editCalls   atomic.Int32
	removeCalls atomic.Int32
	editBlock   chan struct{} // When set, Edit waits on it
	editErr     error
}

func (f *fakeUserOps) Edit(_ context.Context, item entities.User) (entities.User, error) {
	f.editCalls.Add(1)
	if f.editBlock != nil {
		<-f.editBlock
	}
	if f.editErr != nil {
		return entities.User{}, f.editErr
	}
	return item, nil
}

func (f *fakeUserOps) Remove(_ context.Context, _ entities.User) error {
	f.removeCalls.Add(1)
	return nil
}

func (f *fakeUserOps) Add(_ context.Context, input entities.User) (entities.User, error) {
	return input, nil
}

// roleChanged is the confirmation-need test for user rows: changing roles is
// the risky edit.
func roleChanged(original, candidate entities.User) bool {
	if len(original.Roles) != len(candidate.Roles) {
		return true
	}
	for i := range original.Roles {
		if original.Roles[i] != candidate.Roles[i] {
			return true
		}
	}
	return false
}

// rowFixture holds all row test dependencies.
type rowFixture struct {
	cache     *entities.Cache[entities.User]
	ops       *fakeUserOps
	confirmer *mutation.GateConfirmer
	engine    *mutation.Engine[entities.User, entities.User]
	row       *rowedit.Row[entities.User, entities.User]
}

func setupRowFixture(t *testing.T) *rowFixture {
	t.Helper()

	f := &rowFixture{
		cache:     entities.NewCache[entities.User](),
		ops:       &fakeUserOps{},
		confirmer: mutation.NewGateConfirmer(),
	}
	f.cache.ReplaceAll([]entities.User{
		{ID: "u1", Email: "ops@acme.example", FirstName: "Dana", LastName: "Ops", Roles: []credentials.RoleType{credentials.RoleViewer}, CompanySlug: "acme", Active: true},
		{ID: "u2", Email: "admin@acme.example", FirstName: "Sam", LastName: "Admin", Roles: []credentials.RoleType{credentials.RoleCompanyAdmin}, CompanySlug: "acme", Active: true},
	})

	engine, err := mutation.NewEngine[entities.User, entities.User](f.cache, f.ops, f.confirmer, mutation.NotifierFunc(func(string, mutation.Severity) {}))
	require.NoError(t, err)
	f.engine = engine

	row, err := rowedit.NewRow("u1", engine, roleChanged)
	require.NoError(t, err)
	f.row = row
	return f
}

func TestRowBeginCapturesOriginal(t *testing.T) {
	f := setupRowFixture(t)

	require.Equal(t, rowedit.Viewing, f.row.State())
	require.NoError(t, f.row.Begin())
	require.Equal(t, rowedit.Editing, f.row.State())

	working, err := f.row.Working()
	require.NoError(t, err)
	require.Equal(t, "ops@acme.example", working.Email)
}

func TestRowSetIsLocalUntilSave(t *testing.T) {
	f := setupRowFixture(t)
	require.NoError(t, f.row.Begin())

	require.NoError(t, f.row.Set(func(u *entities.User) { u.FirstName = "Dee" }))

	cached, _ := f.cache.Get("u1")
	require.Equal(t, "Dana", cached.FirstName, "field edits stay local until save")

	working, _ := f.row.Working()
	require.Equal(t, "Dee", working.FirstName)
}

func TestRowCancelDiscardsWithoutEngine(t *testing.T) {
	f := setupRowFixture(t)
	require.NoError(t, f.row.Begin())
	require.NoError(t, f.row.Set(func(u *entities.User) { u.FirstName = "Dee" }))

	f.row.Cancel()
	require.Equal(t, rowedit.Viewing, f.row.State())
	require.Equal(t, int32(0), f.ops.editCalls.Load())

	cached, _ := f.cache.Get("u1")
	require.Equal(t, "Dana", cached.FirstName)
}

func TestRowSaveNoOpExitsEditModeWithoutNetwork(t *testing.T) {
	f := setupRowFixture(t)
	require.NoError(t, f.row.Begin())

	result, err := f.row.Save(context.Background())
	require.NoError(t, err)
	require.Equal(t, mutation.PhaseCommitted, result.Phase)
	require.Equal(t, int32(0), f.ops.editCalls.Load(), "unchanged save issues zero network calls")
	require.Equal(t, rowedit.Viewing, f.row.State())
}

func TestRowSaveChangedValueCommits(t *testing.T) {
	f := setupRowFixture(t)
	require.NoError(t, f.row.Begin())
	require.NoError(t, f.row.Set(func(u *entities.User) { u.FirstName = "Dee" }))

	result, err := f.row.Save(context.Background())
	require.NoError(t, err)
	require.Equal(t, mutation.PhaseCommitted, result.Phase)
	require.Equal(t, int32(1), f.ops.editCalls.Load())
	require.Equal(t, rowedit.Viewing, f.row.State())

	cached, _ := f.cache.Get("u1")
	require.Equal(t, "Dee", cached.FirstName)
}

func TestRowSaveRoleChangeRequiresConfirmation(t *testing.T) {
	f := setupRowFixture(t)
	require.NoError(t, f.row.Begin())
	require.NoError(t, f.row.Set(func(u *entities.User) { u.Roles = []credentials.RoleType{credentials.RoleCompanyAdmin} }))

	done := make(chan struct{})
	var result mutation.Result[entities.User]
	var err error
	go func() {
		defer close(done)
		result, err = f.row.Save(context.Background())
	}()

	require.Eventually(t, func() bool {
		_, pending := f.confirmer.Pending()
		return pending
	}, time.Second, time.Millisecond)

	prompt, _ := f.confirmer.Pending()
	require.NotNil(t, prompt.Original)
	require.NotNil(t, prompt.Candidate)

	require.True(t, f.confirmer.Approve())
	<-done

	require.NoError(t, err)
	require.Equal(t, mutation.PhaseCommitted, result.Phase)
}

func TestRowSaveRoleChangeDeclinedRollsBack(t *testing.T) {
	f := setupRowFixture(t)
	require.NoError(t, f.row.Begin())
	require.NoError(t, f.row.Set(func(u *entities.User) { u.Roles = []credentials.RoleType{credentials.RoleCompanyAdmin} }))

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = f.row.Save(context.Background())
	}()

	require.Eventually(t, func() bool {
		_, pending := f.confirmer.Pending()
		return pending
	}, time.Second, time.Millisecond)

	require.True(t, f.confirmer.Decline())
	<-done

	require.ErrorIs(t, err, mutation.ErrConfirmationDeclined)
	require.Equal(t, int32(0), f.ops.editCalls.Load())
	require.Equal(t, rowedit.Viewing, f.row.State())

	cached, _ := f.cache.Get("u1")
	require.Equal(t, []credentials.RoleType{credentials.RoleViewer}, cached.Roles)
}

func TestRowSaveNonRoleChangeSkipsConfirmation(t *testing.T) {
	f := setupRowFixture(t)
	require.NoError(t, f.row.Begin())
	require.NoError(t, f.row.Set(func(u *entities.User) { u.LastName = "Operations" }))

	// No Approve call anywhere: if the gate opened, Save would hang.
	result, err := f.row.Save(context.Background())
	require.NoError(t, err)
	require.Equal(t, mutation.PhaseCommitted, result.Phase)
}

func TestRowServerRejectionKeepsRowEditable(t *testing.T) {
	f := setupRowFixture(t)
	f.ops.editErr = &mutation.APIError{Status: 422, Body: mutation.Response{Fields: map[string][]string{"email": {"already in use"}}}}

	require.NoError(t, f.row.Begin())
	require.NoError(t, f.row.Set(func(u *entities.User) { u.Email = "admin@acme.example" }))

	result, err := f.row.Save(context.Background())
	require.Error(t, err)
	require.Equal(t, mutation.PhaseRolledBack, result.Phase)
	require.Equal(t, rowedit.Editing, f.row.State(), "row stays editable for correction and resubmit")

	cached, _ := f.cache.Get("u1")
	require.Equal(t, "ops@acme.example", cached.Email, "cache rolled back")
}

func TestRowSecondSaveWhileInFlightIsRejected(t *testing.T) {
	f := setupRowFixture(t)
	f.ops.editBlock = make(chan struct{})

	require.NoError(t, f.row.Begin())
	require.NoError(t, f.row.Set(func(u *entities.User) { u.FirstName = "Dee" }))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.row.Save(context.Background())
	}()

	require.Eventually(t, func() bool { return f.ops.editCalls.Load() == 1 }, time.Second, time.Millisecond)

	_, err := f.row.Save(context.Background())
	require.ErrorIs(t, err, rowedit.ErrRowBusy)

	require.ErrorIs(t, func() error { return f.row.Begin() }(), rowedit.ErrRowBusy)

	close(f.ops.editBlock)
	<-done
}

func TestRowDeleteDeclinedLeavesEverythingAlone(t *testing.T) {
	f := setupRowFixture(t)
	before := f.cache.List()

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = f.row.Delete(context.Background())
	}()

	require.Eventually(t, func() bool {
		_, pending := f.confirmer.Pending()
		return pending
	}, time.Second, time.Millisecond)

	require.True(t, f.confirmer.Decline())
	<-done

	require.ErrorIs(t, err, mutation.ErrConfirmationDeclined)
	require.Equal(t, int32(0), f.ops.removeCalls.Load())
	require.Equal(t, before, f.cache.List())
}

func TestRowWorkingOutsideEditMode(t *testing.T) {
	f := setupRowFixture(t)

	_, err := f.row.Working()
	require.ErrorIs(t, err, rowedit.ErrNotEditing)
	require.ErrorIs(t, f.row.Set(func(*entities.User) {}), rowedit.ErrNotEditing)

	_, err = f.row.Save(context.Background())
	require.ErrorIs(t, err, rowedit.ErrNotEditing)
}
