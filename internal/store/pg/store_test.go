package pg

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kompassi.org/internal/access"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

var grantCols = []string{"id", "privilege_id", "person_id", "state", "granted_at"}

func TestGetOrCreateInsertsApproved(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectExec("insert into granted_privileges").
		WithArgs(sqlmock.AnyArg(), "priv", "pers", "approved").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select id, privilege_id, person_id, state, granted_at from granted_privileges").
		WithArgs("priv", "pers").
		WillReturnRows(sqlmock.NewRows(grantCols).AddRow("g1", "priv", "pers", "approved", now))

	gp, created, err := s.Grants().GetOrCreate(context.Background(), "priv", "pers", access.StateApproved)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, access.StateApproved, gp.State)
	assert.Equal(t, "g1", gp.ID)
}

func TestGetOrCreateReturnsExisting(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec("insert into granted_privileges").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("from granted_privileges").
		WithArgs("priv", "pers").
		WillReturnRows(sqlmock.NewRows(grantCols).AddRow("g1", "priv", "pers", "granted", time.Now()))

	gp, created, err := s.Grants().GetOrCreate(context.Background(), "priv", "pers", access.StateApproved)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, access.StateGranted, gp.State)
}

func TestGetOrCreateUnknownPerson(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into granted_privileges").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	_, _, err := s.Grants().GetOrCreate(context.Background(), "priv", "ghost", access.StateApproved)
	assert.ErrorIs(t, err, access.ErrNotFound)
}

func TestFindInStateMismatch(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from granted_privileges").
		WillReturnRows(sqlmock.NewRows(grantCols).AddRow("g1", "priv", "pers", "granted", time.Now()))
	mock.ExpectQuery("from granted_privileges").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Grants().FindInState(context.Background(), "priv", "pers", access.StateApproved)
	assert.ErrorIs(t, err, access.ErrRecordNotFound)
	_, err = s.Grants().FindInState(context.Background(), "priv", "pers", access.StateApproved)
	assert.ErrorIs(t, err, access.ErrRecordNotFound)
}

func TestTransitionIsConditional(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update granted_privileges set state = \\$3 where id = \\$1 and state = \\$2").
		WithArgs("g1", "approved", "granted").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update granted_privileges").
		WithArgs("g1", "approved", "granted").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.Grants().Transition(context.Background(), "g1", access.StateApproved, access.StateGranted)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Grants().Transition(context.Background(), "g1", access.StateApproved, access.StateGranted)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPotentialQuery(t *testing.T) {
	s, mock := newMock(t)
	cols := []string{"id", "slug", "title", "description", "request_success_message", "grant_code", "created_at"}
	mock.ExpectQuery("select distinct .* from privileges p join group_privileges gp .* not exists").
		WithArgs("user-1", "person-1", "").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("p1", "slack", "Slack", "", "", "access.slack:invite", time.Now()))

	got, err := s.Privileges().Potential(context.Background(), "person-1", "user-1", access.PotentialFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "slack", got[0].Slug)
}

func TestCreatePrivilegeConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into privileges").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := s.Privileges().Create(context.Background(), &access.Privilege{Slug: "dup", Title: "Dup", GrantCode: access.NoopGrantCode})
	assert.ErrorIs(t, err, access.ErrConflict)
}

func TestSaveSlackAccessDefaultsToTestToken(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into slack_access").
		WithArgs(sqlmock.AnyArg(), "priv", "tracon", access.SlackTestToken).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sa1"))

	sa := &access.SlackAccess{PrivilegeID: "priv", TeamName: "tracon"}
	require.NoError(t, s.Privileges().SaveSlackAccess(context.Background(), sa))
	assert.Equal(t, "sa1", sa.ID)
	assert.True(t, sa.TestMode())
}

func TestFindPersonNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from people").WithArgs("nobody").WillReturnError(sql.ErrNoRows)

	_, err := s.Directory().FindPerson(context.Background(), "nobody")
	assert.ErrorIs(t, err, access.ErrNotFound)
}

func TestFindPersonWithoutUser(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from people").WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "surname", "nick", "email", "user_id"}).
			AddRow("p1", "Alice", "Example", "", "alice@example.com", nil))

	p, err := s.Directory().FindPerson(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, p.HasUser())
}

func TestSaveAliasConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into email_aliases").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	a := &access.EmailAlias{TypeID: "t", PersonID: "p", AccountName: "alice", EmailAddress: "alice@tracon.fi", DomainID: "d"}
	err := s.Aliases().Save(context.Background(), a)
	assert.ErrorIs(t, err, access.ErrConflict)
	assert.Empty(t, a.ID)
}

func TestSaveAliasUpdateMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update email_aliases").
		WillReturnResult(sqlmock.NewResult(0, 0))

	a := &access.EmailAlias{ID: "a1", TypeID: "t", PersonID: "p", AccountName: "alice", EmailAddress: "alice@tracon.fi", DomainID: "d"}
	assert.ErrorIs(t, s.Aliases().Save(context.Background(), a), access.ErrNotFound)
}

func TestGroupGrantsForUser(t *testing.T) {
	s, mock := newMock(t)
	until := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("from group_email_alias_grants g join memberships m").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "group_id", "type_id", "active_until"}).
			AddRow("gg1", "g", "t1", nil).
			AddRow("gg2", "g", "t2", until))

	got, err := s.Aliases().GroupGrantsForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].ActiveUntil)
	require.NotNil(t, got[1].ActiveUntil)
	assert.True(t, got[1].ActiveUntil.Equal(until))
}
