package pg

import (
	"context"
	"database/sql"
	"errors"

	"kompassi.org/internal/access"
	"kompassi.org/internal/ids"
)

type grants struct{ db *sql.DB }

// GetOrCreate relies on the (privilege_id, person_id) unique constraint:
// concurrent inserts collapse into one row and every caller reads it back.
func (s grants) GetOrCreate(ctx context.Context, privilegeID, personID string, initial access.State) (*access.GrantedPrivilege, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		insert into granted_privileges (id, privilege_id, person_id, state)
		values ($1, $2, $3, $4)
		on conflict (privilege_id, person_id) do nothing
	`, ids.New(), privilegeID, personID, string(initial))
	if err != nil {
		return nil, false, mapWriteError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	gp, err := s.find(ctx, privilegeID, personID)
	if err != nil {
		return nil, false, notFound(err)
	}
	return gp, n == 1, nil
}

func (s grants) find(ctx context.Context, privilegeID, personID string) (*access.GrantedPrivilege, error) {
	var (
		gp    access.GrantedPrivilege
		state string
	)
	err := s.db.QueryRowContext(ctx, `
		select id, privilege_id, person_id, state, granted_at
		from granted_privileges
		where privilege_id = $1 and person_id = $2
	`, privilegeID, personID).Scan(&gp.ID, &gp.PrivilegeID, &gp.PersonID, &state, &gp.GrantedAt)
	if err != nil {
		return nil, err
	}
	gp.State = access.State(state)
	return &gp, nil
}

func (s grants) FindInState(ctx context.Context, privilegeID, personID string, state access.State) (*access.GrantedPrivilege, error) {
	gp, err := s.find(ctx, privilegeID, personID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if gp.State != state {
		return nil, access.ErrRecordNotFound
	}
	return gp, nil
}

func (s grants) Transition(ctx context.Context, id string, from, to access.State) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update granted_privileges
		set state = $3
		where id = $1 and state = $2
	`, id, string(from), string(to))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s grants) ListForPerson(ctx context.Context, personID string) ([]access.GrantedPrivilege, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, privilege_id, person_id, state, granted_at
		from granted_privileges
		where person_id = $1
		order by granted_at, id
	`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []access.GrantedPrivilege
	for rows.Next() {
		var (
			gp    access.GrantedPrivilege
			state string
		)
		if err := rows.Scan(&gp.ID, &gp.PrivilegeID, &gp.PersonID, &state, &gp.GrantedAt); err != nil {
			return nil, err
		}
		gp.State = access.State(state)
		res = append(res, gp)
	}
	return res, rows.Err()
}
