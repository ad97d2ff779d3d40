package pg

import (
	"context"
	"database/sql"

	"kompassi.org/internal/access"
	"kompassi.org/internal/ids"
)

type privileges struct{ db *sql.DB }

const privilegeColumns = `p.id, p.slug, p.title, p.description, p.request_success_message, p.grant_code, p.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrivilege(r rowScanner) (access.Privilege, error) {
	var p access.Privilege
	err := r.Scan(&p.ID, &p.Slug, &p.Title, &p.Description, &p.RequestSuccessMessage, &p.GrantCode, &p.CreatedAt)
	return p, err
}

func (s privileges) Create(ctx context.Context, p *access.Privilege) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into privileges (id, slug, title, description, request_success_message, grant_code)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at
	`, p.ID, p.Slug, p.Title, p.Description, p.RequestSuccessMessage, p.GrantCode).Scan(&p.CreatedAt)
	return mapWriteError(err)
}

func (s privileges) Find(ctx context.Context, id string) (*access.Privilege, error) {
	p, err := scanPrivilege(s.db.QueryRowContext(ctx, `select `+privilegeColumns+` from privileges p where p.id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s privileges) FindBySlug(ctx context.Context, slug string) (*access.Privilege, error) {
	p, err := scanPrivilege(s.db.QueryRowContext(ctx, `select `+privilegeColumns+` from privileges p where p.slug = $1`, slug))
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s privileges) BindGroup(ctx context.Context, gp *access.GroupPrivilege) error {
	if gp.ID == "" {
		gp.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into group_privileges (id, privilege_id, group_id, event_id)
		values ($1, $2, $3, $4)
	`, gp.ID, gp.PrivilegeID, gp.GroupID, nullIfEmpty(gp.EventID))
	return mapWriteError(err)
}

func (s privileges) Potential(ctx context.Context, personID, userID string, filter access.PotentialFilter) ([]access.Privilege, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct `+privilegeColumns+`
		from privileges p
		join group_privileges gp on gp.privilege_id = p.id
		join memberships m on m.group_id = gp.group_id
		where m.user_id = $1
		  and ($3 = '' or gp.event_id = $3)
		  and not exists (
		      select 1 from granted_privileges g
		      where g.privilege_id = p.id and g.person_id = $2
		  )
		order by p.title
	`, userID, personID, filter.EventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []access.Privilege
	for rows.Next() {
		p, err := scanPrivilege(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (s privileges) SaveSlackAccess(ctx context.Context, sa *access.SlackAccess) error {
	if sa.ID == "" {
		sa.ID = ids.New()
	}
	if sa.APIToken == "" {
		sa.APIToken = access.SlackTestToken
	}
	err := s.db.QueryRowContext(ctx, `
		insert into slack_access (id, privilege_id, team_name, api_token)
		values ($1, $2, $3, $4)
		on conflict (privilege_id) do update
		set team_name = excluded.team_name, api_token = excluded.api_token
		returning id
	`, sa.ID, sa.PrivilegeID, sa.TeamName, sa.APIToken).Scan(&sa.ID)
	return mapWriteError(err)
}

func (s privileges) SlackAccessFor(ctx context.Context, privilegeID string) (*access.SlackAccess, error) {
	var sa access.SlackAccess
	err := s.db.QueryRowContext(ctx, `
		select id, privilege_id, team_name, api_token
		from slack_access
		where privilege_id = $1
	`, privilegeID).Scan(&sa.ID, &sa.PrivilegeID, &sa.TeamName, &sa.APIToken)
	if err != nil {
		return nil, notFound(err)
	}
	return &sa, nil
}
