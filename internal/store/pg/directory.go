package pg

import (
	"context"
	"database/sql"

	"kompassi.org/internal/access"
	"kompassi.org/internal/ids"
)

type directory struct{ db *sql.DB }

func (d directory) CreateOrganization(ctx context.Context, org *access.Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	err := d.db.QueryRowContext(ctx, `
		insert into organizations (id, slug, name)
		values ($1, $2, $3)
		returning created_at
	`, org.ID, org.Slug, org.Name).Scan(&org.CreatedAt)
	return mapWriteError(err)
}

func (d directory) CreatePerson(ctx context.Context, p *access.Person) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	_, err := d.db.ExecContext(ctx, `
		insert into people (id, first_name, surname, nick, email, user_id)
		values ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.FirstName, p.Surname, p.Nick, p.Email, nullIfEmpty(p.UserID))
	return mapWriteError(err)
}

func (d directory) FindPerson(ctx context.Context, id string) (*access.Person, error) {
	var (
		p      access.Person
		userID sql.NullString
	)
	err := d.db.QueryRowContext(ctx, `
		select id, first_name, surname, nick, email, user_id
		from people
		where id = $1
	`, id).Scan(&p.ID, &p.FirstName, &p.Surname, &p.Nick, &p.Email, &userID)
	if err != nil {
		return nil, notFound(err)
	}
	p.UserID = userID.String
	return &p, nil
}

func (d directory) CreateGroup(ctx context.Context, g *access.Group) error {
	if g.ID == "" {
		g.ID = ids.New()
	}
	_, err := d.db.ExecContext(ctx, `insert into user_groups (id, name) values ($1, $2)`, g.ID, g.Name)
	return mapWriteError(err)
}

func (d directory) AddMember(ctx context.Context, userID, groupID string) error {
	_, err := d.db.ExecContext(ctx, `
		insert into memberships (user_id, group_id)
		values ($1, $2)
		on conflict do nothing
	`, userID, groupID)
	return mapWriteError(err)
}

func (d directory) GroupsForUser(ctx context.Context, userID string) ([]access.Group, error) {
	rows, err := d.db.QueryContext(ctx, `
		select g.id, g.name
		from user_groups g
		join memberships m on m.group_id = g.id
		where m.user_id = $1
		order by g.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []access.Group
	for rows.Next() {
		var g access.Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}
