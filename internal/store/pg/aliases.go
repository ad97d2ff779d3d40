package pg

import (
	"context"
	"database/sql"
	"time"

	"kompassi.org/internal/access"
	"kompassi.org/internal/ids"
)

type aliases struct{ db *sql.DB }

func (s aliases) CreateDomain(ctx context.Context, d *access.EmailAliasDomain) error {
	if d.ID == "" {
		d.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into email_alias_domains (id, domain_name, organization_id)
		values ($1, $2, $3)
	`, d.ID, d.DomainName, d.OrganizationID)
	return mapWriteError(err)
}

func (s aliases) FindDomain(ctx context.Context, id string) (*access.EmailAliasDomain, error) {
	var d access.EmailAliasDomain
	err := s.db.QueryRowContext(ctx, `
		select id, domain_name, organization_id
		from email_alias_domains
		where id = $1
	`, id).Scan(&d.ID, &d.DomainName, &d.OrganizationID)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (s aliases) CreateType(ctx context.Context, t *access.EmailAliasType) error {
	if t.ID == "" {
		t.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into email_alias_types (id, domain_id, metavar, account_name_code)
		values ($1, $2, $3, $4)
	`, t.ID, t.DomainID, t.Metavar, t.AccountNameCode)
	return mapWriteError(err)
}

func (s aliases) FindType(ctx context.Context, id string) (*access.EmailAliasType, error) {
	var t access.EmailAliasType
	err := s.db.QueryRowContext(ctx, `
		select id, domain_id, metavar, account_name_code
		from email_alias_types
		where id = $1
	`, id).Scan(&t.ID, &t.DomainID, &t.Metavar, &t.AccountNameCode)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (s aliases) CreateGroupGrant(ctx context.Context, g *access.GroupEmailAliasGrant) error {
	if g.ID == "" {
		g.ID = ids.New()
	}
	var until sql.NullTime
	if g.ActiveUntil != nil {
		until = sql.NullTime{Time: *g.ActiveUntil, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into group_email_alias_grants (id, group_id, type_id, active_until)
		values ($1, $2, $3, $4)
	`, g.ID, g.GroupID, g.TypeID, until)
	return mapWriteError(err)
}

func (s aliases) GroupGrantsForUser(ctx context.Context, userID string) ([]access.GroupEmailAliasGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select g.id, g.group_id, g.type_id, g.active_until
		from group_email_alias_grants g
		join memberships m on m.group_id = g.group_id
		where m.user_id = $1
		order by g.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []access.GroupEmailAliasGrant
	for rows.Next() {
		var (
			g     access.GroupEmailAliasGrant
			until sql.NullTime
		)
		if err := rows.Scan(&g.ID, &g.GroupID, &g.TypeID, &until); err != nil {
			return nil, err
		}
		if until.Valid {
			t := until.Time
			g.ActiveUntil = &t
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (s aliases) Save(ctx context.Context, a *access.EmailAlias) error {
	if a.ID == "" {
		a.ID = ids.New()
		a.CreatedAt = time.Now().UTC()
		_, err := s.db.ExecContext(ctx, `
			insert into email_aliases
				(id, type_id, person_id, account_name, email_address, domain_id, group_grant_id, created_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8)
		`, a.ID, a.TypeID, a.PersonID, a.AccountName, a.EmailAddress, a.DomainID, nullIfEmpty(a.GroupGrantID), a.CreatedAt)
		if err != nil {
			a.ID = ""
			return mapWriteError(err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		update email_aliases
		set type_id = $2, person_id = $3, account_name = $4, email_address = $5,
		    domain_id = $6, group_grant_id = $7
		where id = $1
	`, a.ID, a.TypeID, a.PersonID, a.AccountName, a.EmailAddress, a.DomainID, nullIfEmpty(a.GroupGrantID))
	if err != nil {
		return mapWriteError(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return access.ErrNotFound
	}
	return nil
}

const aliasColumns = `id, type_id, person_id, account_name, email_address, domain_id, group_grant_id, created_at`

func scanAlias(r rowScanner) (access.EmailAlias, error) {
	var (
		a       access.EmailAlias
		grantID sql.NullString
	)
	err := r.Scan(&a.ID, &a.TypeID, &a.PersonID, &a.AccountName, &a.EmailAddress, &a.DomainID, &grantID, &a.CreatedAt)
	a.GroupGrantID = grantID.String
	return a, err
}

func (s aliases) Find(ctx context.Context, id string) (*access.EmailAlias, error) {
	a, err := scanAlias(s.db.QueryRowContext(ctx, `select `+aliasColumns+` from email_aliases where id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s aliases) ListForPerson(ctx context.Context, personID string) ([]access.EmailAlias, error) {
	rows, err := s.db.QueryContext(ctx, `select `+aliasColumns+` from email_aliases where person_id = $1 order by id`, personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []access.EmailAlias
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
