package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// sqlStore implements DB on top of any sqlx driver. Queries are written with
// '?' placeholders and rebound for the driver. Timestamps are unix milliseconds.
type sqlStore struct {
	db       *sqlx.DB
	isUnique func(error) bool
	now      func() time.Time
}

var principalTables = map[Kind]string{
	KindUser:  "users",
	KindShop:  "shops",
	KindAdmin: "admins",
}

type clientRow struct {
	ID         int64  `db:"id"`
	ClientID   string `db:"client_id"`
	SecretHash string `db:"client_secret"`
	Name       string `db:"name"`
	CreatedAt  int64  `db:"created_at"`
}

func (r clientRow) client() *Client {
	return &Client{ID: r.ID, ClientID: r.ClientID, SecretHash: r.SecretHash, Name: r.Name, CreatedAt: time.UnixMilli(r.CreatedAt).UTC()}
}

type credentialRow struct {
	ID        int64  `db:"id"`
	Email     string `db:"email"`
	Password  string `db:"password"`
	UserID    *int64 `db:"user_id"`
	ShopID    *int64 `db:"shop_id"`
	AdminID   *int64 `db:"admin_id"`
	CreatedAt int64  `db:"created_at"`
}

func (r credentialRow) credential() (*Credential, error) {
	owner, err := ownerFromColumns(r.UserID, r.ShopID, r.AdminID)
	if err != nil {
		return nil, fmt.Errorf("credential %d: %w", r.ID, err)
	}
	return &Credential{ID: r.ID, Email: r.Email, Password: r.Password, Owner: owner, CreatedAt: time.UnixMilli(r.CreatedAt).UTC()}, nil
}

type tokenRow struct {
	ID               int64  `db:"id"`
	AccessToken      string `db:"access_token"`
	RefreshToken     string `db:"refresh_token"`
	AccessExpiresAt  int64  `db:"access_expires_at"`
	RefreshExpiresAt int64  `db:"refresh_expires_at"`
	ClientID         int64  `db:"client_id"`
	CredentialID     int64  `db:"credential_id"`
	CreatedAt        int64  `db:"created_at"`
}

func (r tokenRow) token() *Token {
	return &Token{
		ID:               r.ID,
		AccessToken:      r.AccessToken,
		RefreshToken:     r.RefreshToken,
		AccessExpiresAt:  time.UnixMilli(r.AccessExpiresAt).UTC(),
		RefreshExpiresAt: time.UnixMilli(r.RefreshExpiresAt).UTC(),
		ClientID:         r.ClientID,
		CredentialID:     r.CredentialID,
		CreatedAt:        time.UnixMilli(r.CreatedAt).UTC(),
	}
}

const (
	clientColumns     = `id,client_id,client_secret,name,created_at`
	credentialColumns = `id,email,password,user_id,shop_id,admin_id,created_at`
	tokenColumns      = `id,access_token,refresh_token,access_expires_at,refresh_expires_at,client_id,credential_id,created_at`
)

func (s *sqlStore) mapErr(op string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case s.isUnique != nil && s.isUnique(err):
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func (s *sqlStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *sqlStore) Close() error                   { return s.db.Close() }

func (s *sqlStore) CreateClient(ctx context.Context, clientID, secretHash, name string) (*Client, error) {
	row := clientRow{ClientID: clientID, SecretHash: secretHash, Name: name, CreatedAt: s.now().UnixMilli()}
	q := s.db.Rebind(`INSERT INTO clients(client_id,client_secret,name,created_at) VALUES(?,?,?,?) RETURNING id`)
	if err := s.db.QueryRowxContext(ctx, q, row.ClientID, row.SecretHash, row.Name, row.CreatedAt).Scan(&row.ID); err != nil {
		return nil, s.mapErr("create client", err)
	}
	return row.client(), nil
}

func (s *sqlStore) GetClientByClientID(ctx context.Context, clientID string) (*Client, error) {
	var row clientRow
	q := s.db.Rebind(`SELECT ` + clientColumns + ` FROM clients WHERE client_id = ?`)
	if err := s.db.GetContext(ctx, &row, q, clientID); err != nil {
		return nil, s.mapErr("get client", err)
	}
	return row.client(), nil
}

func (s *sqlStore) ListClients(ctx context.Context) ([]*Client, error) {
	var rows []clientRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+clientColumns+` FROM clients ORDER BY id`); err != nil {
		return nil, s.mapErr("list clients", err)
	}
	out := make([]*Client, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.client())
	}
	return out, nil
}

func (s *sqlStore) DeleteClient(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM tokens WHERE client_id = ?`), id); err != nil {
			return s.mapErr("delete client tokens", err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM clients WHERE id = ?`), id)
		if err != nil {
			return s.mapErr("delete client", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *sqlStore) CreatePrincipal(ctx context.Context, kind Kind, name, email, passwordHash string) (*Principal, *Credential, error) {
	table, ok := principalTables[kind]
	if !ok {
		return nil, nil, fmt.Errorf("create principal: %w", ErrInvalidOwner)
	}
	now := s.now()
	p := &Principal{Kind: kind, Name: name, CreatedAt: time.UnixMilli(now.UnixMilli()).UTC()}
	var cred *Credential
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		q := tx.Rebind(`INSERT INTO ` + table + `(name,created_at) VALUES(?,?) RETURNING id`)
		if err := tx.QueryRowxContext(ctx, q, name, now.UnixMilli()).Scan(&p.ID); err != nil {
			return s.mapErr("create "+kind.String(), err)
		}
		var err error
		cred, err = NewCredential(email, passwordHash, Owner{Kind: kind, ID: p.ID})
		if err != nil {
			return err
		}
		userID, shopID, adminID := cred.Owner.columns()
		q = tx.Rebind(`INSERT INTO credentials(email,password,user_id,shop_id,admin_id,created_at) VALUES(?,?,?,?,?,?) RETURNING id`)
		if err := tx.QueryRowxContext(ctx, q, email, passwordHash, userID, shopID, adminID, now.UnixMilli()).Scan(&cred.ID); err != nil {
			return s.mapErr("create credential", err)
		}
		cred.CreatedAt = p.CreatedAt
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return p, cred, nil
}

func (s *sqlStore) GetPrincipal(ctx context.Context, owner Owner) (*Principal, error) {
	table, ok := principalTables[owner.Kind]
	if !ok {
		return nil, fmt.Errorf("get principal: %w", ErrInvalidOwner)
	}
	var row struct {
		ID        int64  `db:"id"`
		Name      string `db:"name"`
		CreatedAt int64  `db:"created_at"`
	}
	q := s.db.Rebind(`SELECT id,name,created_at FROM ` + table + ` WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, q, owner.ID); err != nil {
		return nil, s.mapErr("get "+owner.Kind.String(), err)
	}
	return &Principal{ID: row.ID, Kind: owner.Kind, Name: row.Name, CreatedAt: time.UnixMilli(row.CreatedAt).UTC()}, nil
}

func (s *sqlStore) getCredential(ctx context.Context, q sqlx.QueryerContext, where string, arg interface{}) (*Credential, error) {
	var row credentialRow
	if err := sqlx.GetContext(ctx, q, &row, s.db.Rebind(`SELECT `+credentialColumns+` FROM credentials WHERE `+where), arg); err != nil {
		return nil, s.mapErr("get credential", err)
	}
	return row.credential()
}

func (s *sqlStore) GetCredentialByID(ctx context.Context, id int64) (*Credential, error) {
	return s.getCredential(ctx, s.db, `id = ?`, id)
}

func (s *sqlStore) GetCredentialByEmail(ctx context.Context, email string) (*Credential, error) {
	return s.getCredential(ctx, s.db, `email = ?`, email)
}

func (s *sqlStore) UpdateCredential(ctx context.Context, id int64, upd CredentialUpdate) (*Credential, error) {
	var out *Credential
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if upd.Email != nil {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE credentials SET email = ? WHERE id = ?`), *upd.Email, id); err != nil {
				return s.mapErr("update email", err)
			}
		}
		if upd.Password != nil {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE credentials SET password = ? WHERE id = ?`), *upd.Password, id); err != nil {
				return s.mapErr("update password", err)
			}
		}
		var err error
		out, err = s.getCredential(ctx, tx, `id = ?`, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqlStore) DeleteCredential(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		cred, err := s.getCredential(ctx, tx, `id = ?`, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM tokens WHERE credential_id = ?`), id); err != nil {
			return s.mapErr("delete credential tokens", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM credentials WHERE id = ?`), id); err != nil {
			return s.mapErr("delete credential", err)
		}
		table := principalTables[cred.Owner.Kind]
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM `+table+` WHERE id = ?`), cred.Owner.ID); err != nil {
			return s.mapErr("delete "+cred.Owner.Kind.String(), err)
		}
		return nil
	})
}

func (s *sqlStore) insertToken(ctx context.Context, q sqlx.QueryerContext, t *Token) (*Token, error) {
	row := tokenRow{
		AccessToken:      t.AccessToken,
		RefreshToken:     t.RefreshToken,
		AccessExpiresAt:  t.AccessExpiresAt.UnixMilli(),
		RefreshExpiresAt: t.RefreshExpiresAt.UnixMilli(),
		ClientID:         t.ClientID,
		CredentialID:     t.CredentialID,
		CreatedAt:        t.CreatedAt.UnixMilli(),
	}
	query := s.db.Rebind(`INSERT INTO tokens(access_token,refresh_token,access_expires_at,refresh_expires_at,client_id,credential_id,created_at) VALUES(?,?,?,?,?,?,?) RETURNING id`)
	err := q.QueryRowxContext(ctx, query, row.AccessToken, row.RefreshToken, row.AccessExpiresAt, row.RefreshExpiresAt, row.ClientID, row.CredentialID, row.CreatedAt).Scan(&row.ID)
	if err != nil {
		return nil, s.mapErr("create token", err)
	}
	return row.token(), nil
}

func (s *sqlStore) CreateToken(ctx context.Context, t *Token) (*Token, error) {
	return s.insertToken(ctx, s.db, t)
}

func (s *sqlStore) getToken(ctx context.Context, where, arg string) (*Token, error) {
	var row tokenRow
	q := s.db.Rebind(`SELECT ` + tokenColumns + ` FROM tokens WHERE ` + where)
	if err := s.db.GetContext(ctx, &row, q, arg); err != nil {
		return nil, s.mapErr("get token", err)
	}
	return row.token(), nil
}

func (s *sqlStore) GetTokenByAccessToken(ctx context.Context, access string) (*Token, error) {
	return s.getToken(ctx, `access_token = ?`, access)
}

func (s *sqlStore) GetTokenByRefreshToken(ctx context.Context, refresh string) (*Token, error) {
	return s.getToken(ctx, `refresh_token = ?`, refresh)
}

func (s *sqlStore) DeleteToken(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM tokens WHERE id = ?`), id)
	if err != nil {
		return s.mapErr("delete token", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) RotateToken(ctx context.Context, oldID int64, next *Token) (*Token, error) {
	var out *Token
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM tokens WHERE id = ?`), oldID)
		if err != nil {
			return s.mapErr("delete token", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		out, err = s.insertToken(ctx, tx, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
