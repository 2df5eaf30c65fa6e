package main

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DB is the persistence collaborator. Lookups return ErrNotFound when the
// record does not exist; unique violations return ErrAlreadyExists.
type DB interface {
	Init(ctx context.Context) error
	// Client operations
	CreateClient(ctx context.Context, clientID, secretHash, name string) (*Client, error)
	GetClientByClientID(ctx context.Context, clientID string) (*Client, error)
	ListClients(ctx context.Context) ([]*Client, error)
	DeleteClient(ctx context.Context, id int64) error
	// Principal operations; the principal and its credential are created together
	CreatePrincipal(ctx context.Context, kind Kind, name, email, passwordHash string) (*Principal, *Credential, error)
	GetPrincipal(ctx context.Context, owner Owner) (*Principal, error)
	// Credential operations
	GetCredentialByID(ctx context.Context, id int64) (*Credential, error)
	GetCredentialByEmail(ctx context.Context, email string) (*Credential, error)
	UpdateCredential(ctx context.Context, id int64, upd CredentialUpdate) (*Credential, error)
	// DeleteCredential removes the credential, its owning principal and every token issued against it.
	DeleteCredential(ctx context.Context, id int64) error
	// Token operations
	CreateToken(ctx context.Context, t *Token) (*Token, error)
	GetTokenByAccessToken(ctx context.Context, access string) (*Token, error)
	GetTokenByRefreshToken(ctx context.Context, refresh string) (*Token, error)
	DeleteToken(ctx context.Context, id int64) error
	// RotateToken atomically replaces old with next.
	RotateToken(ctx context.Context, oldID int64, next *Token) (*Token, error)

	Ping(ctx context.Context) error
	Close() error
}

// MemDB keeps everything in process memory.
type MemDB struct {
	mu          sync.RWMutex
	clients     map[int64]*Client
	principals  map[Owner]*Principal
	credentials map[int64]*Credential
	tokens      map[int64]*Token
	seq         int64
	now         func() time.Time
}

func NewMemoryDB() *MemDB {
	return &MemDB{
		clients:     map[int64]*Client{},
		principals:  map[Owner]*Principal{},
		credentials: map[int64]*Credential{},
		tokens:      map[int64]*Token{},
		now:         time.Now,
	}
}

func (m *MemDB) Init(ctx context.Context) error { return nil }
func (m *MemDB) Ping(ctx context.Context) error { return nil }
func (m *MemDB) Close() error                   { return nil }

func (m *MemDB) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *MemDB) CreateClient(ctx context.Context, clientID, secretHash, name string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		if c.ClientID == clientID {
			return nil, ErrAlreadyExists
		}
	}
	c := &Client{ID: m.nextID(), ClientID: clientID, SecretHash: secretHash, Name: name, CreatedAt: m.now().UTC()}
	m.clients[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *MemDB) GetClientByClientID(ctx context.Context, clientID string) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		if c.ClientID == clientID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemDB) ListClients(ctx context.Context) ([]*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemDB) DeleteClient(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[id]; !ok {
		return ErrNotFound
	}
	for tid, t := range m.tokens {
		if t.ClientID == id {
			delete(m.tokens, tid)
		}
	}
	delete(m.clients, id)
	return nil
}

func (m *MemDB) CreatePrincipal(ctx context.Context, kind Kind, name, email, passwordHash string) (*Principal, *Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emailTaken(email, 0) {
		return nil, nil, ErrAlreadyExists
	}
	now := m.now().UTC()
	p := &Principal{ID: m.nextID(), Kind: kind, Name: name, CreatedAt: now}
	cred, err := NewCredential(email, passwordHash, Owner{Kind: kind, ID: p.ID})
	if err != nil {
		return nil, nil, err
	}
	cred.ID = m.nextID()
	cred.CreatedAt = now
	m.principals[cred.Owner] = p
	m.credentials[cred.ID] = cred
	pc, cc := *p, *cred
	return &pc, &cc, nil
}

func (m *MemDB) GetPrincipal(ctx context.Context, owner Owner) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[owner]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemDB) emailTaken(email string, except int64) bool {
	for _, c := range m.credentials {
		if c.Email == email && c.ID != except {
			return true
		}
	}
	return false
}

func (m *MemDB) GetCredentialByID(ctx context.Context, id int64) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemDB) GetCredentialByEmail(ctx context.Context, email string) (*Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.credentials {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemDB) UpdateCredential(ctx context.Context, id int64, upd CredentialUpdate) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Email != nil {
		if m.emailTaken(*upd.Email, id) {
			return nil, ErrAlreadyExists
		}
		c.Email = *upd.Email
	}
	if upd.Password != nil {
		c.Password = *upd.Password
	}
	cp := *c
	return &cp, nil
}

func (m *MemDB) DeleteCredential(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credentials[id]
	if !ok {
		return ErrNotFound
	}
	for tid, t := range m.tokens {
		if t.CredentialID == id {
			delete(m.tokens, tid)
		}
	}
	delete(m.principals, c.Owner)
	delete(m.credentials, id)
	return nil
}

func (m *MemDB) CreateToken(ctx context.Context, t *Token) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertToken(t)
}

func (m *MemDB) insertToken(t *Token) (*Token, error) {
	if _, ok := m.clients[t.ClientID]; !ok {
		return nil, ErrNotFound
	}
	if _, ok := m.credentials[t.CredentialID]; !ok {
		return nil, ErrNotFound
	}
	for _, other := range m.tokens {
		if other.AccessToken == t.AccessToken || other.RefreshToken == t.RefreshToken {
			return nil, ErrAlreadyExists
		}
	}
	cp := *t
	cp.ID = m.nextID()
	m.tokens[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MemDB) GetTokenByAccessToken(ctx context.Context, access string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if t.AccessToken == access {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemDB) GetTokenByRefreshToken(ctx context.Context, refresh string) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tokens {
		if t.RefreshToken == refresh {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemDB) DeleteToken(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[id]; !ok {
		return ErrNotFound
	}
	delete(m.tokens, id)
	return nil
}

func (m *MemDB) RotateToken(ctx context.Context, oldID int64, next *Token) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[oldID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.tokens, oldID)
	t, err := m.insertToken(next)
	if err != nil {
		m.tokens[oldID] = old
		return nil, err
	}
	return t, nil
}
