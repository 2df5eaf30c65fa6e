package main

import (
	"fmt"
	"time"
)

// Kind is the principal role a credential is bound to.
type Kind int

const (
	KindUser Kind = iota + 1
	KindShop
	KindAdmin
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindShop:
		return "shop"
	case KindAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

func (k Kind) valid() bool {
	return k == KindUser || k == KindShop || k == KindAdmin
}

// Owner identifies the single principal a credential belongs to.
type Owner struct {
	Kind Kind
	ID   int64
}

func UserOwner(id int64) Owner  { return Owner{Kind: KindUser, ID: id} }
func ShopOwner(id int64) Owner  { return Owner{Kind: KindShop, ID: id} }
func AdminOwner(id int64) Owner { return Owner{Kind: KindAdmin, ID: id} }

func (o Owner) validate() error {
	if !o.Kind.valid() || o.ID <= 0 {
		return fmt.Errorf("%w: %s #%d", ErrInvalidOwner, o.Kind, o.ID)
	}
	return nil
}

// columns returns the persisted (user_id, shop_id, admin_id) triad; exactly one is non-nil.
func (o Owner) columns() (userID, shopID, adminID *int64) {
	id := o.ID
	switch o.Kind {
	case KindUser:
		userID = &id
	case KindShop:
		shopID = &id
	case KindAdmin:
		adminID = &id
	}
	return
}

// ownerFromColumns rebuilds an Owner from the three nullable references and
// rejects rows where zero or several of them are populated.
func ownerFromColumns(userID, shopID, adminID *int64) (Owner, error) {
	var owner Owner
	set := 0
	if userID != nil {
		owner, set = UserOwner(*userID), set+1
	}
	if shopID != nil {
		owner, set = ShopOwner(*shopID), set+1
	}
	if adminID != nil {
		owner, set = AdminOwner(*adminID), set+1
	}
	if set != 1 {
		return Owner{}, fmt.Errorf("%w: %d affiliations set", ErrInvalidOwner, set)
	}
	return owner, owner.validate()
}

// Client is a registered API consumer, e.g. a mobile app build.
type Client struct {
	ID         int64
	ClientID   string
	SecretHash string
	Name       string
	CreatedAt  time.Time
}

// Credential is the login identity of exactly one principal.
type Credential struct {
	ID        int64
	Email     string
	Password  string // bcrypt digest
	Owner     Owner
	CreatedAt time.Time
}

// NewCredential builds a credential for owner. The owner cannot change afterwards.
func NewCredential(email, passwordHash string, owner Owner) (*Credential, error) {
	if err := owner.validate(); err != nil {
		return nil, err
	}
	return &Credential{Email: email, Password: passwordHash, Owner: owner}, nil
}

// AffiliatedTo reports whether the credential belongs to a principal of kind k.
func (c *Credential) AffiliatedTo(k Kind) bool {
	return c != nil && c.Owner.Kind == k && c.Owner.ID > 0
}

// Token is an issued session.
type Token struct {
	ID               int64
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	ClientID         int64
	CredentialID     int64
	CreatedAt        time.Time
}

// Expired reports whether the access token can no longer authenticate at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.AccessExpiresAt)
}

// Principal is a user, shop or admin account.
type Principal struct {
	ID        int64
	Kind      Kind
	Name      string
	CreatedAt time.Time
}

// CredentialUpdate carries the mutable credential fields; nil leaves a field unchanged.
type CredentialUpdate struct {
	Email    *string
	Password *string
}
