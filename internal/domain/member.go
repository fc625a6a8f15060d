package domain

// Member represents user's participation meta for a world.
// No transport or lifecycle logic here.
type Member struct {
	Account  *Account
	Position Vec2
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(account *Account) *Member {
	return &Member{Account: account}
}
