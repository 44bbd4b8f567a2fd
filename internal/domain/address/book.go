package address

// Book is the aggregate of one owner's addresses.
type Book struct {
	OwnerID   string
	Addresses []Address
	Version   int64
}

func (b *Book) index(id string) int {
	for i := range b.Addresses {
		if b.Addresses[i].ID == id {
			return i
		}
	}
	return -1
}

// Get returns the address with the given id.
func (b *Book) Get(id string) (Address, bool) {
	if i := b.index(id); i >= 0 {
		return b.Addresses[i], true
	}
	return Address{}, false
}

// Default returns the default address, if any.
func (b *Book) Default() (Address, bool) {
	for _, a := range b.Addresses {
		if a.IsDefault {
			return a, true
		}
	}
	return Address{}, false
}

// Add appends a. The first address of a book becomes the default.
func (b *Book) Add(a Address) Address {
	a.OwnerID = b.OwnerID
	a.IsDefault = len(b.Addresses) == 0
	b.Addresses = append(b.Addresses, a)
	return a
}

// Update applies p to the address with the given id.
func (b *Book) Update(id string, p Patch) (Address, error) {
	i := b.index(id)
	if i < 0 {
		return Address{}, ErrNotFound
	}
	f := p.apply(b.Addresses[i].fields()).Normalize()
	if err := f.Validate(); err != nil {
		return Address{}, err
	}
	b.Addresses[i].setFields(f)
	return b.Addresses[i], nil
}

// Remove deletes the address with the given id. When it was the default, the
// first remaining address is promoted and returned.
func (b *Book) Remove(id string) (promoted *Address, err error) {
	i := b.index(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	wasDefault := b.Addresses[i].IsDefault
	b.Addresses = append(b.Addresses[:i], b.Addresses[i+1:]...)

	if !wasDefault || len(b.Addresses) == 0 {
		return nil, nil
	}
	b.Addresses[0].IsDefault = true
	p := b.Addresses[0]
	return &p, nil
}

// SetDefault makes the address with the given id the only default.
func (b *Book) SetDefault(id string) (Address, error) {
	i := b.index(id)
	if i < 0 {
		return Address{}, ErrNotFound
	}
	for j := range b.Addresses {
		b.Addresses[j].IsDefault = j == i
	}
	return b.Addresses[i], nil
}
