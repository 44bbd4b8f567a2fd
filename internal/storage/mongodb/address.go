package mongodb

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/xenking/cloud-kitchen/internal/domain/address"
)

type addressBookDocument struct {
	OwnerID   string            `bson:"_id"`
	Version   int64             `bson:"version"`
	Addresses []addressDocument `bson:"addresses"`
}

type addressDocument struct {
	ID        string    `bson:"id"`
	Street    string    `bson:"street"`
	City      string    `bson:"city"`
	State     string    `bson:"state,omitempty"`
	Zip       string    `bson:"zip"`
	Country   string    `bson:"country"`
	IsDefault bool      `bson:"is_default"`
	CreatedAt time.Time `bson:"created_at"`
}

var _ address.Repository = (*AddressBookRepository)(nil)

// AddressBookRepository stores one document per owner holding all of their
// addresses and a version used for compare-and-swap updates.
type AddressBookRepository struct {
	collection *mongo.Collection
}

// NewAddressBookRepository returns an AddressBookRepository using db.
func NewAddressBookRepository(db *mongo.Database) *AddressBookRepository {
	return &AddressBookRepository{collection: db.Collection(addressBooksCollection)}
}

// Load returns ownerID's book, or an empty one at version 0.
func (r *AddressBookRepository) Load(ctx context.Context, ownerID string) (*address.Book, error) {
	var doc addressBookDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": ownerID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return &address.Book{OwnerID: ownerID}, nil
		}
		return nil, errors.Wrapf(err, "load address book %q", ownerID)
	}

	book := &address.Book{
		OwnerID:   doc.OwnerID,
		Version:   doc.Version,
		Addresses: make([]address.Address, len(doc.Addresses)),
	}
	for i, a := range doc.Addresses {
		book.Addresses[i] = address.Address{
			ID:        a.ID,
			OwnerID:   doc.OwnerID,
			Street:    a.Street,
			City:      a.City,
			State:     a.State,
			Zip:       a.Zip,
			Country:   a.Country,
			IsDefault: a.IsDefault,
			CreatedAt: a.CreatedAt,
		}
	}
	return book, nil
}

// Save writes book when the stored version matches book.Version.
func (r *AddressBookRepository) Save(ctx context.Context, book *address.Book) error {
	addrs := make([]addressDocument, len(book.Addresses))
	for i, a := range book.Addresses {
		addrs[i] = addressDocument{
			ID:        a.ID,
			Street:    a.Street,
			City:      a.City,
			State:     a.State,
			Zip:       a.Zip,
			Country:   a.Country,
			IsDefault: a.IsDefault,
			CreatedAt: a.CreatedAt.UTC(),
		}
	}
	next := book.Version + 1

	if book.Version == 0 {
		_, err := r.collection.InsertOne(ctx, addressBookDocument{
			OwnerID:   book.OwnerID,
			Version:   next,
			Addresses: addrs,
		})
		if mongo.IsDuplicateKeyError(err) {
			return address.ErrVersionConflict
		}
		if err != nil {
			return errors.Wrapf(err, "insert address book %q", book.OwnerID)
		}
		book.Version = next
		return nil
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": book.OwnerID, "version": book.Version},
		bson.M{"$set": bson.M{"addresses": addrs, "version": next}},
	)
	if err != nil {
		return errors.Wrapf(err, "update address book %q", book.OwnerID)
	}
	if res.MatchedCount == 0 {
		return address.ErrVersionConflict
	}
	book.Version = next
	return nil
}
