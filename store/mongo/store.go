// Package mongo implements the billing store on MongoDB. The invoice
// aggregate is stored as a single document, so every lifecycle change
// persists atomically.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	billing "github.com/edupay/billing"
	"github.com/edupay/billing/clock"
	"github.com/edupay/billing/gateway"
	"github.com/edupay/billing/id"
	"github.com/edupay/billing/invoice"
	billingstore "github.com/edupay/billing/store"
)

// Collection name constants.
const (
	colInvoices = "billing_invoices"
	colAccounts = "billing_accounts"
)

// compile-time interface check
var _ billingstore.Store = (*Store)(nil)

// Store implements store.Store on a MongoDB database.
type Store struct {
	db *mongo.Database
}

// New creates a MongoDB store on the given database handle.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

// Migrate creates indexes for all billing collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("billing/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close disconnects the underlying client.
func (s *Store) Close() error {
	return s.db.Client().Disconnect(context.Background())
}

// ==================== Invoice Store ====================

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	m := toInvoiceModel(inv)
	_, err := s.db.Collection(colInvoices).InsertOne(ctx, m)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrAlreadyExists
		}
		return fmt.Errorf("billing/mongo: create invoice: %w", err)
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, bson.M{"_id": invID.String()}, "get invoice")
}

func (s *Store) GetInvoiceByCode(ctx context.Context, code string) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, bson.M{"code": code}, "get invoice by code")
}

func (s *Store) GetInvoiceByExternalID(ctx context.Context, institutionID id.InstitutionID, externalID string) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, bson.M{
		"institution_id": institutionID.String(),
		"external_id":    externalID,
	}, "get invoice by external id")
}

func (s *Store) GetInvoiceByRemoteID(ctx context.Context, remoteID string) (*invoice.Invoice, error) {
	return s.findInvoice(ctx, bson.M{"instruments.remote_id": remoteID}, "get invoice by remote id")
}

func (s *Store) findInvoice(ctx context.Context, filter bson.M, op string) (*invoice.Invoice, error) {
	var m invoiceModel
	err := s.db.Collection(colInvoices).FindOne(ctx, filter).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("billing/mongo: %s: %w", op, err)
	}
	return fromInvoiceModel(&m)
}

func (s *Store) ListInvoices(ctx context.Context, institutionID id.InstitutionID, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	filter := bson.M{"institution_id": institutionID.String()}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.ReferencePeriod != "" {
		filter["reference_period"] = opts.ReferencePeriod
	}
	if opts.PayerDocument != "" {
		filter["payer.document"] = opts.PayerDocument
	}
	if !opts.DueFrom.IsZero() {
		filter["due_date"] = bson.M{"$gte": opts.DueFrom}
	}
	if !opts.DueTo.IsZero() {
		if due, ok := filter["due_date"].(bson.M); ok {
			due["$lte"] = opts.DueTo
		} else {
			filter["due_date"] = bson.M{"$lte": opts.DueTo}
		}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "code", Value: 1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts = findOpts.SetSkip(int64(opts.Offset))
	}

	return s.listInvoices(ctx, filter, findOpts, "list invoices")
}

func (s *Store) ListInvoicesByPayerDocument(ctx context.Context, institutionID id.InstitutionID, document string) ([]*invoice.Invoice, error) {
	filter := bson.M{
		"institution_id": institutionID.String(),
		"payer.document": document,
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "code", Value: 1}})
	return s.listInvoices(ctx, filter, findOpts, "list invoices by payer document")
}

func (s *Store) ListInvoicesToTransferOn(ctx context.Context, transferDate time.Time) ([]*invoice.Invoice, error) {
	day := clock.Truncate(transferDate)
	next := day.AddDate(0, 0, 1)

	filter := bson.M{"$or": bson.A{
		bson.M{"effective_transfer_base_date": bson.M{"$gte": day, "$lt": next}},
		bson.M{
			"effective_transfer_base_date": time.Time{},
			"due_date":                     bson.M{"$gte": day, "$lt": next},
		},
	}}
	findOpts := options.Find().SetSort(bson.D{{Key: "code", Value: 1}})
	return s.listInvoices(ctx, filter, findOpts, "list invoices to transfer")
}

func (s *Store) ListOverdueInvoices(ctx context.Context, dueBefore time.Time) ([]*invoice.Invoice, error) {
	filter := bson.M{
		"due_date": bson.M{"$lt": clock.Truncate(dueBefore)},
		"status": bson.M{"$nin": bson.A{
			string(invoice.StatusPaid),
			string(invoice.StatusCanceled),
		}},
	}
	findOpts := options.Find().SetSort(bson.D{{Key: "code", Value: 1}})
	return s.listInvoices(ctx, filter, findOpts, "list overdue invoices")
}

func (s *Store) listInvoices(ctx context.Context, filter bson.M, findOpts *options.FindOptionsBuilder, op string) ([]*invoice.Invoice, error) {
	cursor, err := s.db.Collection(colInvoices).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: %s: %w", op, err)
	}
	defer cursor.Close(ctx)

	var models []invoiceModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("billing/mongo: %s decode: %w", op, err)
	}

	result := make([]*invoice.Invoice, len(models))
	for i := range models {
		inv, err := fromInvoiceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = inv
	}
	return result, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	m := toInvoiceModel(inv)
	m.UpdatedAt = now()

	res, err := s.db.Collection(colInvoices).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("billing/mongo: update invoice: %w", err)
	}
	if res.MatchedCount == 0 {
		return billing.ErrInvoiceNotFound
	}
	return nil
}

// ==================== Gateway account Store ====================

func (s *Store) CreateAccount(ctx context.Context, account *gateway.Account) error {
	if account.Default {
		_, err := s.db.Collection(colAccounts).UpdateMany(ctx,
			bson.M{"institution_id": account.InstitutionID.String(), "default": true},
			bson.M{"$set": bson.M{"default": false}})
		if err != nil {
			return fmt.Errorf("billing/mongo: clear default account: %w", err)
		}
	}

	m := toAccountModel(account)
	_, err := s.db.Collection(colAccounts).InsertOne(ctx, m)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrAlreadyExists
		}
		return fmt.Errorf("billing/mongo: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID uuid.UUID) (*gateway.Account, error) {
	var m accountModel
	err := s.db.Collection(colAccounts).FindOne(ctx, bson.M{"_id": accountID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrAccountNotFound
		}
		return nil, fmt.Errorf("billing/mongo: get account: %w", err)
	}
	return fromAccountModel(&m)
}

func (s *Store) GetDefaultAccount(ctx context.Context, institutionID id.InstitutionID) (*gateway.Account, error) {
	var m accountModel
	err := s.db.Collection(colAccounts).FindOne(ctx, bson.M{
		"institution_id": institutionID.String(),
		"default":        true,
	}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrNoDefaultAccount
		}
		return nil, fmt.Errorf("billing/mongo: get default account: %w", err)
	}
	return fromAccountModel(&m)
}

func (s *Store) ListAccounts(ctx context.Context, institutionID id.InstitutionID) ([]*gateway.Account, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := s.db.Collection(colAccounts).Find(ctx,
		bson.M{"institution_id": institutionID.String()}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: list accounts: %w", err)
	}
	defer cursor.Close(ctx)

	var models []accountModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("billing/mongo: list accounts decode: %w", err)
	}

	result := make([]*gateway.Account, len(models))
	for i := range models {
		account, err := fromAccountModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = account
	}
	return result, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all billing collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colInvoices: {
			{
				Keys:    bson.D{{Key: "code", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
			{
				Keys:    bson.D{{Key: "institution_id", Value: 1}, {Key: "external_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
			{Keys: bson.D{{Key: "institution_id", Value: 1}, {Key: "status", Value: 1}, {Key: "due_date", Value: 1}}},
			{Keys: bson.D{{Key: "institution_id", Value: 1}, {Key: "payer.document", Value: 1}}},
			{Keys: bson.D{{Key: "instruments.remote_id", Value: 1}}},
			{Keys: bson.D{{Key: "effective_transfer_base_date", Value: 1}}},
		},
		colAccounts: {
			{Keys: bson.D{{Key: "institution_id", Value: 1}, {Key: "default", Value: 1}}},
		},
	}
}
