package bridge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/roach88/shopsync/internal/task"
)

// Bridge exchanges export and confirmation artifacts with the billing
// terminal through a shared directory.
type Bridge struct {
	dir Dir
}

// New creates a Bridge over dir.
func New(dir Dir) *Bridge {
	return &Bridge{dir: dir}
}

// Export writes the export artifact for t and returns its file name.
// Exporting the same task again rewrites the artifact; the terminal reads
// whichever complete version is on disk.
func (b *Bridge) Export(ctx context.Context, t task.Task) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	exp, err := NewOrderExport(t)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", t.OrderNumber, err)
	}
	data, err := EncodeExport(exp)
	if err != nil {
		return "", err
	}

	name := ExportFileName(t.OrderNumber)
	if err := b.dir.WriteFileAtomic(name, data); err != nil {
		return "", fmt.Errorf("export %s: %w", t.OrderNumber, err)
	}
	return name, nil
}

// CommitFunc records a confirmation durably. The artifact is only consumed
// after it returns nil.
type CommitFunc func(BillingConfirmation) error

// ScanForConfirmation looks for the confirmation artifact of orderNumber.
//
// Returns found=false with a nil error when no artifact exists yet, which is
// the normal outcome of most polls. When one exists its trimmed content is
// the invoice number; commit is called with it and, only if commit succeeds,
// the artifact is renamed to <name>.processed so it is never read again.
//
// Errors:
//   - ErrEmptyInvoice: artifact present but blank; left in place.
//   - commit's error, wrapped; artifact left in place.
//   - ErrNotConsumed: committed but the rename failed; found is true.
func (b *Bridge) ScanForConfirmation(ctx context.Context, orderNumber string, commit CommitFunc) (BillingConfirmation, bool, error) {
	if err := ctx.Err(); err != nil {
		return BillingConfirmation{}, false, err
	}
	if err := ValidateOrderNumber(orderNumber); err != nil {
		return BillingConfirmation{}, false, err
	}

	name := ConfirmationFileName(orderNumber)
	data, err := b.dir.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return BillingConfirmation{}, false, nil
	}
	if err != nil {
		return BillingConfirmation{}, false, fmt.Errorf("read %s: %w", name, err)
	}

	conf := BillingConfirmation{OrderNumber: orderNumber, InvoiceNumber: parseInvoice(data)}
	if conf.InvoiceNumber == "" {
		return BillingConfirmation{}, false, fmt.Errorf("%s: %w", name, ErrEmptyInvoice)
	}

	if err := commit(conf); err != nil {
		return BillingConfirmation{}, false, fmt.Errorf("commit %s: %w", name, err)
	}

	if err := b.consume(name); err != nil {
		return conf, true, err
	}
	return conf, true, nil
}

// ListConfirmations returns the confirmation artifacts still waiting in the
// directory, sorted by file name. Artifacts removed while listing are
// skipped; a blank artifact is returned with an empty invoice number.
func (b *Bridge) ListConfirmations(ctx context.Context) ([]BillingConfirmation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, err := b.dir.List(ConfirmationFilePattern)
	if err != nil {
		return nil, err
	}

	confs := []BillingConfirmation{}
	for _, name := range names {
		orderNumber, ok := ParseConfirmationFileName(name)
		if !ok {
			continue
		}
		data, err := b.dir.ReadFile(name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		confs = append(confs, BillingConfirmation{OrderNumber: orderNumber, InvoiceNumber: parseInvoice(data)})
	}
	return confs, nil
}

// Consume renames the confirmation artifact of orderNumber to
// <name>.processed without reading it. Used for artifacts whose invoice is
// already recorded.
func (b *Bridge) Consume(ctx context.Context, orderNumber string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateOrderNumber(orderNumber); err != nil {
		return err
	}
	return b.consume(ConfirmationFileName(orderNumber))
}

func (b *Bridge) consume(name string) error {
	if err := b.dir.Rename(name, name+ProcessedSuffix); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotConsumed, name, err)
	}
	return nil
}
