// Package terminal simulates the billing terminal operator for development
// and tests. It honors the same file contract as the real terminal: it reads
// IMPORT_ORDER_<n>.csv, and when the operator "bills" the order it writes
// BILLED_<n>.txt holding the invoice number and deletes the import file.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/roach88/shopsync/internal/bridge"
)

// DefaultBillProbability is the chance an exported order is billed on a
// given step.
const DefaultBillProbability = 0.5

// Simulator plays the terminal operator over a shared directory.
type Simulator struct {
	dir         bridge.Dir
	probability float64
	roll        func() float64
	invoice     func() string
	logger      *slog.Logger
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithBillProbability sets the chance, in [0, 1], that a pending export is
// billed on each step.
func WithBillProbability(p float64) Option {
	return func(s *Simulator) {
		s.probability = p
	}
}

// WithRand replaces the random source used for billing decisions and the
// default invoice numbers.
func WithRand(r *rand.Rand) Option {
	return func(s *Simulator) {
		s.roll = r.Float64
		s.invoice = randomInvoice(r)
	}
}

// WithInvoiceGenerator replaces the invoice number generator.
func WithInvoiceGenerator(gen func() string) Option {
	return func(s *Simulator) {
		s.invoice = gen
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) {
		s.logger = l
	}
}

// New creates a Simulator over dir.
func New(dir bridge.Dir, opts ...Option) *Simulator {
	s := &Simulator{
		dir:         dir,
		probability: DefaultBillProbability,
		roll:        rand.Float64,
		invoice:     randomInvoice(nil),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// randomInvoice returns INV-<n> with n in [0, 100000). A nil r uses the
// global source.
func randomInvoice(r *rand.Rand) func() string {
	intN := rand.IntN
	if r != nil {
		intN = r.IntN
	}
	return func() string {
		return fmt.Sprintf("INV-%d", intN(100000))
	}
}

// Step looks at every pending export once and bills each with the configured
// probability. Malformed exports are logged and left in place. An order whose
// previous confirmation has not been consumed yet is not billed again.
//
// Returns the confirmations written. Per-file I/O errors are joined into the
// returned error after every file has been tried.
func (s *Simulator) Step(ctx context.Context) ([]bridge.BillingConfirmation, error) {
	names, err := s.dir.List(bridge.ExportFilePattern)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}

	billed := []bridge.BillingConfirmation{}
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return billed, err
		}

		orderNumber, ok := bridge.ParseExportFileName(name)
		if !ok {
			continue
		}
		log := s.logger.With("component", "terminal", "order_number", orderNumber)

		data, err := s.dir.ReadFile(name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", name, err))
			continue
		}
		exp, err := bridge.DecodeExport(data)
		if err != nil {
			log.Warn("skipping malformed export", "file", name, "error", err)
			continue
		}

		confName := bridge.ConfirmationFileName(orderNumber)
		if _, err := s.dir.ReadFile(confName); err == nil {
			log.Debug("confirmation still pending")
			continue
		}

		if s.roll() >= s.probability {
			continue
		}

		conf := bridge.BillingConfirmation{OrderNumber: orderNumber, InvoiceNumber: s.invoice()}
		if err := s.dir.WriteFileAtomic(confName, []byte(conf.InvoiceNumber)); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", confName, err))
			continue
		}
		if err := s.dir.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
		}

		log.Info("order billed", "invoice_number", conf.InvoiceNumber, "lines", len(exp.Lines))
		billed = append(billed, conf)
	}
	return billed, errors.Join(errs...)
}

// Run calls Step every interval until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("terminal simulator starting", "interval", interval, "bill_probability", s.probability)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Step(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("terminal simulator step failed", "error", err)
			}
		}
	}
}
